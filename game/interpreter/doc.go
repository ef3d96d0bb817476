// Package interpreter executes block programs against a robot.
//
// A run walks the program tree depth-first without flattening it. Each
// primitive is applied to the robot; the first illegal move fails the whole
// run. Repeat bodies run Count times and If conditions are evaluated fresh
// each time the node is reached.
//
// Runs move through Idle, Running and Paused to one of Completed, Failed or
// Cancelled. The walk yields before every primitive (pause and stop take
// effect there) and after it for the step delay and the optional Animator.
// Two ceilings bound every run: MaxExecutionSteps on primitives and
// MaxLoopIterations on Repeat passes.
package interpreter
