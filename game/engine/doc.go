// Package engine provides the grid world and robot model for blockbot levels.
//
// A GridWorld is the immutable tile grid of a level: dimensions, tile
// classification and the goal set. Out-of-bounds coordinates read as Wall,
// so edge checks are ordinary wall checks. A RobotState owns the mutable
// pose inside one GridWorld and exposes the motion primitives (move, turn,
// jump, interact) and the sensors used by conditional blocks.
//
// Coordinates put (0,0) in the south-west corner with y increasing to the
// north. Level layouts are written north row first.
//
// Usage:
//
//	level, err := engine.LoadLevel("levels/corridor.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	gameEngine, err := engine.NewEngine(level)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ok, err := gameEngine.Execute(engine.CmdMoveForward)
//	state := gameEngine.GetState()
//
// GameEngine wraps a level, its world and its robot for a single session,
// recording manually stepped commands in a history. Program execution lives
// in the interpreter package and drives the same RobotState.
package engine
