package interpreter

import (
	"fmt"
)

// Status is the lifecycle state of an interpreter run
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ValidTransitions lists the allowed next states for every status.
// A finished run may be followed by a new one on the same interpreter.
var ValidTransitions = map[Status][]Status{
	StatusIdle:      {StatusRunning},
	StatusRunning:   {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:    {StatusRunning, StatusCancelled},
	StatusCompleted: {StatusRunning},
	StatusFailed:    {StatusRunning},
	StatusCancelled: {StatusRunning},
}

// Terminal reports whether s ends a run
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether a run owns the robot in this state
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

func isValidTransition(from, to Status) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// transition moves *cur to next or reports the invalid pair. Callers hold
// the interpreter lock.
func transition(cur *Status, next Status) error {
	if !isValidTransition(*cur, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, *cur, next)
	}
	*cur = next
	return nil
}
