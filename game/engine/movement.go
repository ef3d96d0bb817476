package engine

import (
	"fmt"
	"sync"
)

// RobotState is the robot's mutable pose inside a GridWorld.
// Motion operations report success as a bool; an illegal move leaves the
// pose untouched. The mutex only guards concurrent snapshot readers.
type RobotState struct {
	mu               sync.RWMutex
	world            *GridWorld
	position         Position
	orientation      Orientation
	startPosition    Position
	startOrientation Orientation
	running          bool
}

// NewRobotState places a robot in the world and captures the reset target
func NewRobotState(world *GridWorld, start Position, orientation Orientation) (*RobotState, error) {
	if world == nil {
		return nil, fmt.Errorf("robot requires a grid world")
	}
	r := &RobotState{world: world}
	if err := r.Initialize(start, orientation); err != nil {
		return nil, err
	}
	return r, nil
}

// Initialize resets the pose to the given start values and records them
// as the reset target
func (r *RobotState) Initialize(start Position, orientation Orientation) error {
	if !orientation.Valid() {
		return fmt.Errorf("%w: got %d", ErrOrientation, int(orientation))
	}
	if !r.world.IsWalkable(start.X, start.Y) {
		return fmt.Errorf("%w: %s is %s", ErrBadStart, start, r.world.TileAt(start.X, start.Y))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.startPosition = start
	r.startOrientation = orientation
	r.position = start
	r.orientation = orientation
	return nil
}

// World returns the grid the robot lives in
func (r *RobotState) World() *GridWorld {
	return r.world
}

// Position returns the current cell
func (r *RobotState) Position() Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position
}

// Orientation returns the current heading
func (r *RobotState) Orientation() Orientation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orientation
}

// forwardCell returns the cell directly ahead of the robot
func (r *RobotState) forwardCell() Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position.Step(r.orientation)
}

// MoveForward advances one cell if the cell ahead is walkable
func (r *RobotState) MoveForward() bool {
	return r.advance()
}

// Jump has the same reach and legality rule as MoveForward. It does not
// skip over an obstacle; only its presentation differs.
func (r *RobotState) Jump() bool {
	return r.advance()
}

func (r *RobotState) advance() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.position.Step(r.orientation)
	if !r.world.IsWalkable(next.X, next.Y) {
		return false
	}
	r.position = next
	return true
}

// TurnLeft rotates the heading by -90 degrees
func (r *RobotState) TurnLeft() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orientation = r.orientation.Left()
	return true
}

// TurnRight rotates the heading by +90 degrees
func (r *RobotState) TurnRight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orientation = r.orientation.Right()
	return true
}

// Interact always succeeds and does not change any tile
func (r *RobotState) Interact() bool {
	return true
}

// ResetToStart restores the captured start pose
func (r *RobotState) ResetToStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = r.startPosition
	r.orientation = r.startOrientation
}

// Restore sets the pose directly, used when loading a persisted session
func (r *RobotState) Restore(pos Position, orientation Orientation) error {
	if !orientation.Valid() {
		return fmt.Errorf("%w: got %d", ErrOrientation, int(orientation))
	}
	if !r.world.IsWalkable(pos.X, pos.Y) {
		return fmt.Errorf("cannot restore robot to %s: cell is %s", pos, r.world.TileAt(pos.X, pos.Y))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.position = pos
	r.orientation = orientation
	return nil
}

// IsPathAhead reports whether the cell ahead is walkable
func (r *RobotState) IsPathAhead() bool {
	ahead := r.forwardCell()
	return r.world.IsWalkable(ahead.X, ahead.Y)
}

// IsWallAhead is the negation of IsPathAhead; pits and the grid edge count
// as walls
func (r *RobotState) IsWallAhead() bool {
	return !r.IsPathAhead()
}

// IsOnGoal reports whether the current cell is in the goal set
func (r *RobotState) IsOnGoal() bool {
	pos := r.Position()
	return r.world.IsGoal(pos.X, pos.Y)
}

// IsItemNearby reports whether any orthogonal neighbour holds a Button or Key
func (r *RobotState) IsItemNearby() bool {
	pos := r.Position()
	for o := North; o <= West; o++ {
		n := pos.Step(o)
		switch r.world.TileAt(n.X, n.Y) {
		case Button, Key:
			return true
		}
	}
	return false
}

// BeginRun claims the robot for a program run. It returns false when a run
// already owns the robot.
func (r *RobotState) BeginRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

// EndRun releases the claim taken by BeginRun
func (r *RobotState) EndRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

// IsRunning reports whether a program run owns the robot
func (r *RobotState) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Snapshot returns an immutable copy of the observable state
func (r *RobotState) Snapshot() RobotSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RobotSnapshot{
		Position:         r.position,
		Orientation:      r.orientation,
		StartPosition:    r.startPosition,
		StartOrientation: r.startOrientation,
		OnGoal:           r.world.IsGoal(r.position.X, r.position.Y),
		Running:          r.running,
	}
}

// GenerateLocalView lists the 8 cells surrounding the robot, north first,
// clockwise. Out-of-bounds cells read as walls.
func (r *RobotState) GenerateLocalView() []SurroundingCell {
	pos := r.Position()

	directions := []struct{ dx, dy int }{
		{0, 1},   // North
		{1, 1},   // North-East
		{1, 0},   // East
		{1, -1},  // South-East
		{0, -1},  // South
		{-1, -1}, // South-West
		{-1, 0},  // West
		{-1, 1},  // North-West
	}

	surroundings := make([]SurroundingCell, len(directions))
	for i, dir := range directions {
		x, y := pos.X+dir.dx, pos.Y+dir.dy
		surroundings[i] = SurroundingCell{X: x, Y: y, Tile: r.world.TileAt(x, y)}
	}
	return surroundings
}
