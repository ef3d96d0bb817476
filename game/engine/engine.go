package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Primitive command names shared by the engine, programs and transports
const (
	CmdMoveForward = "move_forward"
	CmdTurnLeft    = "turn_left"
	CmdTurnRight   = "turn_right"
	CmdJump        = "jump"
	CmdInteract    = "interact"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrRobotBusy      = errors.New("robot is executing a program")
)

// ApplyPrimitive invokes the robot operation named by command
func ApplyPrimitive(r *RobotState, command string) (bool, error) {
	switch command {
	case CmdMoveForward:
		return r.MoveForward(), nil
	case CmdTurnLeft:
		return r.TurnLeft(), nil
	case CmdTurnRight:
		return r.TurnRight(), nil
	case CmdJump:
		return r.Jump(), nil
	case CmdInteract:
		return r.Interact(), nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}
}

// Engine provides the main interface for level session operations
type Engine interface {
	// State management
	GetState() *GameState
	Reset() *GameState
	IsOnGoal() bool
	GetRobotPosition() Position

	// Manual stepping
	Execute(command string) (bool, error)
	CanMoveForward() bool

	// Level
	GetLevel() *LevelDescriptor
	GetWorld() *GridWorld
	GetRobot() *RobotState

	// History
	GetHistory() []CommandHistoryEntry
	GetLastCommand() *CommandHistoryEntry
	AddToHistory(command string, from, to Position, success bool)
}

// GameEngine implements the Engine interface for one loaded level
type GameEngine struct {
	mu      sync.RWMutex
	level   *LevelDescriptor
	world   *GridWorld
	robot   *RobotState
	message string
	history []CommandHistoryEntry
}

// NewEngine creates a new engine with the provided level
func NewEngine(level *LevelDescriptor) (*GameEngine, error) {
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}

	world, err := NewGridWorld(level)
	if err != nil {
		return nil, err
	}
	robot, err := NewRobotState(world, level.Start, level.StartOrientation)
	if err != nil {
		return nil, err
	}

	return &GameEngine{
		level:   level,
		world:   world,
		robot:   robot,
		message: fmt.Sprintf("Level %s loaded. Reach a goal!", level.Name),
		history: []CommandHistoryEntry{},
	}, nil
}

// NewEngineWithDefaults creates an engine on the built-in tutorial level
func NewEngineWithDefaults() *GameEngine {
	e, err := NewEngine(DefaultLevel())
	if err != nil {
		panic(fmt.Sprintf("default level is invalid: %v", err))
	}
	return e
}

// GetState returns a snapshot of the session state
func (e *GameEngine) GetState() *GameState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	history := make([]CommandHistoryEntry, len(e.history))
	copy(history, e.history)

	return &GameState{
		LevelID:      e.level.ID,
		Width:        e.world.Width(),
		Height:       e.world.Height(),
		Grid:         e.world.Rows(),
		Goals:        e.world.Goals(),
		Robot:        e.robot.Snapshot(),
		Message:      e.message,
		TotalMoves:   len(e.history),
		History:      history,
		LocalView:    e.robot.GenerateLocalView(),
		LocalView3x3: e.localView3x3(),
	}
}

// Reset returns the robot to its start pose and clears the history
func (e *GameEngine) Reset() *GameState {
	e.robot.ResetToStart()

	e.mu.Lock()
	e.history = []CommandHistoryEntry{}
	e.message = "Robot reset to start"
	e.mu.Unlock()

	return e.GetState()
}

// SetState restores the robot pose, history and message from a snapshot
// taken by GetState on the same level
func (e *GameEngine) SetState(state *GameState) error {
	if state == nil {
		return fmt.Errorf("state is nil")
	}
	if state.LevelID != "" && state.LevelID != e.level.ID {
		return fmt.Errorf("state belongs to level %q, engine has %q", state.LevelID, e.level.ID)
	}
	if !e.robot.BeginRun() {
		return ErrRobotBusy
	}
	err := e.robot.Restore(state.Robot.Position, state.Robot.Orientation)
	e.robot.EndRun()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append([]CommandHistoryEntry{}, state.History...)
	if state.Message != "" {
		e.message = state.Message
	}
	return nil
}

// IsOnGoal reports whether the robot stands on a goal
func (e *GameEngine) IsOnGoal() bool {
	return e.robot.IsOnGoal()
}

// GetRobotPosition returns the current robot position
func (e *GameEngine) GetRobotPosition() Position {
	return e.robot.Position()
}

// Execute applies one primitive outside of a program run
func (e *GameEngine) Execute(command string) (bool, error) {
	if !e.robot.BeginRun() {
		return false, ErrRobotBusy
	}
	defer e.robot.EndRun()

	from := e.robot.Position()
	success, err := ApplyPrimitive(e.robot, command)
	if err != nil {
		return false, err
	}
	to := e.robot.Position()
	e.AddToHistory(command, from, to, success)

	e.mu.Lock()
	switch {
	case !success:
		ahead := from.Step(e.robot.Orientation())
		e.message = fmt.Sprintf("Can't %s: %s at %s", command, e.world.TileAt(ahead.X, ahead.Y), ahead)
	case e.world.IsGoal(to.X, to.Y):
		e.message = fmt.Sprintf("Goal reached at %s!", to)
	default:
		e.message = fmt.Sprintf("%s ok, now at %s facing %s", command, to, e.robot.Orientation())
	}
	e.mu.Unlock()

	return success, nil
}

// CanMoveForward reports whether a forward move would succeed now
func (e *GameEngine) CanMoveForward() bool {
	return e.robot.IsPathAhead()
}

// GetLevel returns the level descriptor
func (e *GameEngine) GetLevel() *LevelDescriptor {
	return e.level
}

// GetWorld returns the level grid
func (e *GameEngine) GetWorld() *GridWorld {
	return e.world
}

// GetRobot returns the robot owned by this engine
func (e *GameEngine) GetRobot() *RobotState {
	return e.robot
}

// SetMessage replaces the status message shown with the state
func (e *GameEngine) SetMessage(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.message = msg
}

// GetHistory returns the command history
func (e *GameEngine) GetHistory() []CommandHistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]CommandHistoryEntry, len(e.history))
	copy(out, e.history)
	return out
}

// GetLastCommand returns the last command applied, or nil if none
func (e *GameEngine) GetLastCommand() *CommandHistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.history) == 0 {
		return nil
	}
	last := e.history[len(e.history)-1]
	return &last
}

// AddToHistory appends one primitive execution to the history
func (e *GameEngine) AddToHistory(command string, from, to Position, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, CommandHistoryEntry{
		Command:      command,
		FromPosition: from,
		ToPosition:   to,
		Orientation:  e.robot.Orientation(),
		Timestamp:    time.Now().Unix(),
		Success:      success,
		MoveNumber:   len(e.history) + 1,
	})
}

// localView3x3 renders the 3x3 neighbourhood, north row first, with the
// robot drawn as R
func (e *GameEngine) localView3x3() []string {
	pos := e.robot.Position()
	rows := make([]string, 0, 3)
	for dy := 1; dy >= -1; dy-- {
		line := make([]rune, 0, 3)
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				line = append(line, 'R')
				continue
			}
			line = append(line, e.world.TileAt(pos.X+dx, pos.Y+dy).Char())
		}
		rows = append(rows, string(line))
	}
	return rows
}
