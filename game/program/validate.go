package program

import (
	"errors"
	"fmt"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
)

// Authoring limits
const (
	MinRepeatCount  = 1
	MaxRepeatCount  = 10
	MaxNestingDepth = 5
)

var (
	ErrEmptyProgram      = errors.New("program has no commands")
	ErrUnknownKind       = errors.New("unknown command type")
	ErrUnknownCondition  = errors.New("unknown condition")
	ErrCommandNotAllowed = errors.New("command not allowed on this level")
	ErrRepeatCount       = errors.New("repeat count out of range")
	ErrTooDeep           = errors.New("nesting too deep")
	ErrTooManyCommands   = errors.New("too many commands")
	ErrMisplacedChildren = errors.New("command cannot have children")
	ErrNilNode           = errors.New("nil command")
)

// Validate checks an authored program against a level's rules: allowed
// command types, repeat bounds, nesting depth and the command budget. All
// problems are reported together. A nil level checks structure only.
func Validate(p Program, level *engine.LevelDescriptor) error {
	if len(p) == 0 {
		return ErrEmptyProgram
	}

	var errs []error
	allow := engine.AllowAll()
	if level != nil {
		allow = level.Allow
	}

	var check func(nodes []*Node, path string)
	check = func(nodes []*Node, path string) {
		for i, n := range nodes {
			at := fmt.Sprintf("%s%d", path, i)
			if n == nil {
				errs = append(errs, fmt.Errorf("%s: %w", at, ErrNilNode))
				continue
			}
			if err := checkNode(n, allow); err != nil {
				errs = append(errs, fmt.Errorf("%s (%s): %w", at, n.Type, err))
			}
			check(n.Body, at+".body.")
			check(n.Then, at+".then.")
			check(n.Else, at+".else.")
		}
	}
	check(p, "")

	if d := p.Depth(); d > MaxNestingDepth {
		errs = append(errs, fmt.Errorf("%w: depth %d exceeds %d", ErrTooDeep, d, MaxNestingDepth))
	}
	if level != nil && level.MaxCommands > 0 {
		if used := p.CountCommands(); used > level.MaxCommands {
			errs = append(errs, fmt.Errorf("%w: %d used, level allows %d", ErrTooManyCommands, used, level.MaxCommands))
		}
	}

	return errors.Join(errs...)
}

func checkNode(n *Node, allow engine.AllowedCommands) error {
	switch n.Type {
	case KindMoveForward:
		if !allow.Move {
			return ErrCommandNotAllowed
		}
	case KindTurnLeft, KindTurnRight:
		if !allow.Turn {
			return ErrCommandNotAllowed
		}
	case KindJump:
		if !allow.Jump {
			return ErrCommandNotAllowed
		}
	case KindInteract:
		if !allow.Interact {
			return ErrCommandNotAllowed
		}
	case KindRepeat:
		if !allow.Repeat {
			return ErrCommandNotAllowed
		}
		if n.Count < MinRepeatCount || n.Count > MaxRepeatCount {
			return fmt.Errorf("%w: %d not in %d..%d", ErrRepeatCount, n.Count, MinRepeatCount, MaxRepeatCount)
		}
		if len(n.Then) > 0 || len(n.Else) > 0 {
			return ErrMisplacedChildren
		}
		return nil
	case KindIf:
		if !allow.If {
			return ErrCommandNotAllowed
		}
		if len(n.Else) > 0 && !allow.Else {
			return fmt.Errorf("%w: else branch", ErrCommandNotAllowed)
		}
		if !n.Condition.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownCondition, n.Condition)
		}
		if len(n.Body) > 0 {
			return ErrMisplacedChildren
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, n.Type)
	}

	if len(n.Body) > 0 || len(n.Then) > 0 || len(n.Else) > 0 {
		return ErrMisplacedChildren
	}
	return nil
}
