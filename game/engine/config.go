package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidateLevel validates a level descriptor for correctness and playability
func ValidateLevel(level *LevelDescriptor) error {
	if level == nil {
		return ErrNilLevel
	}

	// Validate required fields
	if level.ID == "" {
		return fmt.Errorf("level validation: id is required")
	}
	if level.Name == "" {
		return fmt.Errorf("level validation: name is required")
	}

	// Validate grid size
	if level.Width < MinGridSize || level.Width > MaxGridSize {
		return fmt.Errorf("level validation: width must be between %d and %d, got %d", MinGridSize, MaxGridSize, level.Width)
	}
	if level.Height < MinGridSize || level.Height > MaxGridSize {
		return fmt.Errorf("level validation: height must be between %d and %d, got %d", MinGridSize, MaxGridSize, level.Height)
	}

	world, err := NewGridWorld(level)
	if err != nil {
		return fmt.Errorf("level validation: %w", err)
	}

	if !level.StartOrientation.Valid() {
		return fmt.Errorf("level validation: %w: got %d", ErrOrientation, int(level.StartOrientation))
	}
	if !world.IsWalkable(level.Start.X, level.Start.Y) {
		return fmt.Errorf("level validation: %w: %s is %s", ErrBadStart, level.Start, world.TileAt(level.Start.X, level.Start.Y))
	}

	goals := world.Goals()
	if len(goals) == 0 {
		return fmt.Errorf("level validation: %w", ErrNoGoals)
	}
	for _, g := range goals {
		if !world.IsWalkable(g.X, g.Y) {
			return fmt.Errorf("level validation: goal %s is on an impassable %s tile", g, world.TileAt(g.X, g.Y))
		}
	}

	// Validate command budget
	if level.OptimalCommands < 1 {
		return fmt.Errorf("level validation: optimal_commands must be at least 1, got %d", level.OptimalCommands)
	}
	if level.MaxCommands < 0 {
		return fmt.Errorf("level validation: max_commands cannot be negative, got %d", level.MaxCommands)
	}
	if level.MaxCommands > 0 && level.MaxCommands < level.OptimalCommands {
		return fmt.Errorf("level validation: max_commands (%d) is below optimal_commands (%d)", level.MaxCommands, level.OptimalCommands)
	}
	if !level.Allow.Move && !level.Allow.Jump {
		return fmt.Errorf("level validation: at least one of allow.move or allow.jump must be enabled")
	}

	// Validate winnability - at least one goal must be reachable from start
	if _, ok := NearestGoalPath(world, level.Start); !ok {
		return fmt.Errorf("level validation: no goal is reachable from start %s", level.Start)
	}

	return nil
}

// DecodeLevel parses level data, choosing YAML or JSON by file extension
func DecodeLevel(filename string, data []byte) (*LevelDescriptor, error) {
	var level LevelDescriptor
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &level); err != nil {
			return nil, fmt.Errorf("failed to parse level %s: %w", filename, err)
		}
	default:
		if err := json.Unmarshal(data, &level); err != nil {
			return nil, fmt.Errorf("failed to parse level %s: %w", filename, err)
		}
	}
	if level.ID == "" {
		level.ID = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return &level, nil
}

// LoadLevel loads and validates a level file
func LoadLevel(filename string) (*LevelDescriptor, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	level, err := DecodeLevel(filename, data)
	if err != nil {
		return nil, err
	}

	// Validate the loaded level
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}

	return level, nil
}

// DefaultLevel returns the built-in tutorial level
func DefaultLevel() *LevelDescriptor {
	return &LevelDescriptor{
		ID:          "tutorial",
		Name:        "Tutorial",
		Description: "Walk to the goal, turn, and walk again",
		Width:       5,
		Height:      5,
		Layout: []string{
			"....G",
			".###.",
			".#K#.",
			".###.",
			".....",
		},
		Start:            Position{X: 0, Y: 0},
		StartOrientation: East,
		MaxCommands:      10,
		OptimalCommands:  5,
		Allow:            AllowAll(),
	}
}
