package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tile represents the contents of a single grid cell
type Tile int

const (
	Empty Tile = iota
	Wall
	Goal
	Pit
	Button
	Door
	Key
)

const (
	// Validation constants
	MinGridSize         = 1
	MaxGridSize         = 64
	UnreachableDistance = 999999
	WebSocketBufferSize = 256
)

var tileNames = map[Tile]string{
	Empty:  "empty",
	Wall:   "wall",
	Goal:   "goal",
	Pit:    "pit",
	Button: "button",
	Door:   "door",
	Key:    "key",
}

// Layout characters used by level files
var tileChars = map[rune]Tile{
	'.': Empty,
	'#': Wall,
	'G': Goal,
	'O': Pit,
	'B': Button,
	'D': Door,
	'K': Key,
}

// String returns the lowercase tile name
func (t Tile) String() string {
	if name, ok := tileNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tile(%d)", int(t))
}

// Char returns the layout character for the tile
func (t Tile) Char() rune {
	for ch, tile := range tileChars {
		if tile == t {
			return ch
		}
	}
	return '?'
}

// Passable reports whether a robot may stand on the tile.
// Walls and pits are the only impassable tiles.
func (t Tile) Passable() bool {
	return t != Wall && t != Pit
}

// MarshalJSON encodes the tile by name
func (t Tile) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tile from its name
func (t *Tile) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	tile, ok := ParseTile(name)
	if !ok {
		return fmt.Errorf("unknown tile %q", name)
	}
	*t = tile
	return nil
}

// ParseTile resolves a tile name (case-insensitive)
func ParseTile(name string) (Tile, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for tile, n := range tileNames {
		if n == name {
			return tile, true
		}
	}
	return Empty, false
}

// TileFromChar resolves a layout character
func TileFromChar(ch rune) (Tile, bool) {
	tile, ok := tileChars[ch]
	return tile, ok
}

// Orientation is the robot heading, encoded 0=North,1=East,2=South,3=West
type Orientation int

const (
	North Orientation = iota
	East
	South
	West
)

var orientationNames = [...]string{"north", "east", "south", "west"}

// String returns the lowercase heading name
func (o Orientation) String() string {
	if o.Valid() {
		return orientationNames[o]
	}
	return fmt.Sprintf("orientation(%d)", int(o))
}

// Valid reports whether o is one of the four headings
func (o Orientation) Valid() bool {
	return o >= North && o <= West
}

// Left returns the heading rotated -90 degrees
func (o Orientation) Left() Orientation {
	return (o + 3) % 4
}

// Right returns the heading rotated +90 degrees
func (o Orientation) Right() Orientation {
	return (o + 1) % 4
}

// Vector returns the unit step for the heading. North is +y, East is +x.
func (o Orientation) Vector() (dx, dy int) {
	switch o {
	case North:
		return 0, 1
	case East:
		return 1, 0
	case South:
		return 0, -1
	case West:
		return -1, 0
	}
	return 0, 0
}

// Position represents x,y coordinates
type Position struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Step returns the neighbouring position in the given heading
func (p Position) Step(o Orientation) Position {
	dx, dy := o.Vector()
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// String formats the position as (x,y)
func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// AllowedCommands carries the per-level availability flags
type AllowedCommands struct {
	Move     bool `json:"move" yaml:"move"`
	Turn     bool `json:"turn" yaml:"turn"`
	Jump     bool `json:"jump" yaml:"jump"`
	Interact bool `json:"interact" yaml:"interact"`
	Repeat   bool `json:"repeat" yaml:"repeat"`
	If       bool `json:"if" yaml:"if"`
	Else     bool `json:"else" yaml:"else"`
}

// AllowAll returns flags with every command enabled
func AllowAll() AllowedCommands {
	return AllowedCommands{Move: true, Turn: true, Jump: true, Interact: true, Repeat: true, If: true, Else: true}
}

// LevelDescriptor is the level definition loaded from JSON or YAML
type LevelDescriptor struct {
	ID               string          `json:"id,omitempty" yaml:"id,omitempty"`
	Name             string          `json:"name" yaml:"name"`
	Description      string          `json:"description,omitempty" yaml:"description,omitempty"`
	Width            int             `json:"width" yaml:"width"`
	Height           int             `json:"height" yaml:"height"`
	Layout           []string        `json:"layout" yaml:"layout"`
	Start            Position        `json:"start" yaml:"start"`
	StartOrientation Orientation     `json:"start_orientation" yaml:"start_orientation"`
	Goals            []Position      `json:"goals,omitempty" yaml:"goals,omitempty"`
	MaxCommands      int             `json:"max_commands,omitempty" yaml:"max_commands,omitempty"`
	OptimalCommands  int             `json:"optimal_commands" yaml:"optimal_commands"`
	Allow            AllowedCommands `json:"allow" yaml:"allow"`
}

// RobotSnapshot is an immutable copy of the robot's observable state
type RobotSnapshot struct {
	Position         Position    `json:"position"`
	Orientation      Orientation `json:"orientation"`
	StartPosition    Position    `json:"start_position"`
	StartOrientation Orientation `json:"start_orientation"`
	OnGoal           bool        `json:"on_goal"`
	Running          bool        `json:"running"`
}

// GameState represents the complete observable state of a level session
type GameState struct {
	LevelID      string                `json:"level_id"`
	Width        int                   `json:"width"`
	Height       int                   `json:"height"`
	Grid         []string              `json:"grid"`
	Goals        []Position            `json:"goals"`
	Robot        RobotSnapshot         `json:"robot"`
	Message      string                `json:"message"`
	TotalMoves   int                   `json:"total_moves"`
	History      []CommandHistoryEntry `json:"history"`
	LocalView    []SurroundingCell     `json:"local_view,omitempty"`
	LocalView3x3 []string              `json:"local_view_3x3,omitempty"`
}

// SurroundingCell represents a cell with its absolute position
type SurroundingCell struct {
	X    int  `json:"x"`
	Y    int  `json:"y"`
	Tile Tile `json:"tile"`
}

// CommandHistoryEntry records one primitive applied to the robot
type CommandHistoryEntry struct {
	Command      string      `json:"command"`
	FromPosition Position    `json:"from_position"`
	ToPosition   Position    `json:"to_position"`
	Orientation  Orientation `json:"orientation"`
	Timestamp    int64       `json:"timestamp"`
	Success      bool        `json:"success"`
	MoveNumber   int         `json:"move_number"`
}
