package engine

import (
	"encoding/json"
	"testing"
)

func TestTileNames(t *testing.T) {
	tests := []struct {
		tile     Tile
		expected string
		char     rune
	}{
		{Empty, "empty", '.'},
		{Wall, "wall", '#'},
		{Goal, "goal", 'G'},
		{Pit, "pit", 'O'},
		{Button, "button", 'B'},
		{Door, "door", 'D'},
		{Key, "key", 'K'},
	}

	for _, test := range tests {
		if test.tile.String() != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, test.tile.String())
		}
		if test.tile.Char() != test.char {
			t.Errorf("%s: expected char %c, got %c", test.expected, test.char, test.tile.Char())
		}
		parsed, ok := ParseTile(test.expected)
		if !ok || parsed != test.tile {
			t.Errorf("ParseTile(%q) = %v, %v", test.expected, parsed, ok)
		}
		fromChar, ok := TileFromChar(test.char)
		if !ok || fromChar != test.tile {
			t.Errorf("TileFromChar(%c) = %v, %v", test.char, fromChar, ok)
		}
	}
}

func TestTilePassable(t *testing.T) {
	impassable := map[Tile]bool{Wall: true, Pit: true}
	for _, tile := range []Tile{Empty, Wall, Goal, Pit, Button, Door, Key} {
		if tile.Passable() == impassable[tile] {
			t.Errorf("%s: Passable() = %v", tile, tile.Passable())
		}
	}
}

func TestTileJSON(t *testing.T) {
	cell := SurroundingCell{X: 1, Y: 2, Tile: Pit}

	data, err := json.Marshal(cell)
	if err != nil {
		t.Fatalf("Failed to marshal cell: %v", err)
	}
	if string(data) != `{"x":1,"y":2,"tile":"pit"}` {
		t.Errorf("Unexpected JSON: %s", data)
	}

	var decoded SurroundingCell
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal cell: %v", err)
	}
	if decoded != cell {
		t.Errorf("Expected %+v, got %+v", cell, decoded)
	}

	if err := json.Unmarshal([]byte(`{"tile":"lava"}`), &decoded); err == nil {
		t.Error("Expected error for unknown tile name")
	}
}

func TestOrientationRotation(t *testing.T) {
	tests := []struct {
		o     Orientation
		left  Orientation
		right Orientation
		dx    int
		dy    int
	}{
		{North, West, East, 0, 1},
		{East, North, South, 1, 0},
		{South, East, West, 0, -1},
		{West, South, North, -1, 0},
	}

	for _, test := range tests {
		if got := test.o.Left(); got != test.left {
			t.Errorf("%s.Left() = %s, expected %s", test.o, got, test.left)
		}
		if got := test.o.Right(); got != test.right {
			t.Errorf("%s.Right() = %s, expected %s", test.o, got, test.right)
		}
		dx, dy := test.o.Vector()
		if dx != test.dx || dy != test.dy {
			t.Errorf("%s.Vector() = (%d,%d), expected (%d,%d)", test.o, dx, dy, test.dx, test.dy)
		}
	}

	if Orientation(4).Valid() || Orientation(-1).Valid() {
		t.Error("Out-of-range orientations must not be valid")
	}
}

func TestPositionStep(t *testing.T) {
	p := Position{X: 3, Y: 3}
	if got := p.Step(North); got != (Position{X: 3, Y: 4}) {
		t.Errorf("Step(North) = %s", got)
	}
	if got := p.Step(West); got != (Position{X: 2, Y: 3}) {
		t.Errorf("Step(West) = %s", got)
	}
	if p.String() != "(3,3)" {
		t.Errorf("Unexpected String(): %s", p.String())
	}
}

func TestLevelDescriptorJSON(t *testing.T) {
	level := DefaultLevel()

	data, err := json.Marshal(level)
	if err != nil {
		t.Fatalf("Failed to marshal level: %v", err)
	}

	var decoded LevelDescriptor
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal level: %v", err)
	}
	if decoded.ID != level.ID || decoded.StartOrientation != East || decoded.OptimalCommands != level.OptimalCommands {
		t.Errorf("Round trip lost fields: %+v", decoded)
	}
	if decoded.Allow != AllowAll() {
		t.Errorf("Expected all commands allowed, got %+v", decoded.Allow)
	}
}
