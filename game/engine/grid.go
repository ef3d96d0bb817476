package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNilLevel    = errors.New("level descriptor is nil")
	ErrEmptyGrid   = errors.New("grid has zero width or height")
	ErrBadLayout   = errors.New("layout does not match grid dimensions")
	ErrNoGoals     = errors.New("level has no goal positions")
	ErrBadStart    = errors.New("start position is not walkable")
	ErrOrientation = errors.New("orientation must be between 0 and 3")
)

// GridWorld is the immutable tile grid of a loaded level.
// Tiles are indexed tiles[y][x] with y increasing to the north.
type GridWorld struct {
	width  int
	height int
	tiles  [][]Tile
	goals  map[Position]struct{}
	order  []Position
}

// NewGridWorld builds the grid from a level descriptor.
// Layout row 0 is the northern edge (y = height-1).
func NewGridWorld(level *LevelDescriptor) (*GridWorld, error) {
	if level == nil {
		return nil, ErrNilLevel
	}
	if level.Width < MinGridSize || level.Height < MinGridSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyGrid, level.Width, level.Height)
	}
	if len(level.Layout) != level.Height {
		return nil, fmt.Errorf("%w: expected %d rows, got %d", ErrBadLayout, level.Height, len(level.Layout))
	}

	w := &GridWorld{
		width:  level.Width,
		height: level.Height,
		tiles:  make([][]Tile, level.Height),
		goals:  make(map[Position]struct{}),
	}
	for y := range w.tiles {
		w.tiles[y] = make([]Tile, level.Width)
	}

	for row, line := range level.Layout {
		runes := []rune(line)
		if len(runes) != level.Width {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrBadLayout, row+1, len(runes), level.Width)
		}
		y := level.Height - 1 - row
		for x, ch := range runes {
			tile, ok := TileFromChar(ch)
			if !ok {
				return nil, fmt.Errorf("%w: invalid character '%c' at row %d, col %d", ErrBadLayout, ch, row+1, x+1)
			}
			w.tiles[y][x] = tile
			if tile == Goal {
				w.addGoal(Position{X: x, Y: y})
			}
		}
	}

	for _, g := range level.Goals {
		if !w.InBounds(g.X, g.Y) {
			return nil, fmt.Errorf("goal %s is out of bounds", g)
		}
		w.addGoal(g)
	}

	return w, nil
}

func (w *GridWorld) addGoal(p Position) {
	if _, ok := w.goals[p]; ok {
		return
	}
	w.goals[p] = struct{}{}
	w.order = append(w.order, p)
}

// Width returns the number of columns
func (w *GridWorld) Width() int { return w.width }

// Height returns the number of rows
func (w *GridWorld) Height() int { return w.height }

// InBounds reports whether (x,y) lies inside the grid
func (w *GridWorld) InBounds(x, y int) bool {
	return x >= 0 && x < w.width && y >= 0 && y < w.height
}

// TileAt returns the tile at (x,y). Out-of-bounds coordinates read as Wall
// so boundary checks collapse into ordinary wall collisions.
func (w *GridWorld) TileAt(x, y int) Tile {
	if !w.InBounds(x, y) {
		return Wall
	}
	return w.tiles[y][x]
}

// IsWalkable reports whether (x,y) is in-bounds and neither Wall nor Pit
func (w *GridWorld) IsWalkable(x, y int) bool {
	return w.InBounds(x, y) && w.TileAt(x, y).Passable()
}

// IsGoal reports whether (x,y) is a member of the goal set
func (w *GridWorld) IsGoal(x, y int) bool {
	_, ok := w.goals[Position{X: x, Y: y}]
	return ok
}

// Goals returns the goal positions in declaration order
func (w *GridWorld) Goals() []Position {
	out := make([]Position, len(w.order))
	copy(out, w.order)
	return out
}

// Rows renders the grid back to layout strings, north row first
func (w *GridWorld) Rows() []string {
	rows := make([]string, w.height)
	for row := range rows {
		y := w.height - 1 - row
		line := make([]rune, w.width)
		for x := 0; x < w.width; x++ {
			line[x] = w.tiles[y][x].Char()
		}
		rows[row] = string(line)
	}
	return rows
}

// CountTiles counts the cells holding the given tile
func (w *GridWorld) CountTiles(tile Tile) int {
	count := 0
	for _, row := range w.tiles {
		for _, t := range row {
			if t == tile {
				count++
			}
		}
	}
	return count
}
