package engine

// ManhattanDistance calculates the Manhattan distance between two positions
func ManhattanDistance(from, to Position) int {
	dx := from.X - to.X
	if dx < 0 {
		dx = -dx
	}
	dy := from.Y - to.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// FindPath runs a breadth-first search over walkable cells and returns the
// cell sequence from start to target inclusive. It is a convenience for
// level validation and hints; it ignores orientation and command cost.
func FindPath(world *GridWorld, start, target Position) ([]Position, bool) {
	return bfs(world, start, func(p Position) bool { return p == target })
}

// NearestGoalPath returns the shortest walkable path from start to any goal
func NearestGoalPath(world *GridWorld, start Position) ([]Position, bool) {
	return bfs(world, start, func(p Position) bool { return world.IsGoal(p.X, p.Y) })
}

func bfs(world *GridWorld, start Position, done func(Position) bool) ([]Position, bool) {
	if world == nil || !world.IsWalkable(start.X, start.Y) {
		return nil, false
	}

	prev := map[Position]Position{start: start}
	queue := []Position{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if done(cur) {
			path := []Position{cur}
			for cur != start {
				cur = prev[cur]
				path = append(path, cur)
			}
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, true
		}

		for o := North; o <= West; o++ {
			next := cur.Step(o)
			if _, seen := prev[next]; seen {
				continue
			}
			if !world.IsWalkable(next.X, next.Y) {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}
	return nil, false
}

// PathToCommands converts a cell path into primitive command names for a
// robot starting with the given heading. Each heading change costs one or
// two turns; each cell costs one forward.
func PathToCommands(path []Position, heading Orientation) []string {
	var commands []string
	for i := 1; i < len(path); i++ {
		want := headingBetween(path[i-1], path[i])
		switch (want - heading + 4) % 4 {
		case 1:
			commands = append(commands, CmdTurnRight)
		case 2:
			commands = append(commands, CmdTurnRight, CmdTurnRight)
		case 3:
			commands = append(commands, CmdTurnLeft)
		}
		heading = want
		commands = append(commands, CmdMoveForward)
	}
	return commands
}

func headingBetween(from, to Position) Orientation {
	switch {
	case to.Y > from.Y:
		return North
	case to.X > from.X:
		return East
	case to.Y < from.Y:
		return South
	default:
		return West
	}
}
