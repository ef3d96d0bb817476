// Command analyze prints quick, human-readable heuristics about the level
// files in a directory. It summarizes dimensions, tile counts, goal
// reachability, and how the shortest route compares with the level's
// optimal and maximum command counts.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/blockbot/game/config"
	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/program"
)

// GoalReport describes one goal as seen from the start cell
type GoalReport struct {
	Goal      engine.Position
	Manhattan int
	Distance  int
	Reachable bool
}

// Analysis is the summary printed for one level
type Analysis struct {
	LevelID string
	Name    string
	Width   int
	Height  int
	Walls   int
	Pits    int
	Keys    int
	Goals   []GoalReport

	// Route is the primitive command list to the nearest goal
	Route []string
	// Compressed folds runs of identical commands into repeat blocks
	Compressed program.Program
	Optimal    int
	Max        int
	Warnings   []string
}

// compressRoute folds runs of three or more identical commands into repeat
// blocks of at most program.MaxRepeatCount iterations.
func compressRoute(commands []string, allowRepeat bool) program.Program {
	var out program.Program
	for i := 0; i < len(commands); {
		j := i
		for j < len(commands) && commands[j] == commands[i] {
			j++
		}
		for run := j - i; run > 0; {
			n := run
			if n > program.MaxRepeatCount {
				n = program.MaxRepeatCount
			}
			node := &program.Node{Type: program.Kind(commands[i])}
			if allowRepeat && n >= 3 {
				out = append(out, program.Repeat(n, node))
			} else {
				for k := 0; k < n; k++ {
					out = append(out, &program.Node{Type: node.Type})
				}
			}
			run -= n
		}
		i = j
	}
	return out
}

// analyzeLevel computes the heuristics for one level
func analyzeLevel(level *engine.LevelDescriptor) (*Analysis, error) {
	world, err := engine.NewGridWorld(level)
	if err != nil {
		return nil, err
	}

	a := &Analysis{
		LevelID: level.ID,
		Name:    level.Name,
		Width:   world.Width(),
		Height:  world.Height(),
		Walls:   world.CountTiles(engine.Wall),
		Pits:    world.CountTiles(engine.Pit),
		Keys:    world.CountTiles(engine.Key),
		Optimal: level.OptimalCommands,
		Max:     level.MaxCommands,
	}

	for _, g := range world.Goals() {
		report := GoalReport{Goal: g, Manhattan: engine.ManhattanDistance(level.Start, g)}
		if path, ok := engine.FindPath(world, level.Start, g); ok {
			report.Reachable = true
			report.Distance = len(path) - 1
		} else {
			a.Warnings = append(a.Warnings, fmt.Sprintf("goal %s is unreachable from start", g))
		}
		a.Goals = append(a.Goals, report)
	}

	path, ok := engine.NearestGoalPath(world, level.Start)
	if !ok {
		a.Warnings = append(a.Warnings, "no goal is reachable: level cannot be completed")
		return a, nil
	}

	a.Route = engine.PathToCommands(path, level.StartOrientation)
	a.Compressed = compressRoute(a.Route, level.Allow.Repeat)

	used := a.Compressed.CountCommands()
	if err := program.Validate(a.Compressed, level); err != nil {
		a.Warnings = append(a.Warnings, fmt.Sprintf("shortest route is not a legal program: %v", err))
	}
	if used < a.Optimal {
		a.Warnings = append(a.Warnings, fmt.Sprintf("optimal_commands %d can be beaten with %d", a.Optimal, used))
	}
	return a, nil
}

func printAnalysis(w io.Writer, a *Analysis) {
	fmt.Fprintf(w, "\n=== Analyzing %s ===\n", a.LevelID)
	fmt.Fprintf(w, "Name: %s\n", a.Name)
	fmt.Fprintf(w, "Grid Size: %d x %d\n", a.Width, a.Height)
	fmt.Fprintf(w, "Walls: %d | Pits: %d | Keys: %d\n", a.Walls, a.Pits, a.Keys)

	for _, g := range a.Goals {
		if g.Reachable {
			fmt.Fprintf(w, "Goal %s: %d steps (manhattan %d)\n", g.Goal, g.Distance, g.Manhattan)
		} else {
			fmt.Fprintf(w, "Goal %s: unreachable\n", g.Goal)
		}
	}

	if len(a.Route) > 0 {
		used := a.Compressed.CountCommands()
		fmt.Fprintf(w, "Shortest route: %d primitive commands, %d as blocks\n", len(a.Route), used)
		fmt.Fprintf(w, "Optimal: %d", a.Optimal)
		if a.Max > 0 {
			fmt.Fprintf(w, " | Max: %d", a.Max)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Suggested program:\n%s", indent(program.Format(a.Compressed)))

		if a.Max > 0 && used > a.Max {
			fmt.Fprintf(w, "⚠️  Route needs %d commands but max is %d; conditionals or a detour are required\n", used, a.Max)
		}
	}

	if len(a.Warnings) == 0 {
		fmt.Fprintln(w, "✅ No issues found")
	}
	for _, warning := range a.Warnings {
		fmt.Fprintf(w, "⚠️  %s\n", warning)
	}
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "   " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// analyzeDir analyzes every level in dir in id order
func analyzeDir(w io.Writer, dir string, logger *log.Logger) error {
	levels, err := config.NewManager(dir, logger)
	if err != nil {
		return err
	}
	infos, err := levels.ListLevels()
	if err != nil {
		return err
	}

	for _, info := range infos {
		level, err := levels.LoadLevel(info.LevelID)
		if err != nil {
			fmt.Fprintf(w, "\n=== Analyzing %s ===\nError loading level: %v\n", info.LevelID, err)
			continue
		}
		a, err := analyzeLevel(level)
		if err != nil {
			fmt.Fprintf(w, "\n=== Analyzing %s ===\nError: %v\n", info.LevelID, err)
			continue
		}
		printAnalysis(w, a)
	}
	return nil
}

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: log.WarnLevel})

	cmd := &cli.Command{
		Name:      "analyze",
		Usage:     "print heuristics for level files",
		ArgsUsage: "[levels-dir]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				dir = "levels"
			}
			return analyzeDir(os.Stdout, dir, logger)
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Fatal(err)
	}
}
