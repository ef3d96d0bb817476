// Command validate checks level files. It runs:
//   - the level JSON Schema (JSON and YAML files alike)
//   - grid consistency, start cell and command budget checks
//   - connectivity: every goal must be reachable from the start
//   - a budget check: without repeat blocks, the shortest route must fit max_commands
//
// Arguments are files or directories; the default is ../levels.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/blockbot/game/config"
	"github.com/wricardo/mcp-training/blockbot/game/engine"
)

// ValidationResult captures the outcome of validating a single file.
// Errors explain why a file is invalid; Info summarizes a valid one.
type ValidationResult struct {
	File   string
	Valid  bool
	Errors []string
	Info   []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// validateLevel loads and validates a single level file
func validateLevel(schema *config.SchemaValidator, filePath string) ValidationResult {
	result := ValidationResult{
		File:  filepath.Base(filePath),
		Valid: true,
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	if err := schema.Validate(filePath, data); err != nil {
		result.fail("Schema: %v", err)
		return result
	}

	level, err := engine.DecodeLevel(filePath, data)
	if err != nil {
		result.fail("Invalid level: %v", err)
		return result
	}

	if len(level.Layout) != level.Height {
		result.fail("Layout has %d rows, height is %d", len(level.Layout), level.Height)
	}
	for i, row := range level.Layout {
		if len(row) != level.Width {
			result.fail("Inconsistent grid width at row %d: expected %d, got %d", i+1, level.Width, len(row))
		}
	}
	if !result.Valid {
		return result
	}

	if err := engine.ValidateLevel(level); err != nil {
		result.fail("%v", err)
		return result
	}

	connectivity := validateConnectivity(level)
	if !connectivity.Valid {
		result.Valid = false
		result.Errors = append(result.Errors, connectivity.Errors...)
		return result
	}

	result.Info = append(result.Info,
		fmt.Sprintf("✓ Name: %s", level.Name),
		fmt.Sprintf("✓ Grid: %dx%d", level.Width, level.Height),
		fmt.Sprintf("✓ Start: %s facing %s", level.Start, level.StartOrientation),
		fmt.Sprintf("✓ Commands: optimal %d, max %d", level.OptimalCommands, level.MaxCommands),
	)
	result.Info = append(result.Info, connectivity.Info...)
	return result
}

// validateConnectivity ensures every goal is reachable from the start and,
// when repeat blocks are disabled, that the shortest route fits the command
// budget.
func validateConnectivity(level *engine.LevelDescriptor) ValidationResult {
	result := ValidationResult{Valid: true}

	world, err := engine.NewGridWorld(level)
	if err != nil {
		result.fail("Cannot validate connectivity: %v", err)
		return result
	}

	goals := world.Goals()
	if len(goals) == 0 {
		result.fail("No goals found for connectivity test")
		return result
	}

	var unreachable []string
	for _, g := range goals {
		if _, ok := engine.FindPath(world, level.Start, g); !ok {
			unreachable = append(unreachable, fmt.Sprintf("Goal at %s", g))
		}
	}
	if len(unreachable) > 0 {
		result.fail("Connectivity failure: %d/%d goals unreachable from start", len(unreachable), len(goals))
		for _, g := range unreachable {
			result.fail("Unreachable: %s", g)
		}
		return result
	}
	result.Info = append(result.Info, fmt.Sprintf("✓ Connectivity: All %d goals reachable from start", len(goals)))

	path, _ := engine.NearestGoalPath(world, level.Start)
	route := engine.PathToCommands(path, level.StartOrientation)
	if level.MaxCommands > 0 && !level.Allow.Repeat && len(route) > level.MaxCommands {
		result.fail("Shortest route needs %d commands without repeat, max_commands is %d", len(route), level.MaxCommands)
		return result
	}
	result.Info = append(result.Info, fmt.Sprintf("✓ Shortest route: %d primitive commands", len(route)))

	return result
}

// collectFiles expands directories into their level files
func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(p, pattern))
			if err != nil {
				return nil, err
			}
			files = append(files, matches...)
		}
	}
	sort.Strings(files)
	return files, nil
}

// report prints one block per result and returns whether all were valid
func report(w io.Writer, results []ValidationResult) bool {
	allValid := true
	for _, result := range results {
		fmt.Fprintf(w, "\n%s %s\n", strings.Repeat("=", 20), result.File)

		if result.Valid {
			fmt.Fprintln(w, "✅ VALID")
			for _, info := range result.Info {
				fmt.Fprintln(w, "  "+info)
			}
		} else {
			fmt.Fprintln(w, "❌ INVALID")
			allValid = false
			for _, err := range result.Errors {
				fmt.Fprintln(w, "  ❌ "+err)
			}
		}
	}

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Fprintln(w, "✅ All levels are valid!")
	} else {
		fmt.Fprintln(w, "❌ Some levels have errors")
	}
	return allValid
}

func run(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		paths = []string{"../levels"}
	}

	files, err := collectFiles(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return cli.Exit("no level files found", 1)
	}

	schema, err := config.NewSchemaValidator()
	if err != nil {
		return err
	}

	results := make([]ValidationResult, 0, len(files))
	for _, f := range files {
		results = append(results, validateLevel(schema, f))
	}

	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}
	if !report(out, results) {
		return cli.Exit("", 1)
	}
	return nil
}

// main validates the given level files and directories, exiting non-zero
// when any are invalid.
func main() {
	cmd := &cli.Command{
		Name:      "validate",
		Usage:     "check level files",
		ArgsUsage: "[file or directory...]",
		Action:    run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
