package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/blockbot/game/config"
	"github.com/wricardo/mcp-training/blockbot/game/engine"
)

func newSchema(t *testing.T) *config.SchemaValidator {
	t.Helper()
	schema, err := config.NewSchemaValidator()
	if err != nil {
		t.Fatalf("Failed to compile schema: %v", err)
	}
	return schema
}

func writeLevel(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write level: %v", err)
	}
	return path
}

func contains(items []string, substr string) bool {
	for _, s := range items {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestValidateLevel_RepoLevels(t *testing.T) {
	files, err := collectFiles([]string{"../levels"})
	if err != nil {
		t.Fatalf("collectFiles failed: %v", err)
	}
	if len(files) < 4 {
		t.Fatalf("Expected at least 4 level files, got %v", files)
	}

	schema := newSchema(t)
	for _, f := range files {
		result := validateLevel(schema, f)
		if !result.Valid {
			t.Errorf("Expected %s to be valid, got errors: %v", result.File, result.Errors)
		}
		if !contains(result.Info, "Connectivity") {
			t.Errorf("Expected connectivity info for %s, got %v", result.File, result.Info)
		}
	}
}

func TestValidateLevel_YAML(t *testing.T) {
	path := writeLevel(t, "line.yaml", `
name: Line
width: 3
height: 1
layout: ["..G"]
start: {x: 0, y: 0}
start_orientation: 1
optimal_commands: 2
allow: {move: true, repeat: true}
`)

	result := validateLevel(newSchema(t), path)
	if !result.Valid {
		t.Fatalf("Expected valid level, got %v", result.Errors)
	}
	if !contains(result.Info, "Shortest route: 2 primitive commands") {
		t.Errorf("Expected route info, got %v", result.Info)
	}
}

func TestValidateLevel_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "invalid json",
			file:    "bad.json",
			content: `{"name": "Broken",`,
			want:    "Schema:",
		},
		{
			name:    "unknown tile",
			file:    "tile.json",
			content: `{"name":"T","width":3,"height":1,"layout":[".XG"],"optimal_commands":1,"allow":{"move":true}}`,
			want:    "Schema:",
		},
		{
			name:    "unknown field",
			file:    "field.json",
			content: `{"name":"T","width":3,"height":1,"layout":["..G"],"optimal_commands":1,"battery":5}`,
			want:    "Schema:",
		},
		{
			name:    "inconsistent width",
			file:    "width.json",
			content: `{"name":"W","width":3,"height":2,"layout":["..G","."],"optimal_commands":1,"allow":{"move":true}}`,
			want:    "Inconsistent grid width at row 2",
		},
		{
			name:    "row count",
			file:    "rows.json",
			content: `{"name":"R","width":3,"height":2,"layout":["..G"],"optimal_commands":1,"allow":{"move":true}}`,
			want:    "Layout has 1 rows, height is 2",
		},
		{
			name:    "no goal",
			file:    "nogoal.json",
			content: `{"name":"N","width":3,"height":1,"layout":["..."],"optimal_commands":1,"allow":{"move":true}}`,
			want:    "no goal",
		},
		{
			name: "unreachable goal",
			file: "split.json",
			content: `{"name":"S","width":5,"height":3,"layout":["G#..G","##...","....."],
				"start":{"x":2,"y":0},"start_orientation":1,"optimal_commands":4,"allow":{"move":true,"turn":true}}`,
			want: "1/2 goals unreachable",
		},
		{
			name: "route over budget",
			file: "budget.json",
			content: `{"name":"B","width":8,"height":1,"layout":["......G."],
				"start_orientation":1,"max_commands":4,"optimal_commands":3,"allow":{"move":true}}`,
			want: "Shortest route needs 6 commands without repeat",
		},
	}

	schema := newSchema(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateLevel(schema, writeLevel(t, tt.file, tt.content))
			if result.Valid {
				t.Fatal("Expected invalid level")
			}
			if !contains(result.Errors, tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, result.Errors)
			}
		})
	}
}

func TestValidateLevel_MissingFile(t *testing.T) {
	result := validateLevel(newSchema(t), filepath.Join(t.TempDir(), "nope.json"))
	if result.Valid || !contains(result.Errors, "Failed to read file") {
		t.Errorf("Expected read failure, got %+v", result)
	}
}

func TestValidateConnectivity_ValidLayout(t *testing.T) {
	result := validateConnectivity(engine.DefaultLevel())
	if !result.Valid {
		t.Errorf("Expected tutorial to be connected, got %v", result.Errors)
	}
	if !contains(result.Info, "Shortest route: 10 primitive commands") {
		t.Errorf("Expected route info, got %v", result.Info)
	}
}

func TestValidateConnectivity_RepeatLiftsBudget(t *testing.T) {
	level := engine.DefaultLevel()
	level.MaxCommands = 6

	if result := validateConnectivity(level); !result.Valid {
		t.Errorf("Expected repeat to make the budget reachable, got %v", result.Errors)
	}

	level.Allow.Repeat = false
	if result := validateConnectivity(level); result.Valid {
		t.Error("Expected budget failure without repeat")
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	ok := report(&buf, []ValidationResult{
		{File: "a.json", Valid: true, Info: []string{"✓ Name: A"}},
		{File: "b.json", Valid: false, Errors: []string{"Layout has 1 rows, height is 2"}},
	})
	if ok {
		t.Error("Expected report to flag the invalid level")
	}

	out := buf.String()
	for _, want := range []string{"a.json", "✅ VALID", "✓ Name: A", "❌ INVALID", "❌ Layout has 1 rows", "Some levels have errors"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report:\n%s", want, out)
		}
	}
}

func TestRun(t *testing.T) {
	newCmd := func(out io.Writer) *cli.Command {
		return &cli.Command{
			Name:           "validate",
			Action:         run,
			Writer:         out,
			ErrWriter:      io.Discard,
			ExitErrHandler: func(context.Context, *cli.Command, error) {},
		}
	}

	var buf bytes.Buffer
	if err := newCmd(&buf).Run(context.Background(), []string{"validate", "../levels"}); err != nil {
		t.Fatalf("Expected repo levels to validate, got %v\n%s", err, buf.String())
	}
	if !strings.Contains(buf.String(), "All levels are valid") {
		t.Errorf("Unexpected output:\n%s", buf.String())
	}

	bad := writeLevel(t, "bad.json", `{"name":"R","width":3,"height":2,"layout":["..G"],"optimal_commands":1}`)
	if err := newCmd(io.Discard).Run(context.Background(), []string{"validate", bad}); err == nil {
		t.Error("Expected error for invalid level")
	}

	if err := newCmd(io.Discard).Run(context.Background(), []string{"validate", t.TempDir()}); err == nil {
		t.Error("Expected error for a directory without levels")
	}
}
