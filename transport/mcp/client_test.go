package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wricardo/mcp-training/blockbot/api"
	"github.com/wricardo/mcp-training/blockbot/game/config"
	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/interpreter"
	"github.com/wricardo/mcp-training/blockbot/game/service"
	"github.com/wricardo/mcp-training/blockbot/game/session"
)

var quiet = log.New(io.Discard)

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("Expected result content")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", result.Content[0])
	}
	return text.Text
}

func sampleState() *engine.GameState {
	return &engine.GameState{
		LevelID: "tutorial",
		Width:   3,
		Height:  2,
		Grid:    []string{"..G", ".#."},
		Robot: engine.RobotSnapshot{
			Position:    engine.Position{X: 0, Y: 0},
			Orientation: engine.East,
		},
		TotalMoves: 2,
		Message:    "Ready",
	}
}

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080/"
	client := NewClient(baseURL)

	if client == nil {
		t.Fatal("Expected client to be created")
	}
	if client.baseURL != "http://localhost:8080" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.httpClient == nil {
		t.Error("Expected HTTP client to be initialized")
	}
	if client.GetMCPServer() == nil {
		t.Error("Expected MCP server to be initialized")
	}
}

func TestClient_apiCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{"echo": body["level_id"]})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	var result map[string]string
	if err := client.apiCall(context.Background(), "POST", "/x", map[string]string{"level_id": "corridor"}, &result); err != nil {
		t.Fatalf("apiCall failed: %v", err)
	}
	if result["echo"] != "corridor" {
		t.Errorf("Expected echo corridor, got %q", result["echo"])
	}
}

func TestClient_apiCall_Error(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")
	if err := client.apiCall(context.Background(), "GET", "/api/sessions", nil, nil); err == nil {
		t.Error("Expected connection error")
	}
}

func TestClient_apiCall_HTTPError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"error field", `{"error":"session not found"}`, "session not found"},
		{"no error field", `{}`, "API error: 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := NewClient(server.URL).apiCall(context.Background(), "GET", "/", nil, nil)
			if err == nil || err.Error() != tt.expected {
				t.Errorf("Expected error %q, got %v", tt.expected, err)
			}
		})
	}
}

func TestClient_createSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/api/sessions" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(service.SessionInfo{
			ID:        "abc1",
			LevelID:   body["level_id"],
			RunStatus: interpreter.StatusIdle,
			GameState: sampleState(),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, err := client.handleCreateSession(context.Background(), callTool("create_session", map[string]interface{}{"level_id": "corridor"}))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	text := resultText(t, result)
	if !strings.Contains(text, "Created session: abc1") {
		t.Errorf("Expected session id in output, got:\n%s", text)
	}
	if !strings.Contains(text, "Level: corridor") {
		t.Errorf("Expected level in output, got:\n%s", text)
	}
}

func TestClient_runProgramRequest(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sessions/s1/run" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(service.RunResponse{
			RunID:    "r1",
			Status:   interpreter.StatusCompleted,
			Stars:    3,
			Commands: 2,
			Program:  "repeat 4 {\n  forward\n}\n",
			Result:   &interpreter.Result{StepsExecuted: 4, OnGoal: true},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	result, _ := client.handleRunProgram(context.Background(), callTool("run_program", map[string]interface{}{
		"session_id": "s1",
		"source":     "repeat 4 { forward }",
		"reset":      true,
		"intent":     "straight to the goal",
	}))
	text := resultText(t, result)

	if got["source"] != "repeat 4 { forward }" {
		t.Errorf("Expected source forwarded, got %v", got["source"])
	}
	if got["wait"] != true || got["reset"] != true {
		t.Errorf("Expected wait and reset true, got %v", got)
	}
	if got["step_delay_ms"] != float64(0) {
		t.Errorf("Expected step_delay_ms 0 when waiting, got %v", got["step_delay_ms"])
	}
	for _, want := range []string{"Run r1: COMPLETED", "Stars: 3", "Goal reached!"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, text)
		}
	}
}

func TestClient_runProgramValidation(t *testing.T) {
	client := NewClient("http://127.0.0.1:1")

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"no session", map[string]interface{}{"source": "forward"}, "session_id is required"},
		{"no program", map[string]interface{}{"session_id": "s1"}, "provide either source or program"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _ := client.handleRunProgram(context.Background(), callTool("run_program", tt.args))
			if !result.IsError {
				t.Error("Expected error result")
			}
			if text := resultText(t, result); !strings.Contains(text, tt.want) {
				t.Errorf("Expected %q, got %q", tt.want, text)
			}
		})
	}
}

func TestClient_commandHistoryQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("limit") != "5" || q.Get("order") != "asc" {
			t.Errorf("Unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(service.HistoryResponse{
			Commands: []engine.CommandHistoryEntry{
				{Command: "move_forward", FromPosition: engine.Position{X: 0, Y: 0}, ToPosition: engine.Position{X: 1, Y: 0}, Orientation: engine.East, Success: true, MoveNumber: 6},
			},
			TotalCommands: 6, Page: 2, TotalPages: 2,
		})
	}))
	defer server.Close()

	result, _ := NewClient(server.URL).handleCommandHistory(context.Background(), callTool("command_history", map[string]interface{}{
		"session_id": "s1", "page": float64(2), "limit": float64(5), "order": "asc",
	}))
	text := resultText(t, result)
	if !strings.Contains(text, "6. move_forward (0,0) -> (1,0) facing east (ok)") {
		t.Errorf("Unexpected history output:\n%s", text)
	}
}

func TestFormatGameState(t *testing.T) {
	text := formatGameState(sampleState())

	lines := strings.Split(text, "\n")
	var grid []string
	for _, l := range lines {
		if len(l) == 3 {
			grid = append(grid, l)
		}
	}
	if len(grid) != 2 || grid[0] != "..G" || grid[1] != ">#." {
		t.Errorf("Expected robot arrow on the south row, got %v", grid)
	}
	if !strings.Contains(text, "Robot: (0,0) facing east") {
		t.Errorf("Expected robot pose, got:\n%s", text)
	}
	if !strings.Contains(text, "Message: Ready") {
		t.Errorf("Expected message, got:\n%s", text)
	}
	if formatGameState(nil) != "No game state available" {
		t.Error("Expected placeholder for nil state")
	}
}

func TestFormatGameState_OnGoal(t *testing.T) {
	state := sampleState()
	state.Robot.Position = engine.Position{X: 2, Y: 1}
	state.Robot.Orientation = engine.North
	state.Robot.OnGoal = true

	text := formatGameState(state)
	if !strings.Contains(text, "ON GOAL") {
		t.Errorf("Expected ON GOAL marker, got:\n%s", text)
	}
	if !strings.Contains(text, "..^\n") {
		t.Errorf("Expected north arrow on the goal, got:\n%s", text)
	}
}

func TestFormatHint(t *testing.T) {
	if got := formatHint(&service.HintResult{}); !strings.Contains(got, "No goal is reachable") {
		t.Errorf("Unexpected unreachable hint: %s", got)
	}

	goal := engine.Position{X: 2, Y: 0}
	got := formatHint(&service.HintResult{
		Reachable: true,
		Goal:      &goal,
		Distance:  2,
		Commands:  []string{"move_forward", "move_forward"},
		Program:   "forward\nforward\n",
	})
	if !strings.Contains(got, "Nearest goal: (2,0), 2 cells away") {
		t.Errorf("Unexpected hint: %s", got)
	}
}

func TestFormatStats(t *testing.T) {
	played := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := formatStats(&service.LevelStats{LevelID: "tutorial", Runs: 3, Completed: 2, Failed: 1, BestStars: 3, FewestCommands: 5, LastPlayed: &played})
	for _, want := range []string{"Runs: 3 (completed 2, failed 1, cancelled 0)", "Fewest commands to a goal: 5", "2026-01-02 03:04:05"} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected %q in:\n%s", want, got)
		}
	}
}

func TestClient_handleGameInstructions(t *testing.T) {
	client := NewClient("http://localhost:8080")
	result, err := client.handleGameInstructions(context.Background(), callTool("game_instructions", nil))
	if err != nil {
		t.Fatalf("Handler returned error: %v", err)
	}
	text := resultText(t, result)
	for _, want := range []string{"OBJECTIVE", "COMMANDS", "repeat N", "path_ahead", "STRATEGY"} {
		if !strings.Contains(text, want) {
			t.Errorf("Instructions missing %q", want)
		}
	}
}

func TestClient_Integration(t *testing.T) {
	levels, err := config.NewManager("../../levels", quiet)
	if err != nil {
		t.Fatalf("Failed to load levels: %v", err)
	}
	svc := service.NewGameService(session.NewManager(interpreter.Options{Logger: quiet}), levels, service.WithLogger(quiet))
	defer svc.Shutdown(context.Background())

	httpServer := httptest.NewServer(api.NewServer(svc, nil, quiet))
	defer httpServer.Close()

	client := NewClient(httpServer.URL)
	ctx := context.Background()

	created, _ := client.handleCreateSession(ctx, callTool("create_session", map[string]interface{}{"level_id": "tutorial"}))
	text := resultText(t, created)
	if created.IsError {
		t.Fatalf("create_session failed: %s", text)
	}
	sessionID := strings.TrimSpace(strings.SplitN(strings.TrimPrefix(text, "Created session: "), "\n", 2)[0])

	t.Run("describe start cell", func(t *testing.T) {
		result, _ := client.handleDescribeCell(ctx, callTool("describe_cell", map[string]interface{}{"session_id": sessionID, "x": float64(0), "y": float64(0)}))
		text := resultText(t, result)
		if !strings.Contains(text, "The robot is here, facing east") {
			t.Errorf("Unexpected cell description:\n%s", text)
		}
	})

	t.Run("describe goal and out of bounds", func(t *testing.T) {
		result, _ := client.handleDescribeCell(ctx, callTool("describe_cell", map[string]interface{}{"session_id": sessionID, "x": float64(4), "y": float64(4)}))
		if text := resultText(t, result); !strings.Contains(text, "Type: goal") {
			t.Errorf("Expected goal at (4,4):\n%s", text)
		}
		result, _ = client.handleDescribeCell(ctx, callTool("describe_cell", map[string]interface{}{"session_id": sessionID, "x": float64(9), "y": float64(0)}))
		if !result.IsError {
			t.Error("Expected out of bounds error")
		}
	})

	t.Run("hint then run", func(t *testing.T) {
		result, _ := client.handleHint(ctx, callTool("hint", map[string]interface{}{"session_id": sessionID}))
		if text := resultText(t, result); !strings.Contains(text, "8 cells away") {
			t.Errorf("Unexpected hint:\n%s", text)
		}

		result, _ = client.handleRunProgram(ctx, callTool("run_program", map[string]interface{}{
			"session_id": sessionID,
			"source":     "repeat 4 { forward } left repeat 4 { forward }",
			"reset":      true,
			"intent":     "along the south edge then up the east column",
		}))
		text := resultText(t, result)
		if result.IsError || !strings.Contains(text, "COMPLETED") || !strings.Contains(text, "Stars: 3") {
			t.Errorf("Expected completed 3 star run:\n%s", text)
		}
	})

	t.Run("illegal step", func(t *testing.T) {
		result, _ := client.handleStep(ctx, callTool("step", map[string]interface{}{"session_id": sessionID, "command": "forward"}))
		if text := resultText(t, result); !strings.Contains(text, "BLOCKED") {
			t.Errorf("Expected blocked step at the north edge:\n%s", text)
		}
	})

	t.Run("stats", func(t *testing.T) {
		result, _ := client.handleLevelStats(ctx, callTool("level_stats", map[string]interface{}{"level_id": "tutorial"}))
		if text := resultText(t, result); result.IsError || !strings.Contains(text, "Runs: 0") {
			t.Errorf("Expected empty stats without a run store:\n%s", text)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		result, _ := client.handleGameState(ctx, callTool("game_state", map[string]interface{}{"session_id": "nope"}))
		if !result.IsError {
			t.Error("Expected error for unknown session")
		}
	})
}
