package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/interpreter"
	"github.com/wricardo/mcp-training/blockbot/game/service"
)

// Client is a thin MCP server that proxies every tool to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// waited runs can take a while on slow levels
			Timeout: 2 * time.Minute,
		},
	}

	c.initMCPServer()
	return c
}

const instructionsSummary = `Blockbot - MCP Interface

This is a thin client that proxies all requests to the REST API server.

OBJECTIVE:
Write a block program that drives the robot (R) from its start cell to a goal (G).
Fewer commands earn more stars.

AVAILABLE TOOLS:
- create_session / list_sessions / get_session: manage sessions
- game_state: grid, robot pose and last message
- run_program: run a program (text or JSON blocks) - requires intent explanation
- run_status / pause_run / resume_run / stop_run: control a background run
- step: execute one command by hand
- reset_robot: move the robot back to its start pose
- hint: shortest route to the nearest goal
- command_history: executed commands, newest first
- list_levels / level_stats: levels and their recorded results
- game_instructions: the full rules
- describe_cell: what occupies one cell

NOTE: The 'intent' parameter on run_program serves as rubber duck debugging - explain your reasoning!`

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Blockbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(instructionsSummary),
	)

	c.registerTools()
}

func sessionArg() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Session ID",
	}
}

func sessionOnly() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: map[string]interface{}{"session_id": sessionArg()},
		Required:   []string{"session_id"},
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Session management
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_session",
		Description: "Create a new session on a level (defaults to the tutorial)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"level_id": map[string]interface{}{
					"type":        "string",
					"description": "Level to play (see list_levels)",
				},
			},
		},
	}, c.handleCreateSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_sessions",
		Description: "List all active sessions",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListSessions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_session",
		Description: "Get details of a specific session",
		InputSchema: sessionOnly(),
	}, c.handleGetSession)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_state",
		Description: "Get the grid, robot position and heading",
		InputSchema: sessionOnly(),
	}, c.handleGameState)

	// Program runs
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "run_program",
		Description: "Run a block program on the session's robot. Give either source (text) or program (JSON blocks).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionArg(),
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Program text, e.g. 'repeat 4 { forward } left if wall_ahead { right } else { forward }'",
				},
				"program": map[string]interface{}{
					"type":        "array",
					"description": "Program as JSON blocks, e.g. [{\"type\":\"repeat\",\"count\":4,\"body\":[{\"type\":\"move_forward\"}]}]",
					"items":       map[string]interface{}{"type": "object"},
				},
				"reset": map[string]interface{}{
					"type":        "boolean",
					"description": "Return the robot to the start before running (recommended)",
				},
				"wait": map[string]interface{}{
					"type":        "boolean",
					"description": "Wait for the run to finish (default true)",
				},
				"step_delay_ms": map[string]interface{}{
					"type":        "number",
					"description": "Pause between commands in milliseconds (default 0 when waiting)",
				},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "Brief explanation of the plan behind this program (serves as a rubber duck to help explain your reasoning)",
				},
			},
			Required: []string{"session_id", "intent"},
		},
	}, c.handleRunProgram)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "run_status",
		Description: "Report the interpreter status and the command being executed",
		InputSchema: sessionOnly(),
	}, c.handleRunStatus)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "pause_run",
		Description: "Pause the running program before its next command",
		InputSchema: sessionOnly(),
	}, c.handlePauseRun)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "resume_run",
		Description: "Resume a paused program",
		InputSchema: sessionOnly(),
	}, c.handleResumeRun)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "stop_run",
		Description: "Cancel the running program. The robot stays where it is.",
		InputSchema: sessionOnly(),
	}, c.handleStopRun)

	// Robot
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "step",
		Description: "Execute a single command outside of a program",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionArg(),
				"command": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"forward", "left", "right", "jump", "interact"},
					"description": "Command to execute",
				},
			},
			Required: []string{"session_id", "command"},
		},
	}, c.handleStep)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "reset_robot",
		Description: "Move the robot back to its start pose and clear the history",
		InputSchema: sessionOnly(),
	}, c.handleReset)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "hint",
		Description: "Shortest route from the robot to the nearest goal, as commands",
		InputSchema: sessionOnly(),
	}, c.handleHint)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "command_history",
		Description: "Get executed commands with pagination",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionArg(),
				"page": map[string]interface{}{
					"type":        "number",
					"description": "Page number (default 1)",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Entries per page (default 20)",
				},
				"order": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"asc", "desc"},
					"description": "Sort order (default desc)",
				},
			},
			Required: []string{"session_id"},
		},
	}, c.handleCommandHistory)

	// Levels
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_levels",
		Description: "List available levels",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListLevels)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "level_stats",
		Description: "Recorded results for a level: runs, completions and best stars",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"level_id": map[string]interface{}{
					"type":        "string",
					"description": "Level ID",
				},
			},
			Required: []string{"level_id"},
		},
	}, c.handleLevelStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "game_instructions",
		Description: "Get the rules, the program language and strategy tips",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleGameInstructions)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "describe_cell",
		Description: "Describe one grid cell. x grows east, y grows north, (0,0) is the south-west corner.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"session_id": sessionArg(),
				"x":          map[string]interface{}{"type": "number", "description": "Column"},
				"y":          map[string]interface{}{"type": "number", "description": "Row, counted from the south edge"},
			},
			Required: []string{"session_id", "x", "y"},
		},
	}, c.handleDescribeCell)
}

// GetMCPServer returns the underlying MCP server
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	if args, ok := request.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

func sessionPath(args map[string]interface{}, suffix string) (string, error) {
	id, _ := args["session_id"].(string)
	if id == "" {
		return "", fmt.Errorf("session_id is required")
	}
	return "/api/sessions/" + url.PathEscape(id) + suffix, nil
}

// Tool handlers

func (c *Client) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)

	body := map[string]string{}
	if levelID, _ := args["level_id"].(string); levelID != "" {
		body["level_id"] = levelID
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "POST", "/api/sessions", body, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText("Created session: " + session.ID + "\n" + formatSessionInfo(&session)), nil
}

func (c *Client) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var response struct {
		Count    int                    `json:"count"`
		Sessions []*service.SessionInfo `json:"sessions"`
	}
	if err := c.apiCall(ctx, "GET", "/api/sessions", nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active sessions: %d\n", response.Count)
	for _, s := range response.Sessions {
		pos := engine.Position{}
		if s.GameState != nil {
			pos = s.GameState.Robot.Position
		}
		fmt.Fprintf(&b, "- %s | level: %s | run: %s | robot at %s\n", s.ID, s.LevelID, s.RunStatus, pos)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var session service.SessionInfo
	if err := c.apiCall(ctx, "GET", path, nil, &session); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatSessionInfo(&session)), nil
}

func (c *Client) handleGameState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var state engine.GameState
	if err := c.apiCall(ctx, "GET", path, nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatGameState(&state)), nil
}

func (c *Client) handleRunProgram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/run")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	source, _ := args["source"].(string)
	prog, hasProgram := args["program"]
	if source == "" && !hasProgram {
		return mcp.NewToolResultError("provide either source or program"), nil
	}

	wait := true
	if w, ok := args["wait"].(bool); ok {
		wait = w
	}
	reset, _ := args["reset"].(bool)

	body := map[string]interface{}{
		"reset": reset,
		"wait":  wait,
	}
	if source != "" {
		body["source"] = source
	}
	if hasProgram {
		body["program"] = prog
	}
	if delay, ok := args["step_delay_ms"].(float64); ok {
		body["step_delay_ms"] = int(delay)
	} else if wait {
		body["step_delay_ms"] = 0
	}

	var resp service.RunResponse
	if err := c.apiCall(ctx, "POST", path, body, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatRunResponse(&resp)), nil
}

func (c *Client) runControl(ctx context.Context, request mcp.CallToolRequest, method, suffix string) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), suffix)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var status service.RunStatusInfo
	if err := c.apiCall(ctx, method, path, nil, &status); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatRunStatus(&status)), nil
}

func (c *Client) handleRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.runControl(ctx, request, "GET", "/run")
}

func (c *Client) handlePauseRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.runControl(ctx, request, "POST", "/pause")
}

func (c *Client) handleResumeRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return c.runControl(ctx, request, "POST", "/resume")
}

func (c *Client) handleStopRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/stop")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var resp service.RunResponse
	if err := c.apiCall(ctx, "POST", path, nil, &resp); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatRunResponse(&resp)), nil
}

func (c *Client) handleStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/step")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, _ := args["command"].(string)

	var result service.StepResult
	if err := c.apiCall(ctx, "POST", path, map[string]string{"command": command}, &result); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStepResult(&result)), nil
}

func (c *Client) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/reset")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response struct {
		Message string            `json:"message"`
		State   *engine.GameState `json:"state"`
	}
	if err := c.apiCall(ctx, "POST", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(response.Message + "\n\n" + formatGameState(response.State)), nil
}

func (c *Client) handleHint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := sessionPath(arguments(request), "/hint")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var hint service.HintResult
	if err := c.apiCall(ctx, "GET", path, nil, &hint); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatHint(&hint)), nil
}

func (c *Client) handleCommandHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/history")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	query := url.Values{}
	if page, ok := args["page"].(float64); ok {
		query.Set("page", fmt.Sprint(int(page)))
	}
	if limit, ok := args["limit"].(float64); ok {
		query.Set("limit", fmt.Sprint(int(limit)))
	}
	if order, ok := args["order"].(string); ok {
		query.Set("order", order)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var history service.HistoryResponse
	if err := c.apiCall(ctx, "GET", path, nil, &history); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatHistory(&history)), nil
}

func (c *Client) handleListLevels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var levels []*service.LevelInfo
	if err := c.apiCall(ctx, "GET", "/api/levels", nil, &levels); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	b.WriteString("Available levels:\n")
	for _, l := range levels {
		fmt.Fprintf(&b, "- %s: %s (%dx%d, optimal %d commands", l.LevelID, l.Name, l.Width, l.Height, l.OptimalCommands)
		if l.MaxCommands > 0 {
			fmt.Fprintf(&b, ", max %d", l.MaxCommands)
		}
		b.WriteString(")\n")
		if l.Description != "" {
			fmt.Fprintf(&b, "  %s\n", l.Description)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleLevelStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	levelID, _ := arguments(request)["level_id"].(string)
	if levelID == "" {
		return mcp.NewToolResultError("level_id is required"), nil
	}

	var stats service.LevelStats
	if err := c.apiCall(ctx, "GET", "/api/levels/"+url.PathEscape(levelID)+"/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStats(&stats)), nil
}

func (c *Client) handleGameInstructions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(gameInstructions), nil
}

func (c *Client) handleDescribeCell(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path, err := sessionPath(args, "/state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fx, okX := args["x"].(float64)
	fy, okY := args["y"].(float64)
	if !okX || !okY {
		return mcp.NewToolResultError("x and y are required numbers"), nil
	}
	x, y := int(fx), int(fy)

	var state engine.GameState
	if err := c.apiCall(ctx, "GET", path, nil, &state); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if x < 0 || x >= state.Width || y < 0 || y >= state.Height {
		return mcp.NewToolResultError(fmt.Sprintf("Coordinates (%d, %d) are out of bounds. Grid is %dx%d (x 0-%d, y 0-%d)",
			x, y, state.Width, state.Height, state.Width-1, state.Height-1)), nil
	}

	// Grid rows are listed north first
	char := rune(state.Grid[state.Height-1-y][x])
	tile, _ := engine.TileFromChar(char)

	var b strings.Builder
	fmt.Fprintf(&b, "Cell at position (%d, %d):\n", x, y)
	fmt.Fprintf(&b, "Character: %c\n", char)
	fmt.Fprintf(&b, "Type: %s\n", tile)
	fmt.Fprintf(&b, "Passable: %v\n", tile.Passable())
	fmt.Fprintf(&b, "Description: %s\n", tileDescriptions[tile])
	if state.Robot.Position == (engine.Position{X: x, Y: y}) {
		fmt.Fprintf(&b, "The robot is here, facing %s.\n", state.Robot.Orientation)
	}
	return mcp.NewToolResultText(b.String()), nil
}

var tileDescriptions = map[engine.Tile]string{
	engine.Empty:  "Open floor - safe to move onto",
	engine.Wall:   "Wall - IMPASSABLE",
	engine.Goal:   "Goal - finish the program here",
	engine.Pit:    "Pit - IMPASSABLE, even with jump",
	engine.Button: "Button - walkable, interact is accepted here",
	engine.Door:   "Door - walkable",
	engine.Key:    "Key - walkable, item_nearby is true next to it",
}

// Formatting helpers

var robotArrows = map[engine.Orientation]rune{
	engine.North: '^',
	engine.East:  '>',
	engine.South: 'v',
	engine.West:  '<',
}

func formatSessionInfo(session *service.SessionInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\nLevel: %s\nRun: %s\nCreated: %s\n",
		session.ID, session.LevelID, session.RunStatus,
		session.CreatedAt.Format("2006-01-02 15:04:05"))
	if session.Level != nil {
		fmt.Fprintf(&b, "Optimal commands: %d", session.Level.OptimalCommands)
		if session.Level.MaxCommands > 0 {
			fmt.Fprintf(&b, " | Max commands: %d", session.Level.MaxCommands)
		}
		b.WriteString("\n")
	}
	if session.LastRun != nil {
		fmt.Fprintf(&b, "Last run: %s, %d stars\n", session.LastRun.Status, session.LastRun.Stars)
	}
	b.WriteString("\n")
	b.WriteString(formatGameState(session.GameState))
	return b.String()
}

func formatGameState(state *engine.GameState) string {
	if state == nil {
		return "No game state available"
	}

	var b strings.Builder
	robot := state.Robot
	fmt.Fprintf(&b, "Robot: %s facing %s | Commands executed: %d", robot.Position, robot.Orientation, state.TotalMoves)
	if robot.OnGoal {
		b.WriteString(" | ON GOAL")
	}
	b.WriteString("\n\n")

	if len(state.LocalView3x3) == 3 {
		b.WriteString("Local 3x3:\n")
		for _, row := range state.LocalView3x3 {
			b.WriteString(row + "\n")
		}
		b.WriteString("\n")
	}

	// Rows come north first; draw the robot as an arrow
	robotRow := state.Height - 1 - robot.Position.Y
	for row, line := range state.Grid {
		cells := []rune(line)
		if row == robotRow && robot.Position.X >= 0 && robot.Position.X < len(cells) {
			cells[robot.Position.X] = robotArrows[robot.Orientation]
		}
		b.WriteString(string(cells) + "\n")
	}

	if state.Message != "" {
		fmt.Fprintf(&b, "\nMessage: %s", state.Message)
	}
	return b.String()
}

func formatRunResponse(resp *service.RunResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %s", resp.RunID, strings.ToUpper(string(resp.Status)))
	if resp.Reason != "" {
		fmt.Fprintf(&b, " (%s)", resp.Reason)
	}
	b.WriteString("\n")

	if resp.Result != nil {
		r := resp.Result
		fmt.Fprintf(&b, "Steps executed: %d | Commands: %d | Stars: %d\n", r.StepsExecuted, resp.Commands, resp.Stars)
		if r.FailedNode != nil {
			fmt.Fprintf(&b, "Failed at block %v (%s)\n", r.FailedPath, r.FailedNode.Label())
		}
		if r.OnGoal {
			b.WriteString("Goal reached!\n")
		}
	} else if resp.Status == interpreter.StatusRunning {
		b.WriteString("Running in the background; use run_status, pause_run or stop_run.\n")
	}

	if resp.Program != "" {
		b.WriteString("\nProgram:\n" + resp.Program)
	}
	if resp.GameState != nil {
		b.WriteString("\n" + formatGameState(resp.GameState))
	}
	return b.String()
}

func formatRunStatus(status *service.RunStatusInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s run %s: %s\n", status.SessionID, status.RunID, status.Status)
	if status.CurrentNode != nil {
		fmt.Fprintf(&b, "Current block: %v (%s)\n", status.CurrentPath, status.CurrentNode.Label())
	}
	if status.GameState != nil {
		b.WriteString("\n" + formatGameState(status.GameState))
	}
	return b.String()
}

func formatStepResult(result *service.StepResult) string {
	outcome := "OK"
	if !result.Success {
		outcome = "BLOCKED"
	}
	text := fmt.Sprintf("%s: %s\n", result.Command, outcome)
	if result.Message != "" {
		text += result.Message + "\n"
	}
	return text + "\n" + formatGameState(result.GameState)
}

func formatHint(hint *service.HintResult) string {
	if !hint.Reachable {
		return "No goal is reachable from the robot's position."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Nearest goal: %s, %d cells away\n", hint.Goal, hint.Distance)
	fmt.Fprintf(&b, "Commands (%d): %s\n", len(hint.Commands), strings.Join(hint.Commands, ", "))
	b.WriteString("\nAs a program:\n" + hint.Program)
	b.WriteString("\nTip: repeat blocks shorten straight runs and earn more stars.")
	return b.String()
}

func formatHistory(history *service.HistoryResponse) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command history (page %d/%d, total %d):\n", history.Page, history.TotalPages, history.TotalCommands)
	for _, e := range history.Commands {
		outcome := "ok"
		if !e.Success {
			outcome = "blocked"
		}
		fmt.Fprintf(&b, "%d. %s %s -> %s facing %s (%s)\n",
			e.MoveNumber, e.Command, e.FromPosition, e.ToPosition, e.Orientation, outcome)
	}
	if history.HasNext {
		b.WriteString("More entries on the next page.\n")
	}
	return b.String()
}

func formatStats(stats *service.LevelStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Level %s\n", stats.LevelID)
	fmt.Fprintf(&b, "Runs: %d (completed %d, failed %d, cancelled %d)\n", stats.Runs, stats.Completed, stats.Failed, stats.Cancelled)
	fmt.Fprintf(&b, "Best stars: %d\n", stats.BestStars)
	if stats.FewestCommands > 0 {
		fmt.Fprintf(&b, "Fewest commands to a goal: %d\n", stats.FewestCommands)
	}
	if stats.LastPlayed != nil {
		fmt.Fprintf(&b, "Last played: %s\n", stats.LastPlayed.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

const gameInstructions = `Blockbot - Complete Instructions

OBJECTIVE:
Drive the robot from its start cell to a goal cell (G) by writing a block program.
A run that ends on a goal completes the level. Stars depend on how many blocks
the program uses compared to the level's optimal count:
  3 stars: at or under optimal | 2 stars: up to optimal+2 | 1 star: more

GRID LEGEND:
  .  floor          #  wall (blocks movement)
  G  goal           O  pit (blocks movement)
  B  button         D  door         K  key
  ^ > v <  the robot and its heading
Coordinates: x grows east, y grows north, (0,0) is the south-west corner.
The grid is printed north row first.

COMMANDS:
  forward   move one cell ahead; walls, pits and edges make the run FAIL
  left      turn 90 degrees counter-clockwise
  right     turn 90 degrees clockwise
  jump      same reach as forward
  interact  act on the current cell; never moves the robot

BLOCKS:
  repeat N { ... }               N between 1 and 10
  if CONDITION { ... } else { ... }
Conditions: path_ahead, wall_ahead, on_goal, item_nearby.
Blocks nest up to 5 deep. Every block counts as one command, nested ones included.
Semicolons are optional and // starts a comment.

EXAMPLE:
  repeat 4 { forward }
  left
  repeat 4 { if path_ahead { forward } else { right } }

RUNNING:
- run_program with reset=true starts from the level's start pose.
- Without reset the program continues from where the robot stands.
- A run stops early on an illegal move and reports the failing block path.
- Background runs (wait=false) can be paused, resumed and stopped.

STRATEGY:
1. Read the grid with game_state and note walls around the straight lines.
2. Ask for a hint when stuck, then compress the commands with repeat.
3. Use step to test a single move without writing a program.
4. Compare your result with level_stats to see the best recorded score.`
