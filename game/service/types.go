package service

import (
	"time"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/interpreter"
	"github.com/wricardo/mcp-training/blockbot/game/program"
)

// SessionInfo provides information about a game session
type SessionInfo struct {
	ID             string                  `json:"id"`
	LevelID        string                  `json:"level_id"`
	CreatedAt      time.Time               `json:"created_at"`
	LastAccessedAt time.Time               `json:"last_accessed_at"`
	RunStatus      interpreter.Status      `json:"run_status"`
	RunID          string                  `json:"run_id,omitempty"`
	GameState      *engine.GameState       `json:"game_state"`
	Level          *engine.LevelDescriptor `json:"level"`
	LastRun        *RunResponse            `json:"last_run,omitempty"`
}

// RunRequest asks a session to execute a program. Exactly one of Program
// (the JSON tree) or Source (the text form) should be set.
type RunRequest struct {
	Program     program.Program `json:"program,omitempty"`
	Source      string          `json:"source,omitempty"`
	Reset       bool            `json:"reset"`
	Wait        bool            `json:"wait"`
	StepDelayMs *int            `json:"step_delay_ms,omitempty"`
}

// RunResponse reports a started or finished run
type RunResponse struct {
	RunID     string              `json:"run_id"`
	Status    interpreter.Status  `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	Stars     int                 `json:"stars"`
	Commands  int                 `json:"commands"`
	Program   string              `json:"program"`
	Result    *interpreter.Result `json:"result,omitempty"`
	GameState *engine.GameState   `json:"game_state,omitempty"`
}

// RunStatusInfo describes the interpreter of one session
type RunStatusInfo struct {
	SessionID   string             `json:"session_id"`
	RunID       string             `json:"run_id,omitempty"`
	Status      interpreter.Status `json:"status"`
	CurrentNode *program.Node      `json:"current_node,omitempty"`
	CurrentPath []int              `json:"current_path,omitempty"`
	GameState   *engine.GameState  `json:"game_state"`
}

// StepResult contains the result of one manual command
type StepResult struct {
	Success   bool              `json:"success"`
	Command   string            `json:"command"`
	Message   string            `json:"message"`
	OnGoal    bool              `json:"on_goal"`
	GameState *engine.GameState `json:"game_state"`
}

// HintResult is the shortest route from the robot to the nearest goal
type HintResult struct {
	Reachable bool              `json:"reachable"`
	Goal      *engine.Position  `json:"goal,omitempty"`
	Distance  int               `json:"distance"`
	Path      []engine.Position `json:"path,omitempty"`
	Commands  []string          `json:"commands,omitempty"`
	Program   string            `json:"program,omitempty"`
}

// HistoryOptions configures command history retrieval
type HistoryOptions struct {
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
	Order string `json:"order"` // "asc" or "desc"
}

// HistoryResponse contains paginated command history
type HistoryResponse struct {
	Commands      []engine.CommandHistoryEntry `json:"commands"`
	TotalCommands int                          `json:"total_commands"`
	Page          int                          `json:"page"`
	PageSize      int                          `json:"page_size"`
	TotalPages    int                          `json:"total_pages"`
	HasNext       bool                         `json:"has_next"`
	HasPrevious   bool                         `json:"has_previous"`
}

// LevelInfo provides information about a level file
type LevelInfo struct {
	Filename        string `json:"filename"`
	LevelID         string `json:"level_id"` // The identifier to use for session creation
	Name            string `json:"name"`
	Description     string `json:"description"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	MaxCommands     int    `json:"max_commands"`
	OptimalCommands int    `json:"optimal_commands"`
}

// RunRecord is one finished run as kept by a RunStore
type RunRecord struct {
	ID           int64              `json:"id"`
	RunID        string             `json:"run_id"`
	SessionID    string             `json:"session_id"`
	LevelID      string             `json:"level_id"`
	Status       interpreter.Status `json:"status"`
	Reason       string             `json:"reason,omitempty"`
	Steps        int                `json:"steps"`
	CommandsUsed int                `json:"commands_used"`
	Stars        int                `json:"stars"`
	OnGoal       bool               `json:"on_goal"`
	Program      string             `json:"program"`
	StartedAt    time.Time          `json:"started_at"`
	Duration     time.Duration      `json:"duration"`
}

// LevelStats aggregates recorded runs for one level
type LevelStats struct {
	LevelID        string     `json:"level_id"`
	Runs           int        `json:"runs"`
	Completed      int        `json:"completed"`
	Failed         int        `json:"failed"`
	Cancelled      int        `json:"cancelled"`
	BestStars      int        `json:"best_stars"`
	FewestCommands int        `json:"fewest_commands,omitempty"`
	LastPlayed     *time.Time `json:"last_played,omitempty"`
}
