package service

import (
	"context"
	"sync"
	"time"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/interpreter"
)

// GameService defines all game-related operations
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context, levelID string) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Program Runs
	RunProgram(ctx context.Context, sessionID string, req RunRequest) (*RunResponse, error)
	PauseRun(ctx context.Context, sessionID string) (*RunStatusInfo, error)
	ResumeRun(ctx context.Context, sessionID string) (*RunStatusInfo, error)
	StopRun(ctx context.Context, sessionID string) (*RunResponse, error)
	GetRunStatus(ctx context.Context, sessionID string) (*RunStatusInfo, error)

	// Game Operations
	Step(ctx context.Context, sessionID, command string) (*StepResult, error)
	Reset(ctx context.Context, sessionID string) (*engine.GameState, error)
	Hint(ctx context.Context, sessionID string) (*HintResult, error)

	// Game State
	GetGameState(ctx context.Context, sessionID string) (*engine.GameState, error)
	GetCommandHistory(ctx context.Context, sessionID string, opts HistoryOptions) (*HistoryResponse, error)

	// Levels
	ListLevels(ctx context.Context) ([]*LevelInfo, error)
	LoadLevel(ctx context.Context, levelID string) (*engine.LevelDescriptor, error)
	SaveLevel(ctx context.Context, levelID string, level *engine.LevelDescriptor) error
	LevelStats(ctx context.Context, levelID string) (*LevelStats, error)
	ListRuns(ctx context.Context, levelID string, limit int) ([]*RunRecord, error)

	// Shutdown stops every active run
	Shutdown(ctx context.Context) error
}

// SessionManager defines session storage operations
type SessionManager interface {
	Create(id string, level *engine.LevelDescriptor) (*Session, error)
	Get(id string) (*Session, error)
	List() []*Session
	Delete(id string) error
	UpdateLastAccessed(id string) error
	Save(id string) error
}

// LevelManager handles level loading
type LevelManager interface {
	LoadLevel(id string) (*engine.LevelDescriptor, error)
	ListLevels() ([]*LevelInfo, error)
	GetDefault() *engine.LevelDescriptor
	SaveLevel(id string, level *engine.LevelDescriptor) error
}

// RunStore keeps finished runs
type RunStore interface {
	RecordRun(ctx context.Context, rec *RunRecord) error
	ListRuns(ctx context.Context, levelID string, limit int) ([]*RunRecord, error)
	LevelStats(ctx context.Context, levelID string) (*LevelStats, error)
}

// EventBroadcaster pushes session updates to live clients
type EventBroadcaster interface {
	BroadcastToSession(sessionID string, state *engine.GameState)
	BroadcastEvent(sessionID string, event string, data interface{})
}

// Session represents an active game session: one level, one robot and the
// interpreter that drives it
type Session struct {
	ID             string
	Engine         *engine.GameEngine
	Interpreter    *interpreter.Interpreter
	Level          *engine.LevelDescriptor
	CreatedAt      time.Time
	LastAccessedAt time.Time

	mu          sync.Mutex
	program     string
	lastRun     *RunResponse
	observeOnce sync.Once
}

// NewSession builds the engine and interpreter for a level
func NewSession(id string, level *engine.LevelDescriptor, opts interpreter.Options) (*Session, error) {
	eng, err := engine.NewEngine(level)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger = opts.Logger.With("session", id)
	}

	now := time.Now()
	return &Session{
		ID:             id,
		Engine:         eng,
		Interpreter:    interpreter.New(opts),
		Level:          level,
		CreatedAt:      now,
		LastAccessedAt: now,
	}, nil
}

// LastRun returns the most recent finished run, if any
func (s *Session) LastRun() *RunResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// SetLastRun replaces the most recent finished run
func (s *Session) SetLastRun(r *RunResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = r
}

// currentProgram returns the text of the program last started
func (s *Session) currentProgram() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.program
}
