package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/interpreter"
	"github.com/wricardo/mcp-training/blockbot/game/program"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrLevelNotFound   = errors.New("level not found")
	ErrInvalidLevel    = errors.New("invalid level")
	ErrInvalidProgram  = errors.New("invalid program")
	ErrInvalidCommand  = errors.New("invalid command")
)

// Option configures the game service
type Option func(*gameServiceImpl)

// WithRunStore records finished runs in store
func WithRunStore(store RunStore) Option {
	return func(s *gameServiceImpl) { s.store = store }
}

// WithBroadcaster streams run events and state updates to b
func WithBroadcaster(b EventBroadcaster) Option {
	return func(s *gameServiceImpl) { s.broadcaster = b }
}

// WithLogger sets the service logger
func WithLogger(l *log.Logger) Option {
	return func(s *gameServiceImpl) {
		if l != nil {
			s.logger = l
		}
	}
}

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions    SessionManager
	levels      LevelManager
	store       RunStore
	broadcaster EventBroadcaster
	logger      *log.Logger

	// runs outlive the request that started them
	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
}

// NewGameService creates a new game service instance
func NewGameService(sessions SessionManager, levels LevelManager, opts ...Option) GameService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &gameServiceImpl{
		sessions: sessions,
		levels:   levels,
		logger:   log.Default(),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithPrefix("service")
	return s
}

// session fetches a session, touches it and makes sure its run events are
// observed
func (s *gameServiceImpl) session(id string) (*Session, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.sessions.UpdateLastAccessed(id)
	s.observe(sess)
	return sess, nil
}

func (s *gameServiceImpl) sessionInfo(sess *Session) *SessionInfo {
	return &SessionInfo{
		ID:             sess.ID,
		LevelID:        sess.Level.ID,
		CreatedAt:      sess.CreatedAt,
		LastAccessedAt: sess.LastAccessedAt,
		RunStatus:      sess.Interpreter.Status(),
		RunID:          sess.Interpreter.RunID(),
		GameState:      sess.Engine.GetState(),
		Level:          sess.Level,
		LastRun:        sess.LastRun(),
	}
}

// CreateSession creates a new game session
func (s *gameServiceImpl) CreateSession(ctx context.Context, levelID string) (*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Load level
	var level *engine.LevelDescriptor
	var err error
	if levelID != "" {
		level, err = s.levels.LoadLevel(levelID)
		if err != nil {
			// Provide helpful error message with available options
			if errors.Is(err, ErrLevelNotFound) {
				available, listErr := s.levels.ListLevels()
				if listErr == nil && len(available) > 0 {
					var ids []string
					for _, l := range available {
						ids = append(ids, l.LevelID)
					}
					return nil, fmt.Errorf("%w: '%s'. Available levels: %v", ErrLevelNotFound, levelID, ids)
				}
				return nil, fmt.Errorf("%w: '%s'. Use /api/levels to list available levels", ErrLevelNotFound, levelID)
			}
			return nil, fmt.Errorf("failed to load level %s: %w", levelID, err)
		}
	} else {
		level = s.levels.GetDefault()
	}

	// Let session manager generate the ID
	sess, err := s.sessions.Create("", level)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.observe(sess)

	s.logger.Info("session created", "session", sess.ID, "level", level.ID)
	return s.sessionInfo(sess), nil
}

// GetSession retrieves session information
func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.sessionInfo(sess), nil
}

// ListSessions returns all active sessions
func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := s.sessions.List()
	result := make([]*SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, s.sessionInfo(sess))
	}
	return result, nil
}

// DeleteSession stops any run and removes the session
func (s *gameServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, err := s.sessions.Get(sessionID); err == nil && sess.Interpreter.Status().Active() {
		sess.Interpreter.Stop()
		if _, err := sess.Interpreter.Wait(ctx); err != nil {
			return err
		}
	}

	if err := s.sessions.Delete(sessionID); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	s.logger.Info("session deleted", "session", sessionID)
	return nil
}

// parseRequest turns a run request into a program tree
func parseRequest(req RunRequest) (program.Program, error) {
	if strings.TrimSpace(req.Source) != "" {
		if len(req.Program) > 0 {
			return nil, fmt.Errorf("%w: set either program or source, not both", ErrInvalidProgram)
		}
		p, err := program.Parse(req.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
		}
		return p, nil
	}
	return req.Program, nil
}

// RunProgram validates and starts a program on the session's robot. With
// req.Wait the call returns the finished run, otherwise it returns as soon
// as the run is started.
func (s *gameServiceImpl) RunProgram(ctx context.Context, sessionID string, req RunRequest) (*RunResponse, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	p, err := parseRequest(req)
	if err != nil {
		return nil, err
	}
	if err := program.Validate(p, sess.Level); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}

	if !sess.Interpreter.Status().Active() {
		// let a run that is delivering its result finish first
		sess.Interpreter.Wait(ctx)
	}

	if req.Reset {
		if sess.Interpreter.Status().Active() {
			return nil, interpreter.ErrRunActive
		}
		sess.Engine.Reset()
	}

	var opts []interpreter.RunOption
	if req.StepDelayMs != nil {
		opts = append(opts, interpreter.WithStepDelay(time.Duration(*req.StepDelayMs)*time.Millisecond))
	}

	text := program.Format(p)

	// Hold the session lock across Start so the terminal event sees the
	// program text of this run
	sess.mu.Lock()
	runID, err := sess.Interpreter.Start(s.baseCtx, p, sess.Engine.GetRobot(), opts...)
	if err == nil {
		sess.program = text
	}
	sess.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info("run started", "session", sess.ID, "run", runID, "commands", p.CountCommands())

	if !req.Wait {
		return &RunResponse{
			RunID:     runID,
			Status:    interpreter.StatusRunning,
			Commands:  p.CountCommands(),
			Program:   text,
			GameState: sess.Engine.GetState(),
		}, nil
	}

	res, err := sess.Interpreter.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return s.finishedRun(sess, res, text), nil
}

// finishedRun returns the recorded response for res, building one if the
// observer has not stored it
func (s *gameServiceImpl) finishedRun(sess *Session, res *interpreter.Result, text string) *RunResponse {
	var out RunResponse
	if last := sess.LastRun(); last != nil && last.RunID == res.RunID {
		out = *last
	} else {
		out = *s.runResponse(sess, res, text)
	}
	out.GameState = sess.Engine.GetState()
	return &out
}

func (s *gameServiceImpl) runResponse(sess *Session, res *interpreter.Result, text string) *RunResponse {
	reached := res.Status == interpreter.StatusCompleted && res.OnGoal
	return &RunResponse{
		RunID:    res.RunID,
		Status:   res.Status,
		Reason:   res.Reason,
		Stars:    engine.Stars(reached, res.CommandsUsed, sess.Level.OptimalCommands),
		Commands: res.CommandsUsed,
		Program:  text,
		Result:   res,
	}
}

func (s *gameServiceImpl) runStatus(sess *Session) *RunStatusInfo {
	node, path := sess.Interpreter.CurrentCommand()
	return &RunStatusInfo{
		SessionID:   sess.ID,
		RunID:       sess.Interpreter.RunID(),
		Status:      sess.Interpreter.Status(),
		CurrentNode: node,
		CurrentPath: path,
		GameState:   sess.Engine.GetState(),
	}
}

// PauseRun suspends the active run before its next command
func (s *gameServiceImpl) PauseRun(ctx context.Context, sessionID string) (*RunStatusInfo, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Interpreter.Pause(); err != nil {
		return nil, err
	}
	return s.runStatus(sess), nil
}

// ResumeRun continues a paused run
func (s *gameServiceImpl) ResumeRun(ctx context.Context, sessionID string) (*RunStatusInfo, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Interpreter.Resume(); err != nil {
		return nil, err
	}
	return s.runStatus(sess), nil
}

// StopRun cancels the active run and returns its final result. The robot
// stays where the run left it.
func (s *gameServiceImpl) StopRun(ctx context.Context, sessionID string) (*RunResponse, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Interpreter.Stop(); err != nil {
		return nil, err
	}
	res, err := sess.Interpreter.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return s.finishedRun(sess, res, sess.currentProgram()), nil
}

// GetRunStatus reports the interpreter state of a session
func (s *gameServiceImpl) GetRunStatus(ctx context.Context, sessionID string) (*RunStatusInfo, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.runStatus(sess), nil
}

// Step executes one command outside of a program run
func (s *gameServiceImpl) Step(ctx context.Context, sessionID, command string) (*StepResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	p, err := program.Parse(command)
	if err != nil || len(p) != 1 || !p[0].Type.IsPrimitive() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}
	if err := program.Validate(p, sess.Level); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	kind := string(p[0].Type)
	success, err := sess.Engine.Execute(kind)
	if err != nil {
		return nil, err
	}

	state := sess.Engine.GetState()
	s.broadcastState(sess.ID, state)
	s.save(sess.ID)

	return &StepResult{
		Success:   success,
		Command:   kind,
		Message:   state.Message,
		OnGoal:    state.Robot.OnGoal,
		GameState: state,
	}, nil
}

// Reset returns the robot to its start pose
func (s *gameServiceImpl) Reset(ctx context.Context, sessionID string) (*engine.GameState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Interpreter.Status().Active() {
		return nil, interpreter.ErrRunActive
	}

	state := sess.Engine.Reset()
	s.broadcastState(sess.ID, state)
	s.save(sess.ID)
	return state, nil
}

// Hint returns the shortest command sequence from the robot to the nearest
// goal. It ignores the level's allowed commands.
func (s *gameServiceImpl) Hint(ctx context.Context, sessionID string) (*HintResult, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	robot := sess.Engine.GetRobot()
	path, ok := engine.NearestGoalPath(sess.Engine.GetWorld(), robot.Position())
	if !ok {
		return &HintResult{Reachable: false, Distance: engine.UnreachableDistance}, nil
	}

	commands := engine.PathToCommands(path, robot.Orientation())
	nodes := make(program.Program, 0, len(commands))
	for _, c := range commands {
		nodes = append(nodes, &program.Node{Type: program.Kind(c)})
	}
	goal := path[len(path)-1]

	return &HintResult{
		Reachable: true,
		Goal:      &goal,
		Distance:  len(path) - 1,
		Path:      path,
		Commands:  commands,
		Program:   program.Format(nodes),
	}, nil
}

// GetGameState retrieves the current game state
func (s *gameServiceImpl) GetGameState(ctx context.Context, sessionID string) (*engine.GameState, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.Engine.GetState(), nil
}

// GetCommandHistory returns paginated command history
func (s *gameServiceImpl) GetCommandHistory(ctx context.Context, sessionID string, opts HistoryOptions) (*HistoryResponse, error) {
	sess, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}

	history := sess.Engine.GetHistory()
	total := len(history)

	// Apply defaults
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	// Calculate pagination
	totalPages := (total + opts.Limit - 1) / opts.Limit
	if totalPages == 0 {
		totalPages = 1
	}

	start := (opts.Page - 1) * opts.Limit
	end := start + opts.Limit
	if end > total {
		end = total
	}

	var commands []engine.CommandHistoryEntry
	if opts.Order == "desc" {
		// Most recent first
		for i := total - 1 - start; i >= 0 && i >= total-end; i-- {
			commands = append(commands, history[i])
		}
	} else if start < total {
		commands = history[start:end]
	}

	if commands == nil {
		commands = []engine.CommandHistoryEntry{}
	}

	return &HistoryResponse{
		Commands:      commands,
		TotalCommands: total,
		Page:          opts.Page,
		PageSize:      opts.Limit,
		TotalPages:    totalPages,
		HasNext:       opts.Page < totalPages,
		HasPrevious:   opts.Page > 1,
	}, nil
}

// ListLevels returns available levels
func (s *gameServiceImpl) ListLevels(ctx context.Context) ([]*LevelInfo, error) {
	return s.levels.ListLevels()
}

// LoadLevel loads a specific level
func (s *gameServiceImpl) LoadLevel(ctx context.Context, levelID string) (*engine.LevelDescriptor, error) {
	return s.levels.LoadLevel(levelID)
}

// SaveLevel saves a level to disk
func (s *gameServiceImpl) SaveLevel(ctx context.Context, levelID string, level *engine.LevelDescriptor) error {
	return s.levels.SaveLevel(levelID, level)
}

// LevelStats aggregates recorded runs for a level. Without a store every
// count is zero.
func (s *gameServiceImpl) LevelStats(ctx context.Context, levelID string) (*LevelStats, error) {
	if _, err := s.levels.LoadLevel(levelID); err != nil {
		return nil, err
	}
	if s.store == nil {
		return &LevelStats{LevelID: levelID}, nil
	}
	return s.store.LevelStats(ctx, levelID)
}

// ListRuns returns the most recent recorded runs, newest first
func (s *gameServiceImpl) ListRuns(ctx context.Context, levelID string, limit int) ([]*RunRecord, error) {
	if s.store == nil {
		return []*RunRecord{}, nil
	}
	return s.store.ListRuns(ctx, levelID, limit)
}

// Shutdown stops every active run and waits for it to settle
func (s *gameServiceImpl) Shutdown(ctx context.Context) error {
	defer s.cancel()

	for _, sess := range s.sessions.List() {
		if !sess.Interpreter.Status().Active() {
			continue
		}
		sess.Interpreter.Stop()
		if _, err := sess.Interpreter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// observe subscribes the service to a session's run events once
func (s *gameServiceImpl) observe(sess *Session) {
	sess.observeOnce.Do(func() {
		sess.Interpreter.Subscribe(s.runObserver(sess))
	})
}

// runObserver records executed commands in the session history, scores and
// stores finished runs, and forwards every event to live clients
func (s *gameServiceImpl) runObserver(sess *Session) interpreter.Observer {
	var from engine.Position

	return interpreter.ObserverFunc(func(e interpreter.Event) {
		switch e.Type {
		case interpreter.EventRunStarted:
			from = e.Position

		case interpreter.EventCommandExecuted:
			sess.Engine.AddToHistory(string(e.Node.Type), from, e.Position, true)
			from = e.Position

		case interpreter.EventRunCompleted, interpreter.EventRunFailed, interpreter.EventRunCancelled:
			res := e.Result
			if res.Reason == interpreter.ReasonIllegalMove && res.FailedNode != nil {
				sess.Engine.AddToHistory(string(res.FailedNode.Type), from, from, false)
			}

			resp := s.runResponse(sess, res, sess.currentProgram())
			sess.SetLastRun(resp)
			sess.Engine.SetMessage(runMessage(resp))
			s.record(sess, resp)
			s.save(sess.ID)
		}

		if s.broadcaster != nil {
			s.broadcaster.BroadcastEvent(sess.ID, string(e.Type), e)
			if e.Type != interpreter.EventConditionEvaluated {
				s.broadcaster.BroadcastToSession(sess.ID, sess.Engine.GetState())
			}
		}
	})
}

func runMessage(r *RunResponse) string {
	switch r.Status {
	case interpreter.StatusCompleted:
		if r.Result.OnGoal {
			return fmt.Sprintf("Goal reached with %d commands: %d stars", r.Commands, r.Stars)
		}
		return "Program finished without reaching a goal"
	case interpreter.StatusFailed:
		return fmt.Sprintf("Run failed: %s", r.Reason)
	default:
		return "Run cancelled"
	}
}

func (s *gameServiceImpl) record(sess *Session, r *RunResponse) {
	if s.store == nil {
		return
	}
	rec := &RunRecord{
		RunID:        r.RunID,
		SessionID:    sess.ID,
		LevelID:      sess.Level.ID,
		Status:       r.Status,
		Reason:       r.Reason,
		Steps:        r.Result.StepsExecuted,
		CommandsUsed: r.Commands,
		Stars:        r.Stars,
		OnGoal:       r.Result.OnGoal,
		Program:      r.Program,
		StartedAt:    r.Result.StartedAt,
		Duration:     r.Result.Duration,
	}
	if err := s.store.RecordRun(context.Background(), rec); err != nil {
		s.logger.Warn("failed to record run", "session", sess.ID, "run", r.RunID, "err", err)
	}
}

func (s *gameServiceImpl) save(sessionID string) {
	if err := s.sessions.Save(sessionID); err != nil {
		s.logger.Warn("failed to persist session", "session", sessionID, "err", err)
	}
}

func (s *gameServiceImpl) broadcastState(sessionID string, state *engine.GameState) {
	if s.broadcaster != nil {
		s.broadcaster.BroadcastToSession(sessionID, state)
	}
}
