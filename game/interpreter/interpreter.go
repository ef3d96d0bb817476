package interpreter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/program"
)

var (
	ErrRunActive         = errors.New("a run is already active")
	ErrNotRunning        = errors.New("no run is active")
	ErrNotPaused         = errors.New("run is not paused")
	ErrNilRobot          = errors.New("robot is nil")
	ErrNoResult          = errors.New("no run has finished yet")
	ErrInvalidTransition = errors.New("invalid run transition")
)

// Failure reasons reported in Result.Reason
const (
	ReasonIllegalMove    = "illegal move"
	ReasonStepLimit      = "step limit exceeded"
	ReasonLoopLimit      = "loop limit exceeded"
	ReasonCancelled      = "cancelled"
	ReasonInvalidCommand = "invalid command"
)

// Result summarizes a finished run
type Result struct {
	RunID         string             `json:"run_id"`
	Status        Status             `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	StepsExecuted int                `json:"steps_executed"`
	CommandsUsed  int                `json:"commands_used"`
	FailedNode    *program.Node      `json:"failed_node,omitempty"`
	FailedPath    []int              `json:"failed_path,omitempty"`
	Position      engine.Position    `json:"position"`
	Orientation   engine.Orientation `json:"orientation"`
	OnGoal        bool               `json:"on_goal"`
	StartedAt     time.Time          `json:"started_at"`
	Duration      time.Duration      `json:"duration"`
}

// Interpreter walks command programs against a robot. It hosts at most
// one run at a time; the walk happens on its own goroutine and is
// suspended at explicit points for pacing, pause and cancellation.
type Interpreter struct {
	mu        sync.Mutex
	opts      Options
	logger    *log.Logger
	observers []Observer

	status  Status
	active  *run
	last    *Result
	current *program.Node
	path    []int
}

// halt unwinds the walk with a terminal status
type halt struct {
	status Status
	reason string
	node   *program.Node
	path   []int
}

func (h *halt) Error() string { return string(h.status) + ": " + h.reason }

type run struct {
	id        string
	program   program.Program
	robot     *engine.RobotState
	ctx       context.Context
	cancel    context.CancelFunc
	stepDelay time.Duration
	resume    chan struct{}
	done      chan struct{}
	started   time.Time
	steps     int
	loops     int
	result    *Result
}

// New creates an idle interpreter
func New(opts Options) *Interpreter {
	opts = opts.withDefaults()
	return &Interpreter{
		opts:   opts,
		logger: opts.Logger.WithPrefix("interpreter"),
		status: StatusIdle,
	}
}

// Subscribe registers an observer for every subsequent event
func (ip *Interpreter) Subscribe(o Observer) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.observers = append(ip.observers, o)
}

// Options returns the effective options
func (ip *Interpreter) Options() Options {
	return ip.opts
}

// Status returns the current lifecycle state
func (ip *Interpreter) Status() Status {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.status
}

// CurrentCommand returns the node being executed and its index path, or
// nil when no primitive is in flight
func (ip *Interpreter) CurrentCommand() (*program.Node, []int) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.current == nil {
		return nil, nil
	}
	return ip.current, append([]int(nil), ip.path...)
}

// LastResult returns the result of the most recent finished run
func (ip *Interpreter) LastResult() *Result {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.last
}

// RunID returns the id of the active run, or "" when idle
func (ip *Interpreter) RunID() string {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.active == nil {
		return ""
	}
	return ip.active.id
}

// Start begins executing p against robot and returns the run id. ctx bounds
// the whole run; cancelling it cancels the run. Starting while a run is
// active, or while another interpreter owns the robot, returns ErrRunActive.
func (ip *Interpreter) Start(ctx context.Context, p program.Program, robot *engine.RobotState, opts ...RunOption) (string, error) {
	r, err := ip.start(ctx, p, robot, opts...)
	if err != nil {
		return "", err
	}
	return r.id, nil
}

// Run executes p to completion and returns its result
func (ip *Interpreter) Run(ctx context.Context, p program.Program, robot *engine.RobotState, opts ...RunOption) (*Result, error) {
	r, err := ip.start(ctx, p, robot, opts...)
	if err != nil {
		return nil, err
	}
	<-r.done
	return r.result, nil
}

func (ip *Interpreter) start(ctx context.Context, p program.Program, robot *engine.RobotState, opts ...RunOption) (*run, error) {
	if robot == nil {
		return nil, ErrNilRobot
	}

	cfg := runConfig{stepDelay: ip.opts.StepDelay}
	for _, opt := range opts {
		opt(&cfg)
	}

	ip.mu.Lock()
	defer ip.mu.Unlock()

	if ip.status.Active() || ip.active != nil {
		return nil, ErrRunActive
	}
	if !robot.BeginRun() {
		return nil, ErrRunActive
	}
	if err := transition(&ip.status, StatusRunning); err != nil {
		robot.EndRun()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:        uuid.New().String(),
		program:   p,
		robot:     robot,
		ctx:       runCtx,
		cancel:    cancel,
		stepDelay: cfg.stepDelay,
		done:      make(chan struct{}),
		started:   time.Now(),
	}
	ip.active = r
	ip.current = nil
	ip.path = nil

	go ip.execute(r)
	return r, nil
}

// Wait blocks until the active run finishes and returns its result. With no
// active run it returns the last result.
func (ip *Interpreter) Wait(ctx context.Context) (*Result, error) {
	ip.mu.Lock()
	r := ip.active
	last := ip.last
	ip.mu.Unlock()

	if r == nil {
		if last == nil {
			return nil, ErrNoResult
		}
		return last, nil
	}

	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pause suspends the active run before its next primitive. The walk keeps
// its position in the tree.
func (ip *Interpreter) Pause() error {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	if ip.status != StatusRunning || ip.active == nil {
		return ErrNotRunning
	}
	if err := transition(&ip.status, StatusPaused); err != nil {
		return err
	}
	ip.active.resume = make(chan struct{})
	ip.logger.Info("run paused", "run", ip.active.id)
	return nil
}

// Resume continues a paused run from where it stopped
func (ip *Interpreter) Resume() error {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	if ip.status != StatusPaused || ip.active == nil {
		return ErrNotPaused
	}
	if err := transition(&ip.status, StatusRunning); err != nil {
		return err
	}
	close(ip.active.resume)
	ip.active.resume = nil
	ip.logger.Info("run resumed", "run", ip.active.id)
	return nil
}

// Stop cancels the active run. The robot keeps its current pose; resetting
// it is a separate call. Use Wait to observe the cancelled result.
func (ip *Interpreter) Stop() error {
	ip.mu.Lock()
	defer ip.mu.Unlock()

	if !ip.status.Active() || ip.active == nil {
		return ErrNotRunning
	}
	ip.active.cancel()
	ip.current = nil
	ip.path = nil
	return nil
}

func (ip *Interpreter) execute(r *run) {
	ip.logger.Info("run started", "run", r.id, "commands", r.program.CountCommands())
	ip.emit(r, Event{Type: EventRunStarted})

	var h *halt
	if err := ip.walk(r, r.program, nil, 0); err != nil {
		if !errors.As(err, &h) {
			h = &halt{status: StatusFailed, reason: err.Error()}
		}
	}
	r.cancel()

	snap := r.robot.Snapshot()
	res := &Result{
		RunID:         r.id,
		Status:        StatusCompleted,
		StepsExecuted: r.steps,
		CommandsUsed:  r.program.CountCommands(),
		Position:      snap.Position,
		Orientation:   snap.Orientation,
		OnGoal:        snap.OnGoal,
		StartedAt:     r.started,
		Duration:      time.Since(r.started),
	}
	if h != nil {
		res.Status = h.status
		res.Reason = h.reason
		res.FailedNode = h.node
		res.FailedPath = h.path
	}
	r.result = res
	r.robot.EndRun()

	// The run stays active until observers have seen the terminal event,
	// so a new run cannot start underneath them.
	ip.mu.Lock()
	if err := transition(&ip.status, res.Status); err != nil {
		// a pause that arrived after the last checkpoint
		ip.status = res.Status
	}
	ip.last = res
	ip.current = nil
	ip.path = nil
	ip.mu.Unlock()

	switch res.Status {
	case StatusCompleted:
		ip.logger.Info("run completed", "run", r.id, "steps", res.StepsExecuted, "on_goal", res.OnGoal)
	case StatusFailed:
		ip.logger.Warn("run failed", "run", r.id, "reason", res.Reason, "steps", res.StepsExecuted, "node", res.FailedNode.Label())
	default:
		ip.logger.Info("run cancelled", "run", r.id, "steps", res.StepsExecuted)
	}

	ip.emit(r, Event{Type: terminalEvent(res.Status), Reason: res.Reason, Result: res})

	ip.mu.Lock()
	ip.active = nil
	ip.mu.Unlock()
	close(r.done)
}

// walk executes nodes depth-first. offset shifts the reported index of
// each node, so Else children are numbered after Then children.
func (ip *Interpreter) walk(r *run, nodes []*program.Node, prefix []int, offset int) error {
	for i, n := range nodes {
		path := append(append([]int(nil), prefix...), offset+i)
		if n == nil {
			return &halt{status: StatusFailed, reason: ReasonInvalidCommand, path: path}
		}

		switch {
		case n.Type.IsPrimitive():
			if err := ip.primitive(r, n, path); err != nil {
				return err
			}

		case n.Type == program.KindRepeat:
			for pass := 0; pass < n.Count; pass++ {
				before := r.steps
				if err := ip.walk(r, n.Body, path, 0); err != nil {
					return err
				}
				// passes that move the robot are bounded by the step ceiling
				if r.steps > before {
					continue
				}
				r.loops++
				if r.loops > ip.opts.MaxLoopIterations {
					return &halt{status: StatusFailed, reason: ReasonLoopLimit, node: n, path: path}
				}
			}

		case n.Type == program.KindIf:
			if err := ip.checkpoint(r); err != nil {
				return err
			}
			result := n.Condition.Evaluate(r.robot)
			ip.logger.Debug("condition", "run", r.id, "condition", n.Condition, "result", result)
			ip.emit(r, Event{Type: EventConditionEvaluated, Node: n, Path: path, Condition: &result})

			branchOffset := 0
			if !result {
				branchOffset = len(n.Then)
			}
			if err := ip.walk(r, program.OrderedChildren(n, result), path, branchOffset); err != nil {
				return err
			}

		default:
			return &halt{status: StatusFailed, reason: ReasonInvalidCommand, node: n, path: path}
		}
	}
	return nil
}

func (ip *Interpreter) primitive(r *run, n *program.Node, path []int) error {
	if err := ip.checkpoint(r); err != nil {
		return err
	}
	if r.steps >= ip.opts.MaxExecutionSteps {
		return &halt{status: StatusFailed, reason: ReasonStepLimit, node: n, path: path}
	}

	ip.mu.Lock()
	ip.current = n
	ip.path = path
	ip.mu.Unlock()

	ok, err := engine.ApplyPrimitive(r.robot, string(n.Type))
	if err != nil {
		return &halt{status: StatusFailed, reason: ReasonInvalidCommand, node: n, path: path}
	}
	if !ok {
		return &halt{status: StatusFailed, reason: ReasonIllegalMove, node: n, path: path}
	}
	r.steps++

	ip.logger.Debug("command", "run", r.id, "step", r.steps, "command", n.Type, "position", r.robot.Position())
	ip.emit(r, Event{Type: EventCommandExecuted, Node: n, Path: path})

	return ip.pace(r)
}

// checkpoint blocks while the run is paused and reports cancellation
func (ip *Interpreter) checkpoint(r *run) error {
	for {
		if r.ctx.Err() != nil {
			return &halt{status: StatusCancelled, reason: ReasonCancelled}
		}

		ip.mu.Lock()
		resume := r.resume
		paused := ip.status == StatusPaused
		ip.mu.Unlock()
		if !paused || resume == nil {
			return nil
		}

		ip.emit(r, Event{Type: EventRunPaused})
		select {
		case <-resume:
			ip.emit(r, Event{Type: EventRunResumed})
		case <-r.ctx.Done():
			return &halt{status: StatusCancelled, reason: ReasonCancelled}
		}
	}
}

// pace waits out the step delay and any animation
func (ip *Interpreter) pace(r *run) error {
	if r.stepDelay > 0 {
		timer := time.NewTimer(r.stepDelay)
		select {
		case <-timer.C:
		case <-r.ctx.Done():
			timer.Stop()
			return &halt{status: StatusCancelled, reason: ReasonCancelled}
		}
	}
	if ip.opts.Animator != nil {
		if err := ip.opts.Animator.Wait(r.ctx); err != nil {
			if r.ctx.Err() != nil {
				return &halt{status: StatusCancelled, reason: ReasonCancelled}
			}
			return err
		}
	}
	return nil
}

func (ip *Interpreter) emit(r *run, e Event) {
	ip.mu.Lock()
	observers := append([]Observer(nil), ip.observers...)
	status := ip.status
	ip.mu.Unlock()

	snap := r.robot.Snapshot()
	e.RunID = r.id
	e.Step = r.steps
	e.Position = snap.Position
	e.Orientation = snap.Orientation
	if e.Status == "" {
		e.Status = status
	}
	e.Timestamp = time.Now()

	for _, o := range observers {
		o.OnEvent(e)
	}
}
