package interpreter

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/program"
)

func quietOptions() Options {
	return Options{Logger: log.New(io.Discard)}
}

func newRobot(t *testing.T, level *engine.LevelDescriptor) *engine.RobotState {
	t.Helper()
	world, err := engine.NewGridWorld(level)
	require.NoError(t, err)
	robot, err := engine.NewRobotState(world, level.Start, level.StartOrientation)
	require.NoError(t, err)
	return robot
}

// corridor is a width x 1 strip with the goal at the east end; the robot
// starts at the west end facing east
func corridor(t *testing.T, width int) *engine.RobotState {
	return newRobot(t, &engine.LevelDescriptor{
		Width:            width,
		Height:           1,
		Layout:           []string{strings.Repeat(".", width-1) + "G"},
		StartOrientation: engine.East,
	})
}

func scenario(t *testing.T) *engine.RobotState {
	return newRobot(t, &engine.LevelDescriptor{
		Width:  8,
		Height: 8,
		Layout: []string{
			".......G",
			"........",
			"........",
			"........",
			".#####..",
			"........",
			"........",
			"........",
		},
		StartOrientation: engine.East,
	})
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recorder) count(typ EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) of(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// next waits for the next event of the given type
func (r *recorder) next(t *testing.T, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

// gate is an Animator that holds the run after every primitive until the
// test releases it
type gate chan struct{}

func (g gate) Wait(ctx context.Context) error {
	select {
	case <-g:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRun_Completes(t *testing.T) {
	robot := corridor(t, 4)
	ip := New(quietOptions())
	rec := newRecorder()
	ip.Subscribe(rec)

	res, err := ip.Run(context.Background(), program.Program{program.Move(), program.Move(), program.Move()}, robot)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 3, res.StepsExecuted)
	assert.Equal(t, 3, res.CommandsUsed)
	assert.Equal(t, engine.Position{X: 3, Y: 0}, res.Position)
	assert.True(t, res.OnGoal)
	assert.NotEmpty(t, res.RunID)

	assert.Equal(t, 1, rec.count(EventRunStarted))
	assert.Equal(t, 3, rec.count(EventCommandExecuted))
	assert.Equal(t, 1, rec.count(EventRunCompleted))
	assert.Equal(t, StatusCompleted, ip.Status())
	assert.False(t, robot.IsRunning())
	assert.Equal(t, res, ip.LastResult())
}

func TestRun_AllOrNothing(t *testing.T) {
	robot := corridor(t, 3)
	ip := New(quietOptions())
	rec := newRecorder()
	ip.Subscribe(rec)

	p := program.Program{
		program.Move(),
		program.Move(),
		program.Move(), // off the east edge
		program.Left(),
		program.Right(),
	}
	res, err := ip.Run(context.Background(), p, robot)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonIllegalMove, res.Reason)
	assert.Equal(t, 2, res.StepsExecuted)
	assert.Equal(t, []int{2}, res.FailedPath)
	assert.Same(t, p[2], res.FailedNode)
	assert.Equal(t, engine.Position{X: 2, Y: 0}, res.Position)
	assert.Equal(t, engine.East, res.Orientation, "turns after the failure must not run")

	assert.Equal(t, 2, rec.count(EventCommandExecuted))
	failed := rec.of(EventRunFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, ReasonIllegalMove, failed[0].Reason)

	robot.ResetToStart()
	assert.Equal(t, engine.Position{}, robot.Position())
	assert.Equal(t, engine.East, robot.Orientation())
}

func TestRun_FailureInsideRepeatAbortsWholeRun(t *testing.T) {
	robot := corridor(t, 3)
	ip := New(quietOptions())

	p := program.Program{program.Repeat(5, program.Move()), program.Left()}
	res, err := ip.Run(context.Background(), p, robot)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.StepsExecuted)
	assert.Equal(t, []int{0, 0}, res.FailedPath)
	assert.Equal(t, engine.East, robot.Orientation())
}

func TestRun_RepeatExpansion(t *testing.T) {
	flatRobot := corridor(t, 5)
	loopRobot := corridor(t, 5)

	flatRec, loopRec := newRecorder(), newRecorder()
	flat, loop := New(quietOptions()), New(quietOptions())
	flat.Subscribe(flatRec)
	loop.Subscribe(loopRec)

	flatRes, err := flat.Run(context.Background(), program.Program{program.Move(), program.Move(), program.Move()}, flatRobot)
	require.NoError(t, err)
	loopRes, err := loop.Run(context.Background(), program.Program{program.Repeat(3, program.Move())}, loopRobot)
	require.NoError(t, err)

	assert.Equal(t, flatRes.Position, loopRes.Position)
	assert.Equal(t, engine.Position{X: 3, Y: 0}, loopRes.Position)
	assert.Equal(t, flatRec.count(EventCommandExecuted), loopRec.count(EventCommandExecuted))
	assert.Equal(t, 3, loopRec.count(EventCommandExecuted))
	for _, e := range loopRec.of(EventCommandExecuted) {
		assert.Equal(t, program.KindMoveForward, e.Node.Type)
		assert.Equal(t, []int{0, 0}, e.Path)
	}
}

func TestRun_IfBranchExclusivity(t *testing.T) {
	p := func() program.Program {
		return program.Program{
			program.If(program.WallAhead,
				[]*program.Node{program.Right()},
				[]*program.Node{program.Move()},
			),
		}
	}

	t.Run("wall ahead", func(t *testing.T) {
		robot := corridor(t, 3)
		require.NoError(t, robot.Restore(engine.Position{X: 2, Y: 0}, engine.East))
		ip := New(quietOptions())
		rec := newRecorder()
		ip.Subscribe(rec)

		res, err := ip.Run(context.Background(), p(), robot)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, res.Status)

		executed := rec.of(EventCommandExecuted)
		require.Len(t, executed, 1)
		assert.Equal(t, program.KindTurnRight, executed[0].Node.Type)
		assert.Equal(t, []int{0, 0}, executed[0].Path)
		assert.Equal(t, engine.Position{X: 2, Y: 0}, res.Position)
		assert.Equal(t, engine.South, res.Orientation)

		cond := rec.of(EventConditionEvaluated)
		require.Len(t, cond, 1)
		require.NotNil(t, cond[0].Condition)
		assert.True(t, *cond[0].Condition)
	})

	t.Run("path ahead", func(t *testing.T) {
		robot := corridor(t, 3)
		ip := New(quietOptions())
		rec := newRecorder()
		ip.Subscribe(rec)

		res, err := ip.Run(context.Background(), p(), robot)
		require.NoError(t, err)

		executed := rec.of(EventCommandExecuted)
		require.Len(t, executed, 1)
		assert.Equal(t, program.KindMoveForward, executed[0].Node.Type)
		// else children are numbered after the then children
		assert.Equal(t, []int{0, 1}, executed[0].Path)
		assert.Equal(t, engine.Position{X: 1, Y: 0}, res.Position)
		assert.Equal(t, engine.East, res.Orientation)
	})
}

func TestRun_ConditionReevaluatedEachTime(t *testing.T) {
	robot := corridor(t, 4)
	ip := New(quietOptions())

	// Walk until the wall, then turn around once
	p := program.Program{
		program.Repeat(5,
			program.If(program.PathAhead,
				[]*program.Node{program.Move()},
				[]*program.Node{program.Right()},
			),
		),
	}
	res, err := ip.Run(context.Background(), p, robot)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, engine.Position{X: 3, Y: 0}, res.Position)
	// three moves then two right turns from east
	assert.Equal(t, engine.West, res.Orientation)
	assert.Equal(t, 5, res.StepsExecuted)
}

func TestRun_ScenarioBottomRow(t *testing.T) {
	robot := scenario(t)
	ip := New(quietOptions())

	res, err := ip.Run(context.Background(), program.Program{program.Repeat(7, program.Move())}, robot)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, engine.Position{X: 7, Y: 0}, res.Position)
	assert.False(t, res.OnGoal)
	assert.False(t, robot.IsOnGoal())
}

func TestRun_StepCeiling(t *testing.T) {
	t.Run("corridor", func(t *testing.T) {
		robot := corridor(t, 64)
		opts := quietOptions()
		opts.MaxExecutionSteps = 50
		ip := New(opts)

		p := program.Program{program.Repeat(10, program.Repeat(10, program.Move()))}
		res, err := ip.Run(context.Background(), p, robot)
		require.NoError(t, err)

		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, ReasonStepLimit, res.Reason)
		assert.Equal(t, 50, res.StepsExecuted)
		assert.Equal(t, engine.Position{X: 50, Y: 0}, res.Position)
	})

	t.Run("default ceiling", func(t *testing.T) {
		robot := corridor(t, 2)
		ip := New(quietOptions())
		require.Equal(t, DefaultMaxExecutionSteps, ip.Options().MaxExecutionSteps)

		// 10^4 turns, well past the ceiling
		spin := program.Repeat(10, program.Repeat(10, program.Repeat(10, program.Repeat(10, program.Right()))))
		res, err := ip.Run(context.Background(), program.Program{spin}, robot)
		require.NoError(t, err)

		assert.Equal(t, StatusFailed, res.Status)
		assert.Equal(t, ReasonStepLimit, res.Reason)
		assert.Equal(t, DefaultMaxExecutionSteps, res.StepsExecuted)
	})

	t.Run("exactly at ceiling", func(t *testing.T) {
		robot := corridor(t, 2)
		ip := New(quietOptions())

		p := program.Program{program.Repeat(10, program.Repeat(10, program.Repeat(10, program.Right())))}
		res, err := ip.Run(context.Background(), p, robot)
		require.NoError(t, err)

		assert.Equal(t, StatusCompleted, res.Status)
		assert.Empty(t, res.Reason)
		assert.Equal(t, DefaultMaxExecutionSteps, res.StepsExecuted)
	})

	t.Run("under ceiling", func(t *testing.T) {
		robot := corridor(t, 2)
		ip := New(quietOptions())

		p := program.Program{program.Repeat(10, program.Repeat(10, program.Right()))}
		res, err := ip.Run(context.Background(), p, robot)
		require.NoError(t, err)

		assert.Equal(t, StatusCompleted, res.Status)
		assert.Equal(t, 100, res.StepsExecuted)
		assert.Equal(t, engine.East, res.Orientation)
	})
}

func TestRun_LoopCeiling(t *testing.T) {
	robot := corridor(t, 2)
	opts := quietOptions()
	opts.MaxLoopIterations = 100
	ip := New(opts)

	p := program.Program{program.Repeat(10, program.Repeat(10, program.Repeat(10)))}
	res, err := ip.Run(context.Background(), p, robot)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonLoopLimit, res.Reason)
	assert.Equal(t, 0, res.StepsExecuted)
}

func TestRun_LoopCeilingIgnoresPassesThatMove(t *testing.T) {
	robot := corridor(t, 2)
	opts := quietOptions()
	opts.MaxLoopIterations = 5
	ip := New(opts)

	// 100 passes, each turning the robot
	p := program.Program{program.Repeat(10, program.Repeat(10, program.Right()))}
	res, err := ip.Run(context.Background(), p, robot)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 100, res.StepsExecuted)
}

func TestRun_InvalidNode(t *testing.T) {
	robot := corridor(t, 2)
	ip := New(quietOptions())

	res, err := ip.Run(context.Background(), program.Program{{Type: "teleport"}}, robot)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonInvalidCommand, res.Reason)
}

func TestRun_EmptyProgramCompletes(t *testing.T) {
	robot := corridor(t, 2)
	ip := New(quietOptions())

	res, err := ip.Run(context.Background(), nil, robot)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 0, res.StepsExecuted)
}

func TestRun_NonPositiveRepeatRunsZeroTimes(t *testing.T) {
	robot := corridor(t, 3)
	ip := New(quietOptions())

	res, err := ip.Run(context.Background(), program.Program{program.Repeat(0, program.Move()), program.Repeat(-3, program.Move())}, robot)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, engine.Position{}, res.Position)
}

func TestStart_RejectsSecondRun(t *testing.T) {
	robot := corridor(t, 5)
	g := make(gate)
	opts := quietOptions()
	opts.Animator = g
	ip := New(opts)
	rec := newRecorder()
	ip.Subscribe(rec)

	id, err := ip.Start(context.Background(), program.Program{program.Move(), program.Move()}, robot)
	require.NoError(t, err)
	assert.Equal(t, id, ip.RunID())
	rec.next(t, EventCommandExecuted)

	_, err = ip.Start(context.Background(), program.Program{program.Move()}, robot)
	assert.ErrorIs(t, err, ErrRunActive)

	other := New(quietOptions())
	_, err = other.Start(context.Background(), program.Program{program.Move()}, robot)
	assert.ErrorIs(t, err, ErrRunActive, "robot is owned by the first interpreter")

	g <- struct{}{}
	g <- struct{}{}
	res, err := ip.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, id, res.RunID)

	// a finished interpreter accepts a new run
	go func() { g <- struct{}{} }()
	res, err = ip.Run(context.Background(), program.Program{program.Left()}, robot, WithStepDelay(0))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.NotEqual(t, id, res.RunID)
}

func TestTerminalEventPrecedesNextRun(t *testing.T) {
	robot := corridor(t, 3)
	ip := New(quietOptions())

	var (
		startErr error
		running  bool
		status   Status
	)
	ip.Subscribe(ObserverFunc(func(e Event) {
		if e.Type != EventRunCompleted {
			return
		}
		running = robot.IsRunning()
		status = ip.Status()
		_, startErr = ip.Start(context.Background(), program.Program{program.Move()}, robot)
	}))

	res, err := ip.Run(context.Background(), program.Program{program.Move()}, robot)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)

	assert.False(t, running, "robot should be released before observers run")
	assert.Equal(t, StatusCompleted, status)
	assert.ErrorIs(t, startErr, ErrRunActive)

	res, err = ip.Run(context.Background(), program.Program{program.Move()}, robot)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, engine.Position{X: 2, Y: 0}, res.Position)
}

func TestPauseResume(t *testing.T) {
	robot := corridor(t, 5)
	g := make(gate)
	opts := quietOptions()
	opts.Animator = g
	ip := New(opts)
	rec := newRecorder()
	ip.Subscribe(rec)

	p := program.Program{program.Move(), program.Repeat(3, program.Move())}
	_, err := ip.Start(context.Background(), p, robot)
	require.NoError(t, err)

	first := rec.next(t, EventCommandExecuted)
	assert.Equal(t, []int{0}, first.Path)
	require.NoError(t, ip.Pause())
	assert.Equal(t, StatusPaused, ip.Status())
	assert.ErrorIs(t, ip.Pause(), ErrNotRunning)

	g <- struct{}{}
	rec.next(t, EventRunPaused)
	assert.Equal(t, engine.Position{X: 1, Y: 0}, robot.Position())
	node, path := ip.CurrentCommand()
	require.NotNil(t, node)
	assert.Equal(t, []int{0}, path)

	require.NoError(t, ip.Resume())
	assert.ErrorIs(t, ip.Resume(), ErrNotPaused)
	rec.next(t, EventRunResumed)

	// resumed mid-program: the next primitive is inside the repeat
	second := rec.next(t, EventCommandExecuted)
	assert.Equal(t, []int{1, 0}, second.Path)
	for i := 0; i < 3; i++ {
		g <- struct{}{}
	}

	res, err := ip.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 4, res.StepsExecuted)
	assert.Equal(t, engine.Position{X: 4, Y: 0}, res.Position)
	assert.Equal(t, 4, rec.count(EventCommandExecuted))
}

func TestStop(t *testing.T) {
	robot := corridor(t, 5)
	g := make(gate)
	opts := quietOptions()
	opts.Animator = g
	ip := New(opts)
	rec := newRecorder()
	ip.Subscribe(rec)

	_, err := ip.Start(context.Background(), program.Program{program.Move(), program.Move(), program.Move()}, robot)
	require.NoError(t, err)
	rec.next(t, EventCommandExecuted)

	require.NoError(t, ip.Stop())
	res, err := ip.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Equal(t, 1, res.StepsExecuted)
	assert.Equal(t, engine.Position{X: 1, Y: 0}, robot.Position(), "stop does not reset the robot")
	assert.Equal(t, 1, rec.count(EventRunCancelled))
	assert.False(t, robot.IsRunning())

	node, _ := ip.CurrentCommand()
	assert.Nil(t, node)
	assert.ErrorIs(t, ip.Stop(), ErrNotRunning)
}

func TestStopWhilePaused(t *testing.T) {
	robot := corridor(t, 5)
	g := make(gate)
	opts := quietOptions()
	opts.Animator = g
	ip := New(opts)
	rec := newRecorder()
	ip.Subscribe(rec)

	_, err := ip.Start(context.Background(), program.Program{program.Move(), program.Move()}, robot)
	require.NoError(t, err)
	rec.next(t, EventCommandExecuted)
	require.NoError(t, ip.Pause())
	g <- struct{}{}
	rec.next(t, EventRunPaused)

	require.NoError(t, ip.Stop())
	res, err := ip.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 1, res.StepsExecuted)
}

func TestContextCancellation(t *testing.T) {
	robot := corridor(t, 5)
	opts := quietOptions()
	opts.StepDelay = time.Hour
	ip := New(opts)
	rec := newRecorder()
	ip.Subscribe(rec)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := ip.Start(ctx, program.Program{program.Move(), program.Move()}, robot)
	require.NoError(t, err)
	rec.next(t, EventCommandExecuted)
	cancel()

	res, err := ip.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, 1, res.StepsExecuted)
}

func TestStepDelay(t *testing.T) {
	robot := corridor(t, 4)
	ip := New(quietOptions())

	res, err := ip.Run(context.Background(), program.Program{program.Move(), program.Move()}, robot, WithStepDelay(10*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.GreaterOrEqual(t, res.Duration, 20*time.Millisecond)
}

func TestControlErrorsWhenIdle(t *testing.T) {
	ip := New(quietOptions())

	assert.Equal(t, StatusIdle, ip.Status())
	assert.ErrorIs(t, ip.Pause(), ErrNotRunning)
	assert.ErrorIs(t, ip.Resume(), ErrNotPaused)
	assert.ErrorIs(t, ip.Stop(), ErrNotRunning)

	_, err := ip.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = ip.Start(context.Background(), program.Program{program.Move()}, nil)
	assert.ErrorIs(t, err, ErrNilRobot)
	assert.Empty(t, ip.RunID())
}

func TestTransitions(t *testing.T) {
	s := StatusIdle
	require.NoError(t, transition(&s, StatusRunning))
	require.NoError(t, transition(&s, StatusPaused))
	assert.ErrorIs(t, transition(&s, StatusCompleted), ErrInvalidTransition)
	require.NoError(t, transition(&s, StatusCancelled))
	assert.True(t, s.Terminal())
	require.NoError(t, transition(&s, StatusRunning))
	assert.True(t, s.Active())
	assert.ErrorIs(t, transition(&s, StatusIdle), ErrInvalidTransition)
}
