package interpreter

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

const (
	DefaultMaxExecutionSteps = 1000
	DefaultMaxLoopIterations = 1000000
	DefaultStepDelay         = time.Second
)

// Animator blocks until the robot's visible motion has finished. A headless
// interpreter runs without one.
type Animator interface {
	Wait(ctx context.Context) error
}

// Options configure an Interpreter
type Options struct {
	// MaxExecutionSteps caps primitive executions per run
	MaxExecutionSteps int
	// MaxLoopIterations caps Repeat passes that execute no primitive,
	// summed over all loops in a run
	MaxLoopIterations int
	// StepDelay is the pause after each primitive. Zero runs flat out.
	StepDelay time.Duration
	Animator  Animator
	Logger    *log.Logger
}

// DefaultOptions returns the standard limits with a one second step delay
func DefaultOptions() Options {
	return Options{
		MaxExecutionSteps: DefaultMaxExecutionSteps,
		MaxLoopIterations: DefaultMaxLoopIterations,
		StepDelay:         DefaultStepDelay,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxExecutionSteps <= 0 {
		o.MaxExecutionSteps = DefaultMaxExecutionSteps
	}
	if o.MaxLoopIterations <= 0 {
		o.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if o.StepDelay < 0 {
		o.StepDelay = 0
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// RunOption adjusts a single run
type RunOption func(*runConfig)

type runConfig struct {
	stepDelay time.Duration
}

// WithStepDelay overrides the interpreter's step delay for one run
func WithStepDelay(d time.Duration) RunOption {
	return func(c *runConfig) {
		if d >= 0 {
			c.stepDelay = d
		}
	}
}
