package workflow

import "time"

// StepType selects which of the five step kinds a Step is.
type StepType string

const (
	StepTypeAction      StepType = "ACTION"
	StepTypeDecision    StepType = "DECISION"
	StepTypeParallel    StepType = "PARALLEL"
	StepTypeWait        StepType = "WAIT"
	StepTypeCompensation StepType = "COMPENSATION"
)

// ParallelMode controls whether a PARALLEL step waits for every child or
// moves on once the first finishes, canceling the rest.
type ParallelMode string

const (
	ParallelWaitAll           ParallelMode = "wait-for-all"
	ParallelWaitFirstComplete ParallelMode = "wait-for-first-completed"
)

// ActionFunc performs a step's side effect.
type ActionFunc func(ctx *Context) (StepResult, error)

// DecisionFunc returns the name of the branch to take next.
type DecisionFunc func(ctx *Context) (string, error)

// WaitPredicate is polled until it returns true or the step times out.
type WaitPredicate func(ctx *Context) (bool, error)

// CompensatorFunc undoes a completed step's side effect.
type CompensatorFunc func(ctx *Context) error

// GateFunc decides whether a step runs at all.
type GateFunc func(ctx *Context) bool

// Step is one node in a WorkflowDefinition's step list.
type Step struct {
	StepID     string
	Name       string
	Type       StepType
	Timeout    time.Duration // default 30 minutes
	RetryCount int
	RetryDelay time.Duration

	Action     ActionFunc
	Decision   DecisionFunc
	Compensate CompensatorFunc
	ShouldExecute GateFunc

	// PARALLEL
	Children     []Step
	ParallelMode ParallelMode

	// WAIT
	WaitFor       time.Duration
	WaitPredicate WaitPredicate
	WaitTimeout   time.Duration

	// DECISION: branch name -> index into the definition's Steps to jump to.
	Branches map[string]int
}

func (s Step) effectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 30 * time.Minute
}

// Definition is a named, versioned, ordered list of steps.
type Definition struct {
	Name            string
	Version         string
	Steps           []Step
	Variables       map[string]interface{}
	Timeout         time.Duration // default 24h
	EventHandlers   map[string]ActionFunc
}

func (d Definition) effectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return 24 * time.Hour
}
