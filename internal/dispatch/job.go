package dispatch

import (
	"context"
	"errors"
	"time"
)

// State is a job lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

var (
	ErrDuplicate        = errors.New("job already pending or running")
	ErrPreviouslyFailed = errors.New("previous attempt failed; remove the output directory to retry")
	ErrOutputBusy       = errors.New("output directory belongs to another source with the same name")
	ErrQueueFull        = errors.New("job queue is full")
	ErrStopped          = errors.New("dispatcher is stopped")
)

// Job is one encoding attempt for a source file.
type Job struct {
	ID           string
	Source       string
	OutputDir    string
	State        State
	CreatedAt    time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	ErrorKind    string
	ErrorMessage string
	ExitCode     int
	StderrTail   string
}

// Duration is the running time of a started job; zero before it starts.
func (j Job) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	end := j.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(j.StartedAt)
}

// Outcome is what a Runner reports about the process it supervised.
type Outcome struct {
	ExitCode   int
	StderrTail string
}

// Runner performs the work of a job. The context is cancelled when the job is
// superseded or the dispatcher is shutting down.
type Runner interface {
	Run(ctx context.Context, job Job) (Outcome, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) (Outcome, error)

func (f RunnerFunc) Run(ctx context.Context, job Job) (Outcome, error) {
	return f(ctx, job)
}

// Verifier re-checks a source right before it is launched.
type Verifier interface {
	Eligible(path string) bool
}

// Recorder persists job transitions. Errors are logged, never fatal.
type Recorder interface {
	Record(ctx context.Context, job Job) error
}

// Stats counts jobs per state.
type Stats struct {
	Pending   int
	Running   int
	Succeeded int
	Failed    int
}
