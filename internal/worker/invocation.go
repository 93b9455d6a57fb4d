package worker

import "time"

// Outcome classifies how an invocation ended.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeWorkerError Outcome = "worker_error"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeInterrupted Outcome = "interrupted"
)

// Terminal reports whether the outcome ends the run.
func (o Outcome) Terminal() bool {
	return o == OutcomeTimeout || o == OutcomeInterrupted
}

// Request describes one invocation.
type Request struct {
	// Iteration is the 1-based iteration number.
	Iteration int
	// Args are the complete worker arguments, prompt included.
	Args []string
	// Stream selects line-by-line processing of JSON events.
	Stream bool
}

// Invocation is the finalized record of one worker run.
type Invocation struct {
	Iteration int
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   Outcome
	// ExitCode is -1 when the worker was killed or never started.
	ExitCode int
	// Output is the raw combined stdout and stderr.
	Output string
	// Display is the human-readable text extracted from streamed events.
	Display string
	Elapsed time.Duration
	// Err explains a worker_error outcome.
	Err error
}
