package loop

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/exitcode"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/worker"
)

// Config is the immutable configuration of one run.
type Config struct {
	// MaxIterations is the iteration budget. Must be positive.
	MaxIterations int

	// Prompt is the task text sent on every iteration.
	Prompt string

	// PromptFlag precedes the prompt argument, e.g. "-p". Empty passes the
	// prompt as a bare argument.
	PromptFlag string

	// BaseArgs are passed to the worker before everything else.
	BaseArgs []string

	// StreamArgs are added in live mode to make the worker emit JSON events.
	StreamArgs []string

	// ResumeFlag precedes the session identifier in continue mode.
	ResumeFlag string

	// CompletionMarker is the literal text that ends the run successfully.
	CompletionMarker string

	// Cooldown is the pause between iterations.
	Cooldown time.Duration

	// SessionMode selects clean or continue.
	SessionMode session.Mode

	// Live selects streaming mode with the idle watchdog; otherwise output is
	// buffered and the hard timeout applies.
	Live bool

	IdleTimeout time.Duration
	HardTimeout time.Duration
	KillGrace   time.Duration
}

// Validate checks the configuration and returns every problem found.
func (c Config) Validate() error {
	var errs []error
	invalid := func(field string, value any, msg string) {
		errs = append(errs, errors.NewValidationError(msg).WithField(field).WithValue(value))
	}

	if c.MaxIterations <= 0 {
		invalid("max_iterations", c.MaxIterations, "must be greater than 0")
	}
	if strings.TrimSpace(c.Prompt) == "" {
		errs = append(errs, errors.NewValidationError("prompt is empty").WithField("prompt").WithCause(errors.ErrPromptEmpty))
	}
	if c.CompletionMarker == "" {
		invalid("completion_marker", c.CompletionMarker, "must not be empty")
	}
	if c.Cooldown < 0 {
		invalid("cooldown", c.Cooldown, "must not be negative")
	}
	if _, ok := session.ParseMode(string(c.SessionMode)); !ok {
		invalid("session_mode", c.SessionMode, "must be clean or continue")
	}
	if c.SessionMode == session.ModeContinue && c.ResumeFlag == "" {
		invalid("resume_flag", c.ResumeFlag, "is required in continue mode")
	}
	if c.Live && c.IdleTimeout <= 0 {
		invalid("idle_timeout", c.IdleTimeout, "must be greater than 0 in live mode")
	}
	if !c.Live && c.HardTimeout <= 0 {
		invalid("hard_timeout", c.HardTimeout, "must be greater than 0 in buffered mode")
	}
	if c.KillGrace < 0 {
		invalid("kill_grace", c.KillGrace, "must not be negative")
	}
	return errors.Join(errs...)
}

// Phase is the state of the loop.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseRunning     Phase = "running"
	PhaseCompleted   Phase = "completed"
	PhaseExhausted   Phase = "exhausted"
	PhaseTimedOut    Phase = "timed_out"
	PhaseInterrupted Phase = "interrupted"
)

// State is the loop's progress. Iteration is 0 before the first attempt and
// never exceeds the budget.
type State struct {
	Iteration int
	Phase     Phase
	SessionID string
}

// Result is the outcome of a finished run.
type Result struct {
	// Phase is the terminal phase.
	Phase Phase
	// Iteration is the last iteration that was started, or 0.
	Iteration int
	// SessionID is the captured session identifier, if any.
	SessionID   string
	Invocations []*worker.Invocation
	StartedAt   time.Time
	EndedAt     time.Time
}

// Completed reports whether the completion marker was found.
func (r *Result) Completed() bool {
	return r.Phase == PhaseCompleted
}

// Err returns the coded error describing a run that did not complete, or nil.
func (r *Result) Err() error {
	switch r.Phase {
	case PhaseCompleted:
		return nil
	case PhaseExhausted:
		return exitcode.Exhausted(r.Iteration)
	case PhaseTimedOut:
		return exitcode.TimedOut(r.Iteration)
	case PhaseInterrupted:
		return exitcode.Interrupted(r.Iteration)
	default:
		return exitcode.Newf(exitcode.ErrConfig, "run ended in non-terminal phase %s", r.Phase)
	}
}

// ExitCode returns the process exit code for the run.
func (r *Result) ExitCode() int {
	return exitcode.Code(r.Err())
}

// Summary returns a one-line description of the run.
func (r *Result) Summary() string {
	switch r.Phase {
	case PhaseCompleted:
		return fmt.Sprintf("completion marker found in iteration %d", r.Iteration)
	default:
		return r.Err().Error()
	}
}

// Counts tallies invocation outcomes.
func (r *Result) Counts() map[worker.Outcome]int {
	counts := make(map[worker.Outcome]int)
	for _, inv := range r.Invocations {
		counts[inv.Outcome]++
	}
	return counts
}
