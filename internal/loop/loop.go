package loop

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/worker"
)

// Invoker runs the worker once.
type Invoker interface {
	Invoke(ctx context.Context, req worker.Request) (*worker.Invocation, error)
}

// Recorder persists a finalized invocation. It is called before the
// completion marker is checked.
type Recorder interface {
	Record(inv *worker.Invocation) error
}

// Callbacks holds optional hooks for loop events.
type Callbacks struct {
	// OnPhaseChange is called when the phase changes
	OnPhaseChange func(phase Phase)

	// OnIterationStart is called before the worker is launched
	OnIterationStart func(iteration int, args []string)

	// OnIterationComplete is called once the invocation has been recorded
	OnIterationComplete func(inv *worker.Invocation)

	// OnSessionCaptured is called when continue mode captures an identifier
	OnSessionCaptured func(id string)

	// OnCooldown is called before sleeping between iterations
	OnCooldown func(iteration int, d time.Duration)

	// OnComplete is called once with the final result
	OnComplete func(result *Result)
}

// Loop runs iterations until a terminal phase is reached. A Loop runs once.
type Loop struct {
	cfg      Config
	invoker  Invoker
	tracker  *session.Tracker
	logger   *logging.Logger
	recorder Recorder

	mu        sync.RWMutex
	callbacks *Callbacks
	state     State
	ran       bool

	invocations []*worker.Invocation
	startedAt   time.Time
}

// New validates cfg and creates a Loop.
func New(cfg Config, invoker Invoker, logger *logging.Logger) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loop{
		cfg:     cfg,
		invoker: invoker,
		tracker: session.NewTracker(cfg.SessionMode, cfg.ResumeFlag),
		logger:  logger.WithPhase("loop"),
		state:   State{Phase: PhaseIdle},
	}, nil
}

// SetCallbacks sets the loop callbacks.
func (l *Loop) SetCallbacks(cb *Callbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = cb
}

// SetRecorder sets where invocations are persisted.
func (l *Loop) SetRecorder(r Recorder) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorder = r
}

// State returns a snapshot of the loop state.
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Run executes the loop until it reaches a terminal phase. Cancelling ctx
// interrupts the run; the worker in flight is stopped before Run returns.
// The error is non-nil only for failures outside the worker's control.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	l.mu.Lock()
	if l.ran {
		l.mu.Unlock()
		return nil, errors.New("loop has already run")
	}
	l.ran = true
	l.mu.Unlock()

	l.startedAt = time.Now()
	l.logger.Info("loop started",
		"max_iterations", l.cfg.MaxIterations,
		"session_mode", string(l.cfg.SessionMode),
		"live", l.cfg.Live,
	)

	for {
		if ctx.Err() != nil {
			return l.finish(PhaseInterrupted), nil
		}

		n := l.nextIteration()
		args := l.buildArgs()
		l.notifyIterationStart(n, args)

		inv, err := l.invoker.Invoke(ctx, worker.Request{Iteration: n, Args: args, Stream: l.cfg.Live})
		if err != nil {
			if ctx.Err() == nil {
				return nil, errors.Wrapf(err, "iteration %d", n)
			}
			now := time.Now()
			inv = &worker.Invocation{
				Iteration: n,
				StartedAt: now,
				EndedAt:   now,
				Outcome:   worker.OutcomeInterrupted,
				ExitCode:  -1,
				Err:       err,
			}
		}

		l.invocations = append(l.invocations, inv)
		l.record(inv)
		l.notifyIterationComplete(inv)

		if inv.Outcome.Terminal() {
			phase := PhaseInterrupted
			if inv.Outcome == worker.OutcomeTimeout {
				phase = PhaseTimedOut
			}
			return l.finish(phase), nil
		}

		if l.observeSession(n, inv) {
			l.notifySessionCaptured(l.tracker.ID())
		}

		if l.completionFound(inv) {
			l.logger.Info("completion marker found", "iteration", n)
			return l.finish(PhaseCompleted), nil
		}

		if n >= l.cfg.MaxIterations {
			l.logger.Info("iteration budget exhausted", "iterations", n)
			return l.finish(PhaseExhausted), nil
		}

		l.notifyCooldown(n)
		if err := sleepOrCancel(ctx, l.cfg.Cooldown); err != nil {
			return l.finish(PhaseInterrupted), nil
		}
	}
}

func (l *Loop) nextIteration() int {
	l.mu.Lock()
	l.state.Iteration++
	n := l.state.Iteration
	changed := l.state.Phase != PhaseRunning
	l.state.Phase = PhaseRunning
	l.mu.Unlock()

	if changed {
		l.notifyPhaseChange(PhaseRunning)
	}
	return n
}

// buildArgs assembles the worker arguments for the next iteration:
// base arguments, stream arguments in live mode, resume arguments once a
// session is held, then the prompt.
func (l *Loop) buildArgs() []string {
	args := slices.Clone(l.cfg.BaseArgs)
	if l.cfg.Live {
		args = append(args, l.cfg.StreamArgs...)
	}
	args = l.tracker.Augment(args)
	if l.cfg.PromptFlag != "" {
		args = append(args, l.cfg.PromptFlag)
	}
	return append(args, l.cfg.Prompt)
}

// completionFound scans the raw output and the display text. Streamed JSON
// escapes characters such as '<' and '"', so a marker the worker printed
// may only appear verbatim in the decoded display text.
func (l *Loop) completionFound(inv *worker.Invocation) bool {
	marker := l.cfg.CompletionMarker
	return strings.Contains(inv.Output, marker) || strings.Contains(inv.Display, marker)
}

func (l *Loop) observeSession(n int, inv *worker.Invocation) bool {
	id, captured := l.tracker.Observe(n, inv.Output)
	if !captured {
		if n == 1 && l.tracker.Mode() == session.ModeContinue {
			l.logger.Warn("no session identifier in first iteration, continuing without resume")
		}
		return false
	}

	l.mu.Lock()
	l.state.SessionID = id
	l.mu.Unlock()
	l.logger.Info("session captured", "session_id", id)
	return true
}

func (l *Loop) record(inv *worker.Invocation) {
	l.mu.RLock()
	r := l.recorder
	l.mu.RUnlock()
	if r == nil {
		return
	}
	if err := r.Record(inv); err != nil {
		l.logger.Warn("failed to record iteration", "iteration", inv.Iteration, "error", err.Error())
	}
}

func (l *Loop) finish(phase Phase) *Result {
	l.mu.Lock()
	l.state.Phase = phase
	result := &Result{
		Phase:       phase,
		Iteration:   l.state.Iteration,
		SessionID:   l.state.SessionID,
		Invocations: slices.Clone(l.invocations),
		StartedAt:   l.startedAt,
		EndedAt:     time.Now(),
	}
	l.mu.Unlock()

	l.notifyPhaseChange(phase)
	l.logger.Info("loop finished",
		"phase", string(phase),
		"iteration", result.Iteration,
		"exit_code", result.ExitCode(),
	)
	l.notifyComplete(result)
	return result
}

func (l *Loop) cb() *Callbacks {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.callbacks
}

func (l *Loop) notifyPhaseChange(phase Phase) {
	if cb := l.cb(); cb != nil && cb.OnPhaseChange != nil {
		cb.OnPhaseChange(phase)
	}
}

func (l *Loop) notifyIterationStart(n int, args []string) {
	l.logger.Info("iteration started", "iteration", n, "resume", l.tracker.ID() != "")
	if cb := l.cb(); cb != nil && cb.OnIterationStart != nil {
		cb.OnIterationStart(n, args)
	}
}

func (l *Loop) notifyIterationComplete(inv *worker.Invocation) {
	if inv.Err != nil && inv.Outcome != worker.OutcomeSuccess && inv.Outcome != worker.OutcomeInterrupted {
		attrs := []any{"iteration", inv.Iteration, "outcome", string(inv.Outcome), "exit_code", inv.ExitCode, "error", inv.Err.Error()}
		if errors.IsRetryable(inv.Err) {
			l.logger.Warn("worker iteration failed, continuing", attrs...)
		} else {
			attrs = append(attrs, "severity", errors.GetSeverity(inv.Err).String())
			l.logger.Error("worker iteration failed", attrs...)
		}
	}
	if cb := l.cb(); cb != nil && cb.OnIterationComplete != nil {
		cb.OnIterationComplete(inv)
	}
}

func (l *Loop) notifySessionCaptured(id string) {
	if cb := l.cb(); cb != nil && cb.OnSessionCaptured != nil {
		cb.OnSessionCaptured(id)
	}
}

func (l *Loop) notifyCooldown(n int) {
	if cb := l.cb(); cb != nil && cb.OnCooldown != nil {
		cb.OnCooldown(n, l.cfg.Cooldown)
	}
}

func (l *Loop) notifyComplete(result *Result) {
	if cb := l.cb(); cb != nil && cb.OnComplete != nil {
		cb.OnComplete(result)
	}
}

// sleepOrCancel waits for d or until ctx is done, whichever comes first.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
