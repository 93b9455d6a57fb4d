package detect

import (
	"context"
	"time"

	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/worker/process"
)

const (
	maxPollInterval = time.Second
	minPollInterval = 10 * time.Millisecond
)

// Target is the live worker the watchdog observes.
type Target interface {
	process.Target
	StartedAt() time.Time
	LastOutput() time.Time
	Commit(v process.Verdict) bool
	Verdict() process.Verdict
}

// Stopper terminates a worker process group. StopGroup handles a group whose
// leader has already exited.
type Stopper interface {
	Stop(t process.Target, grace time.Duration) process.StopResult
	StopGroup(t process.Target, grace time.Duration) process.StopResult
}

// Result describes how a watched invocation ended.
type Result struct {
	// Verdict is the verdict committed on the handle.
	Verdict process.Verdict
	// Timeout is the timeout that fired, when Verdict is VerdictTimedOut.
	Timeout TimeoutType
	// Stop is what the stopper had to do, either to stop the worker or to sweep
	// processes it left in its group.
	Stop process.StopResult
}

// WatchdogConfig configures a Watchdog.
type WatchdogConfig struct {
	Timeouts TimeoutConfig
	// KillGrace is the grace period handed to the stopper.
	KillGrace time.Duration
	// PollInterval overrides the interval derived from the timeouts.
	PollInterval time.Duration
}

// Watchdog watches one worker invocation at a time for hangs, runaway
// runtime and interrupts. It never looks at the worker's output, only at
// when output last arrived.
type Watchdog struct {
	detector *TimeoutDetector
	stopper  Stopper
	grace    time.Duration
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// NewWatchdog creates a watchdog. A nil logger discards output.
func NewWatchdog(cfg WatchdogConfig, stopper Stopper, logger *logging.Logger) *Watchdog {
	if logger == nil {
		logger = logging.NopLogger()
	}
	detector := NewTimeoutDetector(cfg.Timeouts)
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = pollInterval(detector.Limit())
	}
	return &Watchdog{
		detector: detector,
		stopper:  stopper,
		grace:    cfg.KillGrace,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// pollInterval checks ten times per timeout period, within sane bounds.
func pollInterval(limit time.Duration) time.Duration {
	if limit <= 0 {
		return maxPollInterval
	}
	interval := limit / 10
	if interval > maxPollInterval {
		return maxPollInterval
	}
	if interval < minPollInterval {
		return minPollInterval
	}
	return interval
}

// Watch blocks until t has been reaped and nothing is left in its process
// group. If a timeout fires or ctx is cancelled first, Watch commits the
// matching verdict and, if that commit wins, stops the worker through the
// stopper exactly once. A worker that exits on its own has any leftover
// group members swept with StopGroup.
func (w *Watchdog) Watch(ctx context.Context, t Target) Result {
	// With no limit configured only exit and interrupt are watched.
	var tick <-chan time.Time
	if w.detector.IsIdleTimeoutEnabled() || w.detector.IsHardTimeoutEnabled() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-t.Done():
			return w.exited(t)

		case <-ctx.Done():
			if !t.Commit(process.VerdictInterrupted) {
				<-t.Done()
				return w.exited(t)
			}
			w.logger.Warn("interrupt received, stopping worker", "pid", t.PID())
			stop := w.stopper.Stop(t, w.grace)
			return Result{Verdict: process.VerdictInterrupted, Stop: stop}

		case <-tick:
			fired := w.detector.CheckTimeout(CheckInput{
				Now:        w.now(),
				StartTime:  t.StartedAt(),
				LastOutput: t.LastOutput(),
			})
			if fired == TimeoutNone {
				continue
			}
			if !t.Commit(process.VerdictTimedOut) {
				<-t.Done()
				return w.exited(t)
			}
			w.logger.Error("worker timed out, stopping",
				"pid", t.PID(),
				"timeout", fired.String(),
				"limit", w.detector.Limit().String(),
				"idle_for", w.now().Sub(t.LastOutput()).Round(time.Millisecond).String(),
			)
			stop := w.stopper.Stop(t, w.grace)
			return Result{Verdict: process.VerdictTimedOut, Timeout: fired, Stop: stop}
		}
	}
}

// exited finishes a watch on a worker that exited on its own.
func (w *Watchdog) exited(t Target) Result {
	r := Result{Verdict: t.Verdict()}
	if t.GroupAlive() {
		r.Stop = w.stopper.StopGroup(t, w.grace)
	}
	return r
}

// Limit returns the timeout threshold the watchdog enforces.
func (w *Watchdog) Limit() time.Duration {
	return w.detector.Limit()
}
