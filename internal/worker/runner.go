package worker

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/worker/detect"
	"github.com/Iron-Ham/ralph/internal/worker/process"
)

// Watcher observes a running worker until it has been reaped.
type Watcher interface {
	Watch(ctx context.Context, t detect.Target) detect.Result
}

// CheckWorker resolves the worker command on PATH. It is called once before
// the first iteration; a missing worker is a configuration error.
func CheckWorker(command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", errors.NewConfigError("worker command is empty", errors.ErrWorkerNotFound).
			WithField("worker.command")
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return "", errors.NewConfigError("worker command not found: "+command,
			errors.Join(errors.ErrWorkerNotFound, err)).WithField("worker.command")
	}
	return path, nil
}

// Runner launches the worker once per iteration. Only one invocation may be
// in flight at a time.
type Runner struct {
	command  string
	watchdog Watcher
	cfg      runnerConfig
}

// NewRunner creates a Runner for command, stopped by watchdog when it hangs.
func NewRunner(command string, watchdog Watcher, opts ...Option) *Runner {
	cfg := runnerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	return &Runner{command: command, watchdog: watchdog, cfg: cfg}
}

// Invoke runs the worker once and blocks until it has exited and its output
// has been captured. Failures of the worker itself are reported on the
// returned Invocation; the error is non-nil only when ctx was already done.
func (r *Runner) Invoke(ctx context.Context, req Request) (*Invocation, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrInterrupted, "invocation not started")
	}

	logger := r.cfg.logger.WithIteration(req.Iteration)
	inv := &Invocation{
		Iteration: req.Iteration,
		StartedAt: time.Now(),
		ExitCode:  -1,
	}

	logFile := r.openLog(req.Iteration, logger)
	if logFile != nil {
		defer func() {
			if err := logFile.Close(); err != nil {
				logger.Warn("failed to close iteration log", "error", err.Error())
			}
		}()
	}

	var onLine func(string)
	if r.cfg.onDisplay != nil {
		onLine = func(line string) { r.cfg.onDisplay(req.Iteration, line) }
	}
	out := newCapture(req.Stream, logFile, onLine)

	cmd := exec.Command(r.command, req.Args...)
	cmd.Dir = r.cfg.dir

	h, err := process.Start(cmd, process.Options{
		Output:    out,
		PTY:       r.cfg.pty,
		WaitDelay: r.cfg.waitDelay,
	})
	if err != nil {
		inv.EndedAt = time.Now()
		inv.Elapsed = inv.EndedAt.Sub(inv.StartedAt)
		inv.Outcome = OutcomeWorkerError
		inv.Err = errors.NewWorkerError("failed to start worker", errors.Join(errors.ErrWorkerStart, err)).
			WithIteration(req.Iteration)
		logger.Warn("worker failed to start", "command", r.command, "error", err.Error())
		return inv, nil
	}
	logger.Debug("worker started", "pid", h.PID(), "args", len(req.Args), "stream", req.Stream)

	var (
		wg     conc.WaitGroup
		result detect.Result
	)
	wg.Go(func() {
		result = r.watchdog.Watch(ctx, h)
	})
	exitCode, waitErr := h.Wait()
	wg.Wait()

	out.finish()
	inv.EndedAt = time.Now()
	inv.Elapsed = inv.EndedAt.Sub(inv.StartedAt)
	inv.ExitCode = exitCode
	inv.Output = out.Output()
	inv.Display = out.Display()

	if logFile != nil {
		if err := out.LogErr(); err != nil {
			logger.Warn("failed to write iteration log", "error", err.Error())
		}
	}

	switch result.Verdict {
	case process.VerdictTimedOut:
		inv.Outcome = OutcomeTimeout
		inv.Err = errors.NewTimeoutError("worker iteration", r.timeoutLimit())
	case process.VerdictInterrupted:
		inv.Outcome = OutcomeInterrupted
		inv.Err = errors.ErrInterrupted
	default:
		inv.Outcome, inv.Err = classify(req.Iteration, exitCode, waitErr, inv.Output)
	}

	logger.Info("worker finished",
		"outcome", string(inv.Outcome),
		"exit_code", inv.ExitCode,
		"elapsed", inv.Elapsed.Round(time.Millisecond).String(),
		"output_bytes", len(inv.Output),
	)
	return inv, nil
}

// classify decides the outcome of a worker that exited on its own.
func classify(iteration, exitCode int, waitErr error, output string) (Outcome, error) {
	if exitCode != 0 {
		return OutcomeWorkerError, errors.NewWorkerError("worker exited with non-zero status",
			errors.Join(errors.ErrWorkerExit, waitErr)).WithIteration(iteration).WithExitCode(exitCode)
	}
	if strings.TrimSpace(output) == "" {
		return OutcomeWorkerError, errors.NewWorkerError("worker produced no output", errors.ErrEmptyOutput).
			WithIteration(iteration).WithExitCode(exitCode)
	}
	return OutcomeSuccess, nil
}

func (r *Runner) timeoutLimit() time.Duration {
	type limiter interface{ Limit() time.Duration }
	if l, ok := r.watchdog.(limiter); ok {
		return l.Limit()
	}
	return 0
}

func (r *Runner) openLog(iteration int, logger *logging.Logger) io.WriteCloser {
	if r.cfg.openLog == nil {
		return nil
	}
	f, err := r.cfg.openLog(iteration)
	if err != nil {
		logger.Warn("failed to open iteration log, continuing without it", "error", err.Error())
		return nil
	}
	return f
}
