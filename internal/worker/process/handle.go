package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWaitDelay bounds how long Wait keeps draining output after the
// worker exits while a grandchild still holds the output pipe open.
const DefaultWaitDelay = 2 * time.Second

var (
	// ErrAlreadyStarted is returned when Start is given a command that has
	// already been started.
	ErrAlreadyStarted = errors.New("process already started")
	// ErrNoOutput is returned when Start is called without an output writer.
	ErrNoOutput = errors.New("process output writer is required")
)

// Verdict records why a worker process ended.
type Verdict int32

const (
	// VerdictNone means the process is still running and nothing has been decided.
	VerdictNone Verdict = iota
	// VerdictExited means the process exited on its own.
	VerdictExited
	// VerdictTimedOut means the watchdog stopped the process.
	VerdictTimedOut
	// VerdictInterrupted means the user interrupted the run.
	VerdictInterrupted
)

// String returns a human-readable name for the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictNone:
		return "none"
	case VerdictExited:
		return "exited"
	case VerdictTimedOut:
		return "timed_out"
	case VerdictInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Options configures how a worker process is started.
type Options struct {
	// Output receives the combined stdout and stderr of the worker.
	Output io.Writer
	// PTY attaches the worker to a pseudo-terminal instead of pipes.
	PTY bool
	// WaitDelay overrides DefaultWaitDelay when positive.
	WaitDelay time.Duration
}

// Handle is a running worker process group.
type Handle struct {
	cmd     *exec.Cmd
	started time.Time
	pty     *os.File

	lastOutput atomic.Int64
	verdict    atomic.Int32
	exitCode   atomic.Int32

	done    chan struct{}
	mu      sync.Mutex
	waitErr error
}

// Start launches cmd in a new process group and returns its handle.
// Output written by the worker refreshes the handle's last-output time
// before it is forwarded to opts.Output.
func Start(cmd *exec.Cmd, opts Options) (*Handle, error) {
	if cmd.Process != nil {
		return nil, ErrAlreadyStarted
	}
	if opts.Output == nil {
		return nil, ErrNoOutput
	}

	h := &Handle{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	h.exitCode.Store(-1)

	out := &activityWriter{h: h, w: opts.Output}
	waitDelay := opts.WaitDelay
	if waitDelay <= 0 {
		waitDelay = DefaultWaitDelay
	}

	if opts.PTY {
		ptmx, err := startPTY(cmd)
		if err != nil {
			return nil, err
		}
		h.pty = ptmx
		h.markStarted()
		copied := make(chan struct{})
		go func() {
			defer close(copied)
			_, _ = io.Copy(out, ptmx)
		}()
		go h.waitPTY(copied, waitDelay)
		return h, nil
	}

	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	h.markStarted()
	go h.wait()
	return h, nil
}

func (h *Handle) markStarted() {
	h.started = time.Now()
	h.lastOutput.Store(h.started.UnixNano())
}

func (h *Handle) wait() {
	h.finish(h.cmd.Wait())
}

// waitPTY reaps the process and then gives the copier a bounded window to
// drain what is left in the terminal buffer.
func (h *Handle) waitPTY(copied <-chan struct{}, delay time.Duration) {
	err := h.cmd.Wait()
	select {
	case <-copied:
	case <-time.After(delay):
	}
	_ = h.pty.Close()
	select {
	case <-copied:
	case <-time.After(delay):
	}
	h.finish(err)
}

func (h *Handle) finish(err error) {
	code := exitCodeOf(err)

	h.mu.Lock()
	h.waitErr = err
	h.mu.Unlock()
	h.exitCode.Store(int32(code))

	h.Commit(VerdictExited)
	close(h.done)
}

// PID returns the process id of the group leader.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// StartedAt returns when the worker was launched.
func (h *Handle) StartedAt() time.Time {
	return h.started
}

// LastOutput returns when the worker last wrote anything. Before the first
// write it is the launch time.
func (h *Handle) LastOutput() time.Time {
	return time.Unix(0, h.lastOutput.Load())
}

// Touch marks the worker as active at t.
func (h *Handle) Touch(t time.Time) {
	h.lastOutput.Store(t.UnixNano())
}

// Commit records v as the verdict if none has been recorded yet. It reports
// whether this call won.
func (h *Handle) Commit(v Verdict) bool {
	return h.verdict.CompareAndSwap(int32(VerdictNone), int32(v))
}

// Verdict returns the committed verdict.
func (h *Handle) Verdict() Verdict {
	return Verdict(h.verdict.Load())
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while running or when the process
// was terminated by a signal.
func (h *Handle) ExitCode() int {
	return int(h.exitCode.Load())
}

// Wait blocks until the process has been reaped and returns its exit code
// and the error reported by exec.
func (h *Handle) Wait() (int, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ExitCode(), h.waitErr
}

// Signal delivers sig to every process in the worker's group.
func (h *Handle) Signal(sig os.Signal) error {
	return signalGroup(h.cmd.Process, sig)
}

// GroupAlive reports whether any process in the worker's group still exists.
func (h *Handle) GroupAlive() bool {
	return groupAlive(h.cmd.Process)
}

// exitCodeOf maps the result of exec.Cmd.Wait to an exit code. Output left
// open by a grandchild past the wait delay does not change the worker's own
// status.
func exitCodeOf(err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

type activityWriter struct {
	h *Handle
	w io.Writer
}

func (a *activityWriter) Write(p []byte) (int, error) {
	a.h.Touch(time.Now())
	return a.w.Write(p)
}
