package process

import (
	"os"
	"time"

	"github.com/Iron-Ham/ralph/internal/logging"
)

const (
	groupPollInterval = 20 * time.Millisecond
	// killSettle bounds the wait for killed group members to be reaped by
	// their new parent.
	killSettle = 2 * time.Second
)

// Target is a process group the Escalator can stop.
type Target interface {
	PID() int
	Exited() bool
	Done() <-chan struct{}
	Signal(sig os.Signal) error
	GroupAlive() bool
}

// StopResult describes what Stop had to do.
type StopResult int

const (
	// StopNoop means the target had already exited.
	StopNoop StopResult = iota
	// StopGraceful means the group went away within the grace period.
	StopGraceful
	// StopKilled means the group was still alive after the grace period.
	StopKilled
)

// String returns a human-readable name for the result.
func (r StopResult) String() string {
	switch r {
	case StopNoop:
		return "noop"
	case StopGraceful:
		return "graceful"
	case StopKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Escalator stops worker process groups in two phases.
type Escalator struct {
	logger    *logging.Logger
	terminate os.Signal
	kill      os.Signal
}

// NewEscalator creates an Escalator. A nil logger discards output.
func NewEscalator(logger *logging.Logger) *Escalator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Escalator{
		logger:    logger,
		terminate: terminateSignal,
		kill:      killSignal,
	}
}

// Stop terminates the target's process group. It sends the terminate signal,
// waits up to grace for the leader to be reaped, and then sends the kill
// signal to whatever is left of the group. When the kill signal is sent Stop
// waits for the leader without a deadline.
func (e *Escalator) Stop(t Target, grace time.Duration) StopResult {
	if t.Exited() {
		return StopNoop
	}

	pid := t.PID()
	e.logger.Info("terminating worker", "pid", pid, "grace", grace.String())
	if err := t.Signal(e.terminate); err != nil {
		e.logger.Warn("terminate signal failed", "pid", pid, "error", err.Error())
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-t.Done():
		// The leader is gone but a child that ignored the signal can still
		// hold the group open.
		if !t.GroupAlive() {
			return StopGraceful
		}
		e.logger.Warn("worker group outlived its leader, killing", "pid", pid)
	case <-timer.C:
		e.logger.Warn("worker ignored terminate signal, killing", "pid", pid)
	}

	if err := t.Signal(e.kill); err != nil {
		e.logger.Warn("kill signal failed", "pid", pid, "error", err.Error())
	}
	<-t.Done()
	e.awaitGroupGone(t, killSettle)
	return StopKilled
}

// StopGroup sweeps a group whose leader has already been reaped. Processes
// the worker left running get the same terminate, grace, kill sequence as
// Stop. It is a no-op when nothing in the group survives.
func (e *Escalator) StopGroup(t Target, grace time.Duration) StopResult {
	if !t.GroupAlive() {
		return StopNoop
	}

	pid := t.PID()
	e.logger.Warn("worker left processes running, terminating group", "pid", pid, "grace", grace.String())
	if err := t.Signal(e.terminate); err != nil {
		e.logger.Warn("terminate signal failed", "pid", pid, "error", err.Error())
	}
	if e.awaitGroupGone(t, grace) {
		return StopGraceful
	}

	e.logger.Warn("worker group ignored terminate signal, killing", "pid", pid)
	if err := t.Signal(e.kill); err != nil {
		e.logger.Warn("kill signal failed", "pid", pid, "error", err.Error())
	}
	if !e.awaitGroupGone(t, killSettle) {
		e.logger.Error("worker group still present after kill", "pid", pid)
	}
	return StopKilled
}

// awaitGroupGone polls until the group is empty or d elapses.
func (e *Escalator) awaitGroupGone(t Target, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for t.GroupAlive() {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(groupPollInterval)
	}
	return true
}
