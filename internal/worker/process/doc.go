// Package process manages the worker child process for a single iteration.
//
// A [Handle] wraps an exec.Cmd that has been started in its own process
// group. It records when the worker last produced output and carries the
// verdict that explains why the process ended. The verdict is committed at
// most once: whichever of natural exit, timeout, or interrupt commits first
// wins, and later commits are ignored.
//
// # Termination
//
// [Escalator.Stop] is the only path that kills a worker. It sends SIGTERM to
// the whole process group, waits for the grace period, and sends SIGKILL to
// the group if anything is still alive:
//
//	h, err := process.Start(cmd, process.Options{Output: w})
//	if err != nil {
//	    return err
//	}
//	if h.Commit(process.VerdictTimedOut) {
//	    process.NewEscalator(logger).Stop(h, 5*time.Second)
//	}
//	<-h.Done()
//
// On Windows there are no process-group signals; both phases fall back to
// terminating the worker process itself.
package process
