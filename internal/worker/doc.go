// Package worker runs one invocation of the external worker and reports
// how it ended.
//
// A [Runner] launches the worker command in its own process group, feeds its
// combined output into a capture buffer and the iteration log, and lets a
// [detect.Watchdog] stop it if it hangs, runs too long, or the run is
// interrupted. The result is an [Invocation] record that the loop appends to
// the run and never modifies.
//
// # Modes
//
// In streaming (live) mode the worker prints one JSON event per line. Lines
// are logged as they arrive and turned into short display lines for the
// console. In buffered mode the output is collected and written to the
// iteration log when the worker exits.
//
// # Outcomes
//
//	success       exit code 0 with some output
//	worker_error  non-zero exit, empty output, or failure to launch
//	timeout       the watchdog stopped the worker
//	interrupted   the run was interrupted while the worker was running
//
// A worker_error is soft: the loop records it and keeps going.
package worker
