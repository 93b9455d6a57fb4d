// Package loop drives the ralph iteration state machine.
//
// A [Loop] invokes the worker with the same prompt until the completion
// marker appears in its output, the iteration budget runs out, the worker
// hangs, or the user interrupts the run:
//
//	Idle -> Running(1) -> Running(2) -> ... -> Completed | Exhausted | TimedOut | Interrupted
//
// Each iteration builds the worker arguments (adding resume arguments once a
// session identifier is held), runs the worker under the watchdog, records
// the invocation, and checks for the completion marker. A worker that exits
// non-zero is not fatal: its output is still checked for the marker and the
// loop moves on after the cooldown.
//
// The loop owns its [State]. Callbacks are invoked on the goroutine that
// called [Loop.Run].
package loop
