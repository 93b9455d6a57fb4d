// Package exitcode defines the process exit codes ralph reports. Scripts that
// drive ralph in a larger pipeline can tell a converged task apart from an
// exhausted budget, a hung worker or a user interrupt without parsing output.
//
// # Exit Codes
//
//   - 0: the completion marker was found
//   - 1: configuration or validation error, detected before the first iteration
//   - 2: the iteration budget ran out without the completion marker
//   - 124: a worker hung and the run was aborted (same value as timeout(1))
//   - 130: interrupted by the user (128 + SIGINT)
//
// # Usage
//
//	return exitcode.Wrap(exitcode.ErrConfig, "prompt file is empty", err)
//	os.Exit(exitcode.Code(err))
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes for ralph runs.
const (
	// Success indicates the worker emitted the completion marker.
	Success = 0

	ErrConfig      = 1   // Invalid configuration or missing prerequisite
	ErrExhausted   = 2   // Iteration budget exhausted without completion
	ErrTimeout     = 124 // Worker hang detected, run aborted
	ErrInterrupted = 130 // User interrupt
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Code extracts the exit code from an error.
// Errors without a code are reported as configuration errors, since every
// failure outside the loop happens before the first iteration starts.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrConfig
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// Exhausted returns the error for a run that used its whole budget.
func Exhausted(iterations int) *Error {
	return Newf(ErrExhausted, "no completion marker after %d iterations", iterations)
}

// TimedOut returns the error for a run aborted by the hang watchdog.
func TimedOut(iteration int) *Error {
	return Newf(ErrTimeout, "worker timed out during iteration %d", iteration)
}

// Interrupted returns the error for a run stopped by the user.
func Interrupted(iteration int) *Error {
	return Newf(ErrInterrupted, "interrupted during iteration %d", iteration)
}
