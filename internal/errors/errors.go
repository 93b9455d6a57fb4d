// Package errors defines the error vocabulary shared by ralph's packages.
//
// Two families exist. A ConfigError stops the run before the first iteration
// and maps to exit code 1. A WorkerError describes one failed invocation; the
// loop records it on the iteration and keeps going. ValidationError and
// TimeoutError cover bad input and expired deadlines.
//
// Sentinels identify the cause and survive wrapping:
//
//	err := errors.NewConfigError("reading prompt", errors.ErrPromptMissing).WithPath(path)
//	if errors.Is(err, errors.ErrPromptMissing) { ... }
//
// The std errors helpers are re-exported so callers need only this import.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity ranks how loudly an error should be reported.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"debug", "info", "warning", "error", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

// Startup failures.
var (
	ErrWorkerNotFound = New("worker executable not found")
	ErrPromptMissing  = New("prompt file not found")
	ErrPromptEmpty    = New("prompt file is empty")
	ErrLogDirLocked   = New("log directory is locked by another run")
)

// Per-iteration worker failures.
var (
	ErrWorkerExit  = New("worker exited with non-zero status")
	ErrEmptyOutput = New("worker produced no output")
	ErrWorkerStart = New("worker failed to start")
)

var (
	ErrTimeout      = New("operation timed out")
	ErrInterrupted  = New("interrupted")
	ErrInvalidInput = New("invalid input")
)

// RalphError is implemented by every error type in this package.
type RalphError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	// IsRetryable reports whether the next iteration may succeed where this
	// one failed.
	IsRetryable() bool
}

type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause == nil {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *baseError) Unwrap() error      { return e.cause }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }

func (e *baseError) Is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

// render produces "kind [k=v, ...]: message[: cause]".
func render(kind string, context []string, message string, cause error) string {
	var sb strings.Builder
	sb.WriteString(kind)
	if len(context) > 0 {
		sb.WriteString(" [")
		sb.WriteString(strings.Join(context, ", "))
		sb.WriteString("]")
	}
	sb.WriteString(": ")
	sb.WriteString(message)
	if cause != nil {
		sb.WriteString(": ")
		sb.WriteString(cause.Error())
	}
	return sb.String()
}

// ConfigError prevents a run from starting.
type ConfigError struct {
	baseError
	Path  string
	Field string
}

func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{baseError: baseError{
		message:  message,
		cause:    cause,
		severity: SeverityCritical,
	}}
}

func (e *ConfigError) WithPath(path string) *ConfigError {
	e.Path = path
	return e
}

func (e *ConfigError) WithField(field string) *ConfigError {
	e.Field = field
	return e
}

func (e *ConfigError) Error() string {
	var context []string
	if e.Field != "" {
		context = append(context, "field="+e.Field)
	}
	if e.Path != "" {
		context = append(context, "path="+e.Path)
	}
	return render("config error", context, e.message, e.cause)
}

func (e *ConfigError) Is(target error) bool {
	if _, ok := target.(*ConfigError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkerError is a failed invocation. ExitCode is -1 until the worker has
// actually exited.
type WorkerError struct {
	baseError
	Iteration int
	ExitCode  int
}

func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityWarning,
			retryable: true,
		},
		ExitCode: -1,
	}
}

func (e *WorkerError) WithIteration(n int) *WorkerError {
	e.Iteration = n
	return e
}

func (e *WorkerError) WithExitCode(code int) *WorkerError {
	e.ExitCode = code
	return e
}

func (e *WorkerError) Error() string {
	var context []string
	if e.Iteration > 0 {
		context = append(context, fmt.Sprintf("iteration=%d", e.Iteration))
	}
	if e.ExitCode >= 0 {
		context = append(context, fmt.Sprintf("exit=%d", e.ExitCode))
	}
	return render("worker error", context, e.message, e.cause)
}

func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError rejects a flag or config value. It matches ErrInvalidInput.
type ValidationError struct {
	baseError
	Field string
	Value any
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: baseError{
		message:  message,
		severity: SeverityWarning,
	}}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Error() string {
	var context []string
	if e.Field != "" {
		context = append(context, "field="+e.Field)
	}
	if e.Value != nil {
		context = append(context, fmt.Sprintf("value=%v", e.Value))
	}
	return render("validation error", context, e.message, e.cause)
}

func (e *ValidationError) Is(target error) bool {
	switch target.(type) {
	case *ValidationError:
		return true
	}
	return target == ErrInvalidInput || e.baseError.Is(target)
}

// TimeoutError reports an expired deadline, e.g.
// "timeout error: worker idle (timeout: 10m0s)". A hung worker tends to hang
// again, so it is not retryable.
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:  operation,
			severity: SeverityError,
		},
		Operation: operation,
		Duration:  duration,
	}
}

func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	switch target.(type) {
	case *TimeoutError:
		return true
	}
	return target == ErrTimeout || e.baseError.Is(target)
}

func asRalph(err error) (RalphError, bool) {
	var re RalphError
	if err == nil || !As(err, &re) {
		return nil, false
	}
	return re, true
}

// IsRetryable reports whether the loop should treat err as a soft failure.
// Bare worker sentinels count even when not wrapped in a WorkerError.
func IsRetryable(err error) bool {
	if re, ok := asRalph(err); ok {
		return re.IsRetryable()
	}
	return err != nil && (Is(err, ErrWorkerExit) || Is(err, ErrEmptyOutput))
}

// GetSeverity defaults to SeverityError for foreign errors and SeverityDebug
// for nil.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	if re, ok := asRalph(err); ok {
		return re.Severity()
	}
	return SeverityError
}

// IsConfigError reports whether err prevents the run from starting.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	var validation *ValidationError
	return As(err, &cfgErr) || As(err, &validation)
}

func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}
