package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is one rejected config value.
type ValidationError struct {
	Field   string // dotted key, e.g. "loop.max_iterations"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is every problem found in one Validate pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return ""
	case 1:
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err)
	}
	return sb.String()
}

// ValidLogLevels returns the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

const (
	maxLogSizeMB  = 1000
	maxPathLength = 4096
)

// checks accumulates validation failures.
type checks []ValidationError

// require records a failure for field when ok is false.
func (c *checks) require(ok bool, field string, value any, msg string) {
	if !ok {
		*c = append(*c, ValidationError{Field: field, Value: value, Message: msg})
	}
}

func oneOf(options []string) string {
	return "must be one of: " + strings.Join(options, ", ")
}

// Validate reports every invalid value in c. Only the timeout that applies
// to the selected output mode is checked.
func (c *Config) Validate() []ValidationError {
	var v checks

	loop := c.Loop
	v.require(loop.MaxIterations > 0, "loop.max_iterations", loop.MaxIterations, "must be positive")
	v.require(strings.TrimSpace(loop.PromptFile) != "", "loop.prompt_file", loop.PromptFile, "must not be empty")
	// Matched literally, so only the fully empty marker is rejected.
	v.require(loop.CompletionMarker != "", "loop.completion_marker", loop.CompletionMarker, "must not be empty")
	v.require(loop.CooldownSeconds >= 0, "loop.cooldown_seconds", loop.CooldownSeconds, "must be non-negative")
	v.require(slices.Contains(ValidSessionModes(), loop.SessionMode), "loop.session_mode", loop.SessionMode, oneOf(ValidSessionModes()))

	t := c.Timeouts
	if loop.Live {
		v.require(t.IdleSeconds > 0, "timeouts.idle_seconds", t.IdleSeconds, "must be positive in live mode")
	} else {
		v.require(t.HardSeconds > 0, "timeouts.hard_seconds", t.HardSeconds, "must be positive when live mode is off")
	}
	v.require(t.KillGraceSeconds >= 0, "timeouts.kill_grace_seconds", t.KillGraceSeconds, "must be non-negative")

	w := c.Worker
	v.require(strings.TrimSpace(w.Command) != "", "worker.command", w.Command, "must not be empty")
	v.require(loop.SessionMode != SessionModeContinue || strings.TrimSpace(w.ResumeFlag) != "",
		"worker.resume_flag", w.ResumeFlag, "must be set when loop.session_mode is continue")

	l := c.Logging
	v.require(l.Level == "" || slices.Contains(ValidLogLevels(), strings.ToLower(l.Level)), "logging.level", l.Level, oneOf(ValidLogLevels()))
	v.require(l.MaxSizeMB > 0, "logging.max_size_mb", l.MaxSizeMB, "must be positive")
	v.require(l.MaxSizeMB <= maxLogSizeMB, "logging.max_size_mb", l.MaxSizeMB, fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB))
	v.require(l.MaxBackups >= 0, "logging.max_backups", l.MaxBackups, "must be non-negative")

	if dir := c.Paths.LogDir; dir != "" {
		v.require(!strings.ContainsRune(dir, '\x00'), "paths.log_dir", dir, "contains a NUL byte")
		v.require(len(dir) <= maxPathLength, "paths.log_dir", dir, fmt.Sprintf("longer than %d characters", maxPathLength))
	}

	return v
}
