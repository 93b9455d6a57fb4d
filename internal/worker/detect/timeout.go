// Package detect decides when a worker has hung or run too long.
package detect

import (
	"time"
)

// TimeoutType represents the type of timeout that occurred.
type TimeoutType int

const (
	// TimeoutNone indicates no timeout has occurred.
	TimeoutNone TimeoutType = iota
	// TimeoutIdle indicates no output for the configured period.
	TimeoutIdle
	// TimeoutHard indicates total runtime reached the configured limit.
	TimeoutHard
)

// String returns a human-readable name for the timeout type.
func (t TimeoutType) String() string {
	switch t {
	case TimeoutNone:
		return "none"
	case TimeoutIdle:
		return "idle"
	case TimeoutHard:
		return "hard"
	default:
		return "unknown"
	}
}

// TimeoutConfig holds the thresholds for timeout detection.
type TimeoutConfig struct {
	// IdleTimeout is how long the worker may go without writing output.
	// Zero disables idle detection.
	IdleTimeout time.Duration

	// HardTimeout is the maximum total runtime of one invocation.
	// Zero disables the hard limit.
	HardTimeout time.Duration
}

// ForMode returns the thresholds that apply to a worker run in live
// (streaming) or buffered mode. Streaming workers are judged on idleness,
// buffered workers on total runtime, since they produce nothing until exit.
func ForMode(live bool, idle, hard time.Duration) TimeoutConfig {
	if live {
		return TimeoutConfig{IdleTimeout: idle}
	}
	return TimeoutConfig{HardTimeout: hard}
}

// TimeoutDetector checks timeout conditions against caller-supplied times.
// It is stateless; the worker handle tracks start and last-output times.
type TimeoutDetector struct {
	config TimeoutConfig
}

// NewTimeoutDetector creates a new timeout detector with the given configuration.
func NewTimeoutDetector(cfg TimeoutConfig) *TimeoutDetector {
	return &TimeoutDetector{
		config: cfg,
	}
}

// CheckInput contains the inputs needed for timeout detection.
type CheckInput struct {
	// Now is the current time for timeout calculations.
	Now time.Time

	// StartTime is when the worker was launched.
	StartTime time.Time

	// LastOutput is when the worker last wrote anything.
	LastOutput time.Time
}

// CheckTimeout returns the timeout that has fired, or TimeoutNone.
// A threshold fires once the measured duration reaches it. The hard limit
// is checked first.
func (d *TimeoutDetector) CheckTimeout(input CheckInput) TimeoutType {
	if d.config.HardTimeout > 0 && !input.StartTime.IsZero() {
		if input.Now.Sub(input.StartTime) >= d.config.HardTimeout {
			return TimeoutHard
		}
	}

	if d.config.IdleTimeout > 0 {
		last := input.LastOutput
		if last.IsZero() {
			last = input.StartTime
		}
		if !last.IsZero() && input.Now.Sub(last) >= d.config.IdleTimeout {
			return TimeoutIdle
		}
	}

	return TimeoutNone
}

// IsIdleTimeoutEnabled returns whether idle checking is enabled.
func (d *TimeoutDetector) IsIdleTimeoutEnabled() bool {
	return d.config.IdleTimeout > 0
}

// IsHardTimeoutEnabled returns whether the runtime limit is enabled.
func (d *TimeoutDetector) IsHardTimeoutEnabled() bool {
	return d.config.HardTimeout > 0
}

// Limit returns the threshold that governs the detector, preferring the
// hard limit.
func (d *TimeoutDetector) Limit() time.Duration {
	if d.config.HardTimeout > 0 {
		return d.config.HardTimeout
	}
	return d.config.IdleTimeout
}
