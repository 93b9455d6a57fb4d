package loop

import (
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/exitcode"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/worker"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }, "max_iterations"},
		{"blank prompt", func(c *Config) { c.Prompt = " \n" }, "prompt"},
		{"empty marker", func(c *Config) { c.CompletionMarker = "" }, "completion_marker"},
		{"negative cooldown", func(c *Config) { c.Cooldown = -time.Second }, "cooldown"},
		{"unknown session mode", func(c *Config) { c.SessionMode = "sticky" }, "session_mode"},
		{"continue without resume flag", func(c *Config) { c.SessionMode = session.ModeContinue; c.ResumeFlag = "" }, "resume_flag"},
		{"live without idle timeout", func(c *Config) { c.IdleTimeout = 0 }, "idle_timeout"},
		{"buffered without hard timeout", func(c *Config) { c.Live = false; c.HardTimeout = 0 }, "hard_timeout"},
		{"buffered ignores idle timeout", func(c *Config) { c.Live = false; c.IdleTimeout = 0 }, ""},
		{"negative grace", func(c *Config) { c.KillGrace = -1 }, "kill_grace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error for %s", tt.field)
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("error %v should match ErrInvalidInput", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name field %s", err, tt.field)
			}
		})
	}
}

func TestConfig_ValidateEmptyPrompt(t *testing.T) {
	cfg := testConfig()
	cfg.Prompt = ""
	if err := cfg.Validate(); !errors.Is(err, errors.ErrPromptEmpty) {
		t.Errorf("Validate() = %v, want ErrPromptEmpty", err)
	}
	if _, err := New(cfg, outputs("x"), nil); err == nil {
		t.Error("New should reject an invalid config")
	}
}

func TestResult_ExitCodes(t *testing.T) {
	tests := []struct {
		phase Phase
		code  int
	}{
		{PhaseCompleted, exitcode.Success},
		{PhaseExhausted, exitcode.ErrExhausted},
		{PhaseTimedOut, exitcode.ErrTimeout},
		{PhaseInterrupted, exitcode.ErrInterrupted},
		{PhaseRunning, exitcode.ErrConfig},
	}

	for _, tt := range tests {
		r := &Result{Phase: tt.phase, Iteration: 3}
		if got := r.ExitCode(); got != tt.code {
			t.Errorf("%s: ExitCode() = %d, want %d", tt.phase, got, tt.code)
		}
		if (r.Err() == nil) != (tt.phase == PhaseCompleted) {
			t.Errorf("%s: Err() = %v", tt.phase, r.Err())
		}
	}
}

func TestResult_SummaryAndCounts(t *testing.T) {
	r := &Result{
		Phase:     PhaseExhausted,
		Iteration: 3,
		Invocations: []*worker.Invocation{
			{Outcome: worker.OutcomeSuccess},
			{Outcome: worker.OutcomeWorkerError},
			{Outcome: worker.OutcomeSuccess},
		},
	}
	if got := r.Summary(); got != "no completion marker after 3 iterations" {
		t.Errorf("Summary() = %q", got)
	}
	counts := r.Counts()
	if counts[worker.OutcomeSuccess] != 2 || counts[worker.OutcomeWorkerError] != 1 {
		t.Errorf("Counts() = %v", counts)
	}

	done := &Result{Phase: PhaseCompleted, Iteration: 2}
	if got := done.Summary(); got != "completion marker found in iteration 2" {
		t.Errorf("Summary() = %q", got)
	}
}
