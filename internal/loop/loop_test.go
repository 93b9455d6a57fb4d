package loop

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/exitcode"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/worker"
)

const testMarker = "<promise>COMPLETE</promise>"

// fakeInvoker answers each request with respond and records what it saw.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []worker.Request
	respond func(ctx context.Context, req worker.Request) (*worker.Invocation, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, req worker.Request) (*worker.Invocation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.respond(ctx, req)
}

func (f *fakeInvoker) requests() []worker.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func invocation(n int, outcome worker.Outcome, exit int, output string) *worker.Invocation {
	now := time.Now()
	return &worker.Invocation{
		Iteration: n,
		StartedAt: now,
		EndedAt:   now.Add(time.Millisecond),
		Outcome:   outcome,
		ExitCode:  exit,
		Output:    output,
		Elapsed:   time.Millisecond,
	}
}

// outputs returns an invoker whose iteration n prints outputs[n-1], or the
// last entry once it runs out.
func outputs(out ...string) *fakeInvoker {
	return &fakeInvoker{respond: func(_ context.Context, req worker.Request) (*worker.Invocation, error) {
		i := min(req.Iteration, len(out)) - 1
		return invocation(req.Iteration, worker.OutcomeSuccess, 0, out[i]), nil
	}}
}

func testConfig() Config {
	return Config{
		MaxIterations:    5,
		Prompt:           "do the task",
		PromptFlag:       "-p",
		BaseArgs:         []string{"--dangerously-skip-permissions"},
		StreamArgs:       []string{"--output-format", "stream-json", "--verbose"},
		ResumeFlag:       "--resume",
		CompletionMarker: testMarker,
		SessionMode:      session.ModeClean,
		Live:             true,
		IdleTimeout:      time.Minute,
		HardTimeout:      time.Hour,
		KillGrace:        time.Second,
	}
}

func runLoop(t *testing.T, ctx context.Context, cfg Config, inv Invoker) *Result {
	t.Helper()
	l, err := New(cfg, inv, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := l.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return result
}

func TestRun_CompletesOnMarkerRegardlessOfExitCode(t *testing.T) {
	for _, k := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("iteration %d", k), func(t *testing.T) {
			inv := &fakeInvoker{respond: func(_ context.Context, req worker.Request) (*worker.Invocation, error) {
				if req.Iteration == k {
					return invocation(req.Iteration, worker.OutcomeWorkerError, 1, "crashed after "+testMarker), nil
				}
				return invocation(req.Iteration, worker.OutcomeSuccess, 0, "working"), nil
			}}

			result := runLoop(t, context.Background(), testConfig(), inv)
			if result.Phase != PhaseCompleted {
				t.Fatalf("Phase = %v, want completed", result.Phase)
			}
			if result.Iteration != k || len(inv.requests()) != k {
				t.Errorf("ran %d iterations (result says %d), want %d", len(inv.requests()), result.Iteration, k)
			}
			if result.ExitCode() != exitcode.Success {
				t.Errorf("ExitCode() = %d, want 0", result.ExitCode())
			}
		})
	}
}

func TestRun_ExhaustsAtExactlyMaxIterations(t *testing.T) {
	inv := &fakeInvoker{respond: func(_ context.Context, req worker.Request) (*worker.Invocation, error) {
		if req.Iteration%2 == 0 {
			return invocation(req.Iteration, worker.OutcomeWorkerError, 2, ""), nil
		}
		return invocation(req.Iteration, worker.OutcomeSuccess, 0, "still going"), nil
	}}
	cfg := testConfig()
	cfg.MaxIterations = 4

	result := runLoop(t, context.Background(), cfg, inv)
	if result.Phase != PhaseExhausted {
		t.Fatalf("Phase = %v, want exhausted", result.Phase)
	}
	if len(inv.requests()) != 4 || result.Iteration != 4 {
		t.Errorf("ran %d iterations, want 4", len(inv.requests()))
	}
	if result.ExitCode() != exitcode.ErrExhausted {
		t.Errorf("ExitCode() = %d, want %d", result.ExitCode(), exitcode.ErrExhausted)
	}
	if got := result.Counts()[worker.OutcomeWorkerError]; got != 2 {
		t.Errorf("worker_error count = %d, want 2", got)
	}
}

func TestRun_WorkedExamples(t *testing.T) {
	t.Run("completes on third iteration", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxIterations = 3
		cfg.CompletionMarker = "<done/>"
		inv := outputs("working", "working", "<done/> finished")

		result := runLoop(t, context.Background(), cfg, inv)
		if result.Phase != PhaseCompleted || len(inv.requests()) != 3 || result.ExitCode() != 0 {
			t.Errorf("result = %+v after %d iterations, want completed after 3", result, len(inv.requests()))
		}
	})

	t.Run("exhausts after two iterations", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxIterations = 2
		cfg.CompletionMarker = "<done/>"
		inv := outputs("still working")

		result := runLoop(t, context.Background(), cfg, inv)
		if result.Phase != PhaseExhausted || len(inv.requests()) != 2 {
			t.Errorf("result = %+v after %d iterations, want exhausted after 2", result, len(inv.requests()))
		}
		code := result.ExitCode()
		if code == 0 || code == 124 || code == 130 {
			t.Errorf("ExitCode() = %d, want a distinct exhaustion code", code)
		}
	})
}

func TestRun_TimeoutAbortsRun(t *testing.T) {
	inv := &fakeInvoker{respond: func(_ context.Context, req worker.Request) (*worker.Invocation, error) {
		if req.Iteration == 2 {
			return invocation(req.Iteration, worker.OutcomeTimeout, -1, "partial "+testMarker), nil
		}
		return invocation(req.Iteration, worker.OutcomeSuccess, 0, "working"), nil
	}}

	result := runLoop(t, context.Background(), testConfig(), inv)
	if result.Phase != PhaseTimedOut {
		t.Fatalf("Phase = %v, want timed_out", result.Phase)
	}
	if len(inv.requests()) != 2 {
		t.Errorf("ran %d iterations, want 2", len(inv.requests()))
	}
	if result.ExitCode() != exitcode.ErrTimeout {
		t.Errorf("ExitCode() = %d, want 124", result.ExitCode())
	}
}

func TestRun_InterruptDuringIteration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{respond: func(ctx context.Context, req worker.Request) (*worker.Invocation, error) {
		if req.Iteration == 2 {
			cancel()
			<-ctx.Done()
			return invocation(req.Iteration, worker.OutcomeInterrupted, -1, "half done"), nil
		}
		return invocation(req.Iteration, worker.OutcomeSuccess, 0, "working"), nil
	}}

	result := runLoop(t, ctx, testConfig(), inv)
	if result.Phase != PhaseInterrupted {
		t.Fatalf("Phase = %v, want interrupted", result.Phase)
	}
	if result.Iteration != 2 || len(inv.requests()) != 2 {
		t.Errorf("iteration = %d with %d calls; iterations 3..5 must never start", result.Iteration, len(inv.requests()))
	}
	if len(result.Invocations) != 2 || result.Invocations[1].Outcome != worker.OutcomeInterrupted {
		t.Errorf("invocation records = %+v, want iteration 2 recorded as interrupted", result.Invocations)
	}
	if result.ExitCode() != exitcode.ErrInterrupted {
		t.Errorf("ExitCode() = %d, want 130", result.ExitCode())
	}
	if !strings.Contains(result.Summary(), "iteration 2") {
		t.Errorf("Summary() = %q, want it to name iteration 2", result.Summary())
	}
}

func TestRun_InterruptBeforeWorkerStarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &fakeInvoker{respond: func(_ context.Context, req worker.Request) (*worker.Invocation, error) {
		if req.Iteration == 2 {
			cancel()
			return nil, errors.Wrap(errors.ErrInterrupted, "invocation not started")
		}
		return invocation(req.Iteration, worker.OutcomeSuccess, 0, "working"), nil
	}}

	result := runLoop(t, ctx, testConfig(), inv)
	if result.Phase != PhaseInterrupted || result.Iteration != 2 {
		t.Errorf("result = %+v, want interrupted at iteration 2", result)
	}
	if got := result.Invocations[1].Outcome; got != worker.OutcomeInterrupted {
		t.Errorf("iteration 2 outcome = %v, want interrupted", got)
	}
}

func TestRun_InterruptDuringCooldown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Cooldown = time.Hour
	l, err := New(cfg, outputs("working"), nil)
	if err != nil {
		t.Fatal(err)
	}
	l.SetCallbacks(&Callbacks{
		OnCooldown: func(iteration int, d time.Duration) {
			if d != time.Hour {
				t.Errorf("cooldown = %v, want 1h", d)
			}
			cancel()
		},
	})

	done := make(chan *Result, 1)
	go func() {
		r, _ := l.Run(ctx)
		done <- r
	}()

	select {
	case result := <-done:
		if result.Phase != PhaseInterrupted || result.Iteration != 1 {
			t.Errorf("result = %+v, want interrupted reporting iteration 1", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cooldown was not interruptible")
	}
}

func TestRun_InterruptBeforeFirstIteration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := outputs("working")
	result := runLoop(t, ctx, testConfig(), inv)
	if result.Phase != PhaseInterrupted || result.Iteration != 0 {
		t.Errorf("result = %+v, want interrupted at iteration 0", result)
	}
	if len(inv.requests()) != 0 {
		t.Error("worker started after interrupt")
	}
}

func TestRun_ContinueModeResumesCapturedSession(t *testing.T) {
	cfg := testConfig()
	cfg.SessionMode = session.ModeContinue
	cfg.MaxIterations = 4
	inv := outputs(`{"type":"system","session_id":"abc-123"}`, `session_id: other-999`)

	result := runLoop(t, context.Background(), cfg, inv)
	if result.SessionID != "abc-123" {
		t.Errorf("SessionID = %q, want abc-123", result.SessionID)
	}

	reqs := inv.requests()
	if slices.Contains(reqs[0].Args, "--resume") {
		t.Errorf("iteration 1 args = %v, must not resume", reqs[0].Args)
	}
	for _, req := range reqs[1:] {
		i := slices.Index(req.Args, "--resume")
		if i < 0 || req.Args[i+1] != "abc-123" {
			t.Errorf("iteration %d args = %v, want --resume abc-123", req.Iteration, req.Args)
		}
	}
}

func TestRun_ContinueModeWithoutSessionDegradesToClean(t *testing.T) {
	cfg := testConfig()
	cfg.SessionMode = session.ModeContinue
	cfg.MaxIterations = 3
	inv := outputs("no identifier here", "session_id: late-id")

	result := runLoop(t, context.Background(), cfg, inv)
	if result.SessionID != "" {
		t.Errorf("SessionID = %q, only iteration 1 may set it", result.SessionID)
	}
	for _, req := range inv.requests() {
		if slices.Contains(req.Args, "--resume") {
			t.Errorf("iteration %d resumed without a captured session", req.Iteration)
		}
	}
}

func TestRun_CleanModeNeverResumes(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 3
	inv := outputs("session_id: abc")

	result := runLoop(t, context.Background(), cfg, inv)
	if result.SessionID != "" {
		t.Errorf("SessionID = %q in clean mode", result.SessionID)
	}
	for _, req := range inv.requests() {
		if slices.Contains(req.Args, "--resume") {
			t.Errorf("clean mode iteration %d resumed", req.Iteration)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		held   string
		want   []string
	}{
		{
			name: "live clean",
			want: []string{"--dangerously-skip-permissions", "--output-format", "stream-json", "--verbose", "-p", "do the task"},
		},
		{
			name:   "buffered",
			mutate: func(c *Config) { c.Live = false },
			want:   []string{"--dangerously-skip-permissions", "-p", "do the task"},
		},
		{
			name:   "resume before prompt",
			mutate: func(c *Config) { c.SessionMode = session.ModeContinue },
			held:   "s1",
			want:   []string{"--dangerously-skip-permissions", "--output-format", "stream-json", "--verbose", "--resume", "s1", "-p", "do the task"},
		},
		{
			name:   "bare prompt",
			mutate: func(c *Config) { c.PromptFlag = ""; c.BaseArgs = nil; c.Live = false },
			want:   []string{"do the task"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			l, err := New(cfg, outputs("x"), nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.held != "" {
				l.tracker.Observe(1, "session_id="+tt.held)
			}
			if got := l.buildArgs(); !slices.Equal(got, tt.want) {
				t.Errorf("buildArgs() = %v, want %v", got, tt.want)
			}
			if len(cfg.BaseArgs) > 0 && &l.buildArgs()[0] == &cfg.BaseArgs[0] {
				t.Error("buildArgs must not alias the configured base arguments")
			}
		})
	}
}

func TestRun_MarkerInDisplayOnly(t *testing.T) {
	inv := &fakeInvoker{respond: func(_ context.Context, req worker.Request) (*worker.Invocation, error) {
		i := invocation(req.Iteration, worker.OutcomeSuccess, 0, `{"type":"result","result":"<promise>COMPLETE</promise>"}`)
		i.Display = "<promise>COMPLETE</promise>"
		return i, nil
	}}

	if result := runLoop(t, context.Background(), testConfig(), inv); result.Phase != PhaseCompleted {
		t.Errorf("Phase = %v, want completed from display text", result.Phase)
	}
}

type recorderFunc func(*worker.Invocation) error

func (f recorderFunc) Record(inv *worker.Invocation) error { return f(inv) }

func TestRun_RecordsBeforeCompletionCheck(t *testing.T) {
	l, err := New(testConfig(), outputs("working", "done "+testMarker), nil)
	if err != nil {
		t.Fatal(err)
	}

	var recorded []int
	l.SetRecorder(recorderFunc(func(inv *worker.Invocation) error {
		if phase := l.State().Phase; phase != PhaseRunning {
			t.Errorf("iteration %d recorded in phase %v, want running", inv.Iteration, phase)
		}
		recorded = append(recorded, inv.Iteration)
		return nil
	}))

	result, err := l.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Phase != PhaseCompleted || !slices.Equal(recorded, []int{1, 2}) {
		t.Errorf("phase %v, recorded %v; want completed with both iterations recorded", result.Phase, recorded)
	}
}

func TestRun_RecordFailureIsNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 2
	l, err := New(cfg, outputs("working"), nil)
	if err != nil {
		t.Fatal(err)
	}
	l.SetRecorder(recorderFunc(func(*worker.Invocation) error {
		return errors.New("disk full")
	}))

	result, err := l.Run(context.Background())
	if err != nil || result.Phase != PhaseExhausted {
		t.Errorf("Run() = %+v, %v; want exhausted without error", result, err)
	}
}

func TestRun_Callbacks(t *testing.T) {
	cfg := testConfig()
	cfg.SessionMode = session.ModeContinue
	l, err := New(cfg, outputs("session_id=s-9", testMarker), nil)
	if err != nil {
		t.Fatal(err)
	}

	var phases []Phase
	var started, completed []int
	var captured string
	var final *Result
	l.SetCallbacks(&Callbacks{
		OnPhaseChange:       func(p Phase) { phases = append(phases, p) },
		OnIterationStart:    func(n int, _ []string) { started = append(started, n) },
		OnIterationComplete: func(inv *worker.Invocation) { completed = append(completed, inv.Iteration) },
		OnSessionCaptured:   func(id string) { captured = id },
		OnComplete:          func(r *Result) { final = r },
	})

	result, err := l.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(phases, []Phase{PhaseRunning, PhaseCompleted}) {
		t.Errorf("phases = %v", phases)
	}
	if !slices.Equal(started, []int{1, 2}) || !slices.Equal(completed, []int{1, 2}) {
		t.Errorf("started %v, completed %v", started, completed)
	}
	if captured != "s-9" {
		t.Errorf("captured = %q, want s-9", captured)
	}
	if final != result {
		t.Error("OnComplete did not receive the returned result")
	}
}

func TestRun_OnlyOnce(t *testing.T) {
	l, err := New(testConfig(), outputs(testMarker), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Run(context.Background()); err == nil {
		t.Error("second Run should fail")
	}
}

func TestRun_InvokerFailure(t *testing.T) {
	inv := &fakeInvoker{respond: func(context.Context, worker.Request) (*worker.Invocation, error) {
		return nil, errors.New("runner broken")
	}}
	l, err := New(testConfig(), inv, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Run(context.Background()); err == nil {
		t.Error("expected error from a failing invoker")
	}
}

func TestSleepOrCancel(t *testing.T) {
	if err := sleepOrCancel(context.Background(), 0); err != nil {
		t.Errorf("zero cooldown returned %v", err)
	}
	if err := sleepOrCancel(context.Background(), 5*time.Millisecond); err != nil {
		t.Errorf("short cooldown returned %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepOrCancel(ctx, time.Hour); err == nil {
		t.Error("cancelled context should end the cooldown")
	}
}

func TestRun_FailedIterationLogLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.NewLogger(dir, logging.LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	inv := &fakeInvoker{respond: func(_ context.Context, req worker.Request) (*worker.Invocation, error) {
		if req.Iteration == 1 {
			r := invocation(1, worker.OutcomeWorkerError, 3, "boom")
			r.Err = errors.NewWorkerError("worker exited with non-zero status", errors.ErrWorkerExit).WithIteration(1).WithExitCode(3)
			return r, nil
		}
		r := invocation(req.Iteration, worker.OutcomeTimeout, -1, "")
		r.Err = errors.NewTimeoutError("worker iteration", time.Minute)
		return r, nil
	}}

	cfg := testConfig()
	cfg.Cooldown = 0
	l, err := New(cfg, inv, logger)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	_ = logger.Close()

	entries, err := logging.ReadEntries(filepath.Join(dir, logging.DebugLogName))
	if err != nil {
		t.Fatalf("ReadEntries: %v", err)
	}
	levels := make(map[int]string)
	for _, e := range entries {
		if strings.HasPrefix(e.Message, "worker iteration failed") {
			levels[e.Iteration] = e.Level
		}
	}
	if levels[1] != logging.LevelWarn {
		t.Errorf("retryable failure logged at %q, want WARN", levels[1])
	}
	if levels[2] != logging.LevelError {
		t.Errorf("timeout logged at %q, want ERROR", levels[2])
	}
}
