// Package internal contains integration tests that drive the loop with a real
// worker process, so the runner, watchdog, escalator, session tracker and run
// log are exercised together.
package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/loop"
	"github.com/Iron-Ham/ralph/internal/runlog"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/testutil"
	"github.com/Iron-Ham/ralph/internal/worker"
	"github.com/Iron-Ham/ralph/internal/worker/detect"
	"github.com/Iron-Ham/ralph/internal/worker/process"
)

const marker = "<promise>COMPLETE</promise>"

type blockRecorder struct {
	run *runlog.Run
}

func (r blockRecorder) Record(inv *worker.Invocation) error {
	return r.run.AppendBlock(runlog.Block{
		Iteration: inv.Iteration,
		StartedAt: inv.StartedAt,
		Outcome:   string(inv.Outcome),
		ExitCode:  inv.ExitCode,
		Elapsed:   inv.Elapsed,
		Output:    inv.Output,
	})
}

type harness struct {
	store *runlog.Store
	run   *runlog.Run
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	testutil.SkipOnWindows(t)

	dir := t.TempDir()
	store := runlog.NewStore(afero.NewOsFs(), filepath.Join(dir, "logs"))
	if err := store.Ensure(); err != nil {
		t.Fatal(err)
	}
	run, err := store.StartRun(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return &harness{store: store, run: run, dir: dir}
}

func (h *harness) script(t *testing.T, body string) string {
	t.Helper()
	return testutil.WriteScript(t, h.dir, "worker.sh", body)
}

func (h *harness) runLoop(t *testing.T, command string, cfg loop.Config) *loop.Result {
	t.Helper()
	logger := logging.NopLogger()

	watchdog := detect.NewWatchdog(detect.WatchdogConfig{
		Timeouts:  detect.ForMode(cfg.Live, cfg.IdleTimeout, cfg.HardTimeout),
		KillGrace: cfg.KillGrace,
	}, process.NewEscalator(logger), logger)

	runner := worker.NewRunner(command, watchdog,
		worker.WithLogger(logger),
		worker.WithIterationLogs(func(n int) (io.WriteCloser, error) { return h.run.OpenIteration(n) }),
		worker.WithWaitDelay(200*time.Millisecond),
	)

	l, err := loop.New(cfg, runner, logger)
	if err != nil {
		t.Fatalf("loop.New: %v", err)
	}
	l.SetRecorder(blockRecorder{run: h.run})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := l.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return result
}

func liveConfig() loop.Config {
	return loop.Config{
		MaxIterations:    5,
		Prompt:           "task",
		PromptFlag:       "-p",
		BaseArgs:         []string{"--skip"},
		StreamArgs:       []string{"--output-format", "stream-json"},
		ResumeFlag:       "--resume",
		CompletionMarker: marker,
		SessionMode:      session.ModeContinue,
		Live:             true,
		IdleTimeout:      5 * time.Second,
		KillGrace:        time.Second,
	}
}

// TestContinueModeResumesUntilComplete runs a streaming worker that reports a
// session on every iteration and finishes on the third.
func TestContinueModeResumesUntilComplete(t *testing.T) {
	h := newHarness(t)
	argsLog := filepath.Join(h.dir, "args.log")
	command := h.script(t, fmt.Sprintf(`echo "$*" >> %q
n=$(wc -l < %q | tr -d ' ')
printf '{"type":"system","subtype":"init","session_id":"sess-%%s"}\n' "$n"
if [ "$n" -ge 3 ]; then
  printf '{"type":"result","result":"all done %s"}\n'
else
  printf '{"type":"result","result":"iteration %%s"}\n' "$n"
fi`, argsLog, argsLog, marker))

	result := h.runLoop(t, command, liveConfig())

	if result.Phase != loop.PhaseCompleted || result.Iteration != 3 {
		t.Fatalf("result = %s at %d, want completed at 3", result.Phase, result.Iteration)
	}
	if result.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want the first iteration's id", result.SessionID)
	}
	if result.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d", result.ExitCode())
	}

	data, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{
		"--skip --output-format stream-json -p task",
		"--skip --output-format stream-json --resume sess-1 -p task",
		"--skip --output-format stream-json --resume sess-1 -p task",
	}
	if len(lines) != len(want) {
		t.Fatalf("worker ran %d times, want %d: %q", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("iteration %d args = %q, want %q", i+1, lines[i], want[i])
		}
	}

	blocks, err := h.store.ReadHeaders(h.run.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 {
		t.Fatalf("run log has %d blocks, want 3", len(blocks))
	}
	for i, b := range blocks {
		if b.Iteration != i+1 || b.Outcome != string(worker.OutcomeSuccess) {
			t.Errorf("block %d = %+v", i, b)
		}
	}

	raw, err := os.ReadFile(h.run.IterationPath(2))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"result":"iteration 2"`) {
		t.Errorf("iteration 2 log = %q", raw)
	}
}

// TestHungWorkerIsStopped runs a worker that goes silent and checks that the
// idle watchdog ends the run with a timeout recorded in the run log.
func TestHungWorkerIsStopped(t *testing.T) {
	h := newHarness(t)
	command := h.script(t, `echo '{"type":"system","subtype":"init"}'
exec sleep 30`)

	cfg := liveConfig()
	cfg.SessionMode = session.ModeClean
	cfg.IdleTimeout = 300 * time.Millisecond
	cfg.KillGrace = 500 * time.Millisecond

	start := time.Now()
	result := h.runLoop(t, command, cfg)

	if result.Phase != loop.PhaseTimedOut || result.Iteration != 1 {
		t.Fatalf("result = %s at %d, want timed_out at 1", result.Phase, result.Iteration)
	}
	if result.ExitCode() != 124 {
		t.Errorf("ExitCode() = %d, want 124", result.ExitCode())
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("hung worker took %v to stop", elapsed)
	}

	blocks, err := h.store.ReadHeaders(h.run.Path())
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Outcome != string(worker.OutcomeTimeout) {
		t.Errorf("run log blocks = %+v", blocks)
	}
}
