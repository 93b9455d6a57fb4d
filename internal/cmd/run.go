package cmd

import (
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/errors"
	"github.com/Iron-Ham/ralph/internal/exitcode"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/loop"
	"github.com/Iron-Ham/ralph/internal/runlog"
	"github.com/Iron-Ham/ralph/internal/session"
	"github.com/Iron-Ham/ralph/internal/worker"
	"github.com/Iron-Ham/ralph/internal/worker/detect"
	"github.com/Iron-Ham/ralph/internal/worker/process"
)

func runRalph(cmd *cobra.Command, args []string) error {
	if err := applyNoLive(cmd.Flags()); err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "invalid flags", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "invalid configuration", err)
	}

	prompt, err := readPrompt(cfg.Loop.PromptFile)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "cannot read prompt", err)
	}

	workerPath, err := worker.CheckWorker(cfg.Worker.Command)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "cannot run worker", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "failed to get current directory", err)
	}
	logDir := cfg.Paths.ResolveLogDir(cwd)

	store := runlog.NewStore(afero.NewOsFs(), logDir)
	if err := store.Ensure(); err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "cannot create log directory", err)
	}

	supervisorID := uuid.NewString()
	lock, err := runlog.AcquireLock(logDir, supervisorID)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "log directory is busy", err)
	}
	defer func() { _ = lock.Release() }()

	run, err := store.StartRun(time.Now())
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "cannot create run log", err)
	}

	logger, err := newRunLogger(cfg, logDir)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "cannot open debug log", err)
	}
	defer func() { _ = logger.Close() }()
	logger = logger.WithRun(run.ID).With("supervisor_id", supervisorID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newConsole(cmd.OutOrStdout(), cfg.Loop.Live, cfg.Loop.MaxIterations)

	escalator := process.NewEscalator(logger)
	watchdog := detect.NewWatchdog(detect.WatchdogConfig{
		Timeouts:  detect.ForMode(cfg.Loop.Live, cfg.Timeouts.IdleTimeout(), cfg.Timeouts.HardTimeout()),
		KillGrace: cfg.Timeouts.KillGrace(),
	}, escalator, logger)

	runner := worker.NewRunner(workerPath, watchdog,
		worker.WithLogger(logger),
		worker.WithIterationLogs(func(n int) (io.WriteCloser, error) { return run.OpenIteration(n) }),
		worker.WithDisplay(out.preview),
		worker.WithPTY(cfg.Worker.PTY),
	)

	lp, err := loop.New(loopConfig(cfg, prompt), runner, logger)
	if err != nil {
		return exitcode.Wrap(exitcode.ErrConfig, "invalid configuration", err)
	}
	lp.SetRecorder(runRecorder{run: run})
	lp.SetCallbacks(out.callbacks())

	logger.Info("run started",
		"worker", workerPath,
		"prompt_file", cfg.Loop.PromptFile,
		"log_dir", logDir,
	)
	out.header(cfg, run)

	result, err := lp.Run(ctx)
	if err != nil {
		logger.Error("run failed", "error", err.Error())
		return err
	}

	out.summary(result, run, logDir)
	return result.Err()
}

// readPrompt loads the task prompt once; later edits to the file do not
// affect a run in progress.
func readPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewConfigError("prompt file not found", errors.ErrPromptMissing).WithPath(path)
		}
		return "", errors.NewConfigError("failed to read prompt file", err).WithPath(path)
	}
	prompt := string(data)
	if strings.TrimSpace(prompt) == "" {
		return "", errors.NewConfigError("prompt file is empty", errors.ErrPromptEmpty).WithPath(path)
	}
	return prompt, nil
}

// loopConfig converts the loaded configuration into the loop's run config.
func loopConfig(cfg *config.Config, prompt string) loop.Config {
	return loop.Config{
		MaxIterations:    cfg.Loop.MaxIterations,
		Prompt:           prompt,
		PromptFlag:       cfg.Worker.PromptFlag,
		BaseArgs:         cfg.Worker.Args,
		StreamArgs:       cfg.Worker.StreamArgs,
		ResumeFlag:       cfg.Worker.ResumeFlag,
		CompletionMarker: cfg.Loop.CompletionMarker,
		Cooldown:         cfg.Loop.Cooldown(),
		SessionMode:      session.Mode(cfg.Loop.SessionMode),
		Live:             cfg.Loop.Live,
		IdleTimeout:      cfg.Timeouts.IdleTimeout(),
		HardTimeout:      cfg.Timeouts.HardTimeout(),
		KillGrace:        cfg.Timeouts.KillGrace(),
	}
}

func newRunLogger(cfg *config.Config, logDir string) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLoggerWithRotation(logDir, logging.ParseLevel(cfg.Logging.Level), logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// runRecorder appends each invocation to the run log.
type runRecorder struct {
	run *runlog.Run
}

func (r runRecorder) Record(inv *worker.Invocation) error {
	return r.run.AppendBlock(runlog.Block{
		Iteration: inv.Iteration,
		StartedAt: inv.StartedAt,
		Outcome:   string(inv.Outcome),
		ExitCode:  inv.ExitCode,
		Elapsed:   inv.Elapsed,
		Output:    inv.Output,
	})
}

var _ loop.Recorder = runRecorder{}
