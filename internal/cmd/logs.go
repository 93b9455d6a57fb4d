package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/logging"
	"github.com/Iron-Ham/ralph/internal/runlog"
	"github.com/Iron-Ham/ralph/internal/styles"
	"github.com/Iron-Ham/ralph/internal/util"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View run logs",
	Long: `View the logs written by ralph runs.

By default, shows the tail of the most recent run log. Use flags to pick a
run or a single iteration, or to read the structured debug log instead.

Examples:
  # Show last 50 lines of the most recent run
  ralph logs

  # Show the raw output of iteration 3 of a specific run
  ralph logs --run 20260102-1504 --iteration 3 -n 0

  # Follow the run log while a run is in progress
  ralph logs -f

  # Show warnings from the debug log in the last hour
  ralph logs --debug --level warn --since 1h

  # Search for specific patterns
  ralph logs --grep "error|failed"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs in the log directory",
	Args:  cobra.NoArgs,
	RunE:  runLogsList,
}

var (
	logsRunID     string
	logsIteration int
	logsTail      int
	logsFollow    bool
	logsDebug     bool
	logsLevel     string
	logsSince     string
	logsGrep      string
)

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsListCmd)

	logsCmd.Flags().StringVarP(&logsRunID, "run", "r", "", "Run ID or unique prefix (default: most recent)")
	logsCmd.Flags().IntVarP(&logsIteration, "iteration", "i", 0, "Show the raw log of one iteration")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().BoolVar(&logsDebug, "debug", false, "Show the structured debug log")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter debug log by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show debug log entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter lines matching pattern (regex)")
}

// logDir resolves the log root from the bound configuration.
func logDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	paths := config.PathsConfig{LogDir: viper.GetString("paths.log_dir")}
	return paths.ResolveLogDir(cwd), nil
}

func compileGrep(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid grep pattern: %w", err)
	}
	return re, nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir, err := logDir()
	if err != nil {
		return err
	}
	grep, err := compileGrep(logsGrep)
	if err != nil {
		return err
	}

	store := runlog.NewStore(afero.NewOsFs(), dir)
	out := cmd.OutOrStdout()

	var run *runlog.RunInfo
	if logsRunID != "" {
		if run, err = store.FindRun(logsRunID); err != nil {
			return err
		}
	}

	if logsDebug {
		return showDebugLog(out, dir, run, grep)
	}

	if run == nil {
		if run, err = store.LatestRun(); err != nil {
			return err
		}
	}

	path := run.Path
	if logsIteration > 0 {
		path = store.IterationLogPath(run.ID, logsIteration)
	}

	offset, err := displayLog(out, path, logsTail, grep)
	if err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return followLog(ctx, out, path, offset, grep)
}

// displayLog prints the last tail lines of path that match grep and returns
// the file size that was read, for followLog to continue from.
func displayLog(out io.Writer, path string, tail int, grep *regexp.Regexp) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("log file not found: %s", path)
		}
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	var offset int64
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial last line is left for followLog.
			break
		}
		offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if grep != nil && !grep.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}

	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	return offset, nil
}

// followLog prints lines appended to path after offset until ctx is done.
// The parent directory is watched so the file may be created after following
// starts.
func followLog(ctx context.Context, out io.Writer, path string, offset int64, grep *regexp.Regexp) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	var partial string
	drain := func() error {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		defer func() { _ = f.Close() }()

		if info, err := f.Stat(); err == nil && info.Size() < offset {
			// Truncated or replaced.
			offset = 0
			partial = ""
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		offset += int64(len(data))

		chunk := partial + string(data)
		lines := strings.Split(chunk, "\n")
		partial = lines[len(lines)-1]
		for _, line := range lines[:len(lines)-1] {
			line = strings.TrimRight(line, "\r")
			if grep != nil && !grep.MatchString(line) {
				continue
			}
			_, _ = fmt.Fprintln(out, line)
		}
		return nil
	}

	if err := drain(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := drain(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching log file: %w", err)
		}
	}
}

// showDebugLog prints filtered debug.log entries.
func showDebugLog(out io.Writer, dir string, run *runlog.RunInfo, grep *regexp.Regexp) error {
	entries, err := logging.ReadEntries(filepath.Join(dir, logging.DebugLogName))
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		Level:     logsLevel,
		Iteration: logsIteration,
	}
	if run != nil {
		filter.RunID = run.ID
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}

	var lines []string
	for _, entry := range logging.FilterEntries(entries, filter) {
		line := entry.Format()
		if grep != nil && !grep.MatchString(line) {
			continue
		}
		lines = append(lines, levelStyle(entry.Level).Render(line))
	}

	if logsTail > 0 && len(lines) > logsTail {
		lines = lines[len(lines)-logsTail:]
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case logging.LevelDebug:
		return styles.Muted
	case logging.LevelWarn:
		return styles.Warning
	case logging.LevelError:
		return styles.Error
	default:
		return lipgloss.NewStyle()
	}
}

func runLogsList(cmd *cobra.Command, args []string) error {
	dir, err := logDir()
	if err != nil {
		return err
	}

	runs, err := runlog.NewStore(afero.NewOsFs(), dir).ListRuns()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		_, _ = fmt.Fprintf(out, "No runs in %s\n", dir)
		return nil
	}

	_, _ = fmt.Fprintf(out, "%-22s %-20s %-12s %s\n", "RUN", "STARTED", "ITERATIONS", "LAST OUTCOME")
	for _, r := range runs {
		outcome := "-"
		if r.LastOutcome != "" {
			outcome = styles.Badge(r.LastOutcome)
		}
		started := r.StartedAt.Format("2006-01-02 15:04:05")
		if r.StartedAt.IsZero() {
			started = "-"
		}
		_, _ = fmt.Fprintf(out, "%-22s %-20s %-12s %s\n",
			r.ID, started, util.Plural(r.Iterations, "log"), outcome)
	}

	if runlog.IsLocked(dir) {
		if holder, err := runlog.ReadHolder(dir); err == nil {
			_, _ = fmt.Fprintf(out, "\n%s\n", styles.Muted.Render(fmt.Sprintf(
				"A run is in progress (PID %d on %s, since %s)",
				holder.PID, holder.Hostname, holder.StartedAt.Format(time.Kitchen))))
		}
	}
	return nil
}
