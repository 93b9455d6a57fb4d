package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/ralph/internal/config"
	"github.com/Iron-Ham/ralph/internal/loop"
	"github.com/Iron-Ham/ralph/internal/runlog"
	"github.com/Iron-Ham/ralph/internal/styles"
	"github.com/Iron-Ham/ralph/internal/util"
	"github.com/Iron-Ham/ralph/internal/worker"
)

const (
	defaultConsoleWidth = 100
	// bufferedTailLines is how much output is echoed after a buffered iteration.
	bufferedTailLines = 10
)

// console renders run progress for a human watching the terminal. Preview
// lines arrive from the runner's output goroutine while the other callbacks
// come from the loop goroutine, so writes are serialized.
type console struct {
	mu    sync.Mutex
	out   io.Writer
	live  bool
	max   int
	width int
}

func newConsole(out io.Writer, live bool, maxIterations int) *console {
	return &console{
		out:   out,
		live:  live,
		max:   maxIterations,
		width: consoleWidth(out),
	}
}

func consoleWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultConsoleWidth
	}
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
		return w
	}
	return defaultConsoleWidth
}

func (c *console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.out, s)
}

func (c *console) header(cfg *config.Config, run *runlog.Run) {
	mode := "buffered"
	limit := fmt.Sprintf("hard timeout %s", util.FormatDuration(cfg.Timeouts.HardTimeout()))
	if cfg.Loop.Live {
		mode = "live"
		limit = fmt.Sprintf("idle timeout %s", util.FormatDuration(cfg.Timeouts.IdleTimeout()))
	}
	c.println(styles.Primary.Bold(true).Render("ralph") + styles.Muted.Render(fmt.Sprintf(
		"  run %s · %s · %s · %s session · up to %s",
		run.ID, mode, limit, cfg.Loop.SessionMode, util.Plural(cfg.Loop.MaxIterations, "iteration"),
	)))
}

// preview prints one display line of live worker output.
func (c *console) preview(_ int, line string) {
	line = util.OneLine(line)
	if line == "" {
		return
	}
	c.println(styles.Preview.Render(util.TruncateANSI(line, c.width-2)))
}

func (c *console) callbacks() *loop.Callbacks {
	return &loop.Callbacks{
		OnIterationStart:    c.iterationStart,
		OnIterationComplete: c.iterationComplete,
		OnSessionCaptured: func(id string) {
			c.println(styles.Muted.Render("  session " + id + " will be resumed"))
		},
		OnCooldown: func(_ int, d time.Duration) {
			c.println(styles.Muted.Render("  cooling down for " + util.FormatDuration(d)))
		},
	}
}

func (c *console) iterationStart(n int, _ []string) {
	title := fmt.Sprintf(" iteration %d/%d ", n, c.max)
	rule := c.width - lipgloss.Width(title) - 2
	if rule < 0 {
		rule = 0
	}
	c.println("")
	c.println(styles.Banner.Render("━━" + title + strings.Repeat("━", rule)))
}

func (c *console) iterationComplete(inv *worker.Invocation) {
	if !c.live {
		for _, line := range tailLines(inv.Output, bufferedTailLines) {
			c.println(styles.Preview.Render(util.TruncateANSI(line, c.width-2)))
		}
	}

	detail := fmt.Sprintf("exit %d · %s", inv.ExitCode, util.FormatDuration(inv.Elapsed))
	if inv.Err != nil && inv.Outcome != worker.OutcomeSuccess {
		detail += " · " + inv.Err.Error()
	}
	c.println(styles.Badge(string(inv.Outcome)) + " " + styles.Muted.Render(util.TruncateANSI(detail, c.width-20)))
}

// summary prints the closing box for a finished run.
func (c *console) summary(result *loop.Result, run *runlog.Run, logDir string) {
	row := func(label, value string) string {
		return styles.SummaryLabel.Render(label) + value
	}

	rows := []string{
		row("outcome", styles.Badge(string(result.Phase))),
		row("", result.Summary()),
		row("iterations", fmt.Sprintf("%d/%d", result.Iteration, c.max)),
	}
	if counts := formatCounts(result.Counts()); counts != "" {
		rows = append(rows, row("outcomes", counts))
	}
	if result.SessionID != "" {
		rows = append(rows, row("session", result.SessionID))
	}
	rows = append(rows,
		row("elapsed", util.FormatDuration(result.EndedAt.Sub(result.StartedAt))),
		row("run log", run.Path()),
		row("log dir", logDir),
	)

	c.println("")
	c.println(styles.SummaryBox.Render(strings.Join(rows, "\n")))
}

func formatCounts(counts map[worker.Outcome]int) string {
	parts := make([]string, 0, len(counts))
	for outcome, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", outcome, n))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// tailLines returns the last n non-blank lines of s.
func tailLines(s string, n int) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
