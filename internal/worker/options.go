package worker

import (
	"io"
	"time"

	"github.com/Iron-Ham/ralph/internal/logging"
)

// LogOpener opens the raw log for one iteration.
type LogOpener func(iteration int) (io.WriteCloser, error)

// runnerConfig holds optional configuration for a Runner.
type runnerConfig struct {
	logger    *logging.Logger
	openLog   LogOpener
	onDisplay func(iteration int, line string)
	dir       string
	pty       bool
	waitDelay time.Duration
}

// Option configures a Runner.
type Option func(*runnerConfig)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *logging.Logger) Option {
	return func(c *runnerConfig) { c.logger = l }
}

// WithIterationLogs sets where each iteration's raw output is written.
// Without it no iteration logs are kept.
func WithIterationLogs(open LogOpener) Option {
	return func(c *runnerConfig) { c.openLog = open }
}

// WithDisplay registers a callback for each display line extracted from
// streamed output. It is called from the output goroutine.
func WithDisplay(fn func(iteration int, line string)) Option {
	return func(c *runnerConfig) { c.onDisplay = fn }
}

// WithDir sets the worker's working directory.
func WithDir(dir string) Option {
	return func(c *runnerConfig) { c.dir = dir }
}

// WithPTY attaches the worker to a pseudo-terminal.
func WithPTY(enabled bool) Option {
	return func(c *runnerConfig) { c.pty = enabled }
}

// WithWaitDelay bounds how long output is drained after the worker exits.
func WithWaitDelay(d time.Duration) Option {
	return func(c *runnerConfig) { c.waitDelay = d }
}
