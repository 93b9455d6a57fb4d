package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// DebugLogName is the file name of the debug log inside the log root.
const DebugLogName = "debug.log"

var slogLevels = map[string]slog.Level{
	LevelDebug: slog.LevelDebug,
	LevelInfo:  slog.LevelInfo,
	LevelWarn:  slog.LevelWarn,
	LevelError: slog.LevelError,
}

// Logger writes JSON records to debug.log. Child loggers created with the
// With* methods share the parent's file and add their own attributes.
type Logger struct {
	slog *slog.Logger
	out  *RotatingWriter
	mu   *sync.Mutex // guards out across the whole family on Close
}

// NewLogger opens {logDir}/debug.log with the default rotation settings.
// Records below level are dropped. An empty logDir logs to stderr.
func NewLogger(logDir string, level string) (*Logger, error) {
	return NewLoggerWithRotation(logDir, level, DefaultRotationConfig())
}

// NewLoggerWithRotation is NewLogger with explicit rotation settings. The
// settings are ignored when logging to stderr.
func NewLoggerWithRotation(logDir string, level string, config RotationConfig) (*Logger, error) {
	l := &Logger{mu: &sync.Mutex{}}

	var w io.Writer = os.Stderr
	if logDir != "" {
		out, err := NewRotatingWriter(filepath.Join(logDir, DebugLogName), config)
		if err != nil {
			return nil, fmt.Errorf("failed to open debug log: %w", err)
		}
		l.out = out
		w = out
	}

	l.slog = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slogLevels[ParseLevel(level)],
	}))
	return l, nil
}

// WithRun tags every record with the run ID.
func (l *Logger) WithRun(runID string) *Logger {
	return l.With("run_id", runID)
}

// WithIteration tags every record with the iteration number.
func (l *Logger) WithIteration(n int) *Logger {
	return l.With("iteration", n)
}

// WithPhase tags every record with the loop phase or component name.
func (l *Logger) WithPhase(phase string) *Logger {
	return l.With("phase", phase)
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	if len(args) == 0 {
		return l
	}
	return &Logger{slog: l.slog.With(args...), out: l.out, mu: l.mu}
}

func (l *Logger) Debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.emit(slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.emit(slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.emit(slog.LevelError, msg, args) }

func (l *Logger) emit(level slog.Level, msg string, args []any) {
	l.slog.Log(context.Background(), level, msg, args...)
}

// Close closes debug.log. Any logger of a family may close the shared file;
// later calls are no-ops.
func (l *Logger) Close() error {
	if l.mu == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	return l.out.Close()
}

// NopLogger discards everything. Use it in tests and when logging.enabled is
// false.
func NopLogger() *Logger {
	return &Logger{
		slog: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		mu:   &sync.Mutex{},
	}
}

// ParseLevel normalizes a level name. Unknown names map to LevelInfo.
func ParseLevel(level string) string {
	upper := strings.ToUpper(strings.TrimSpace(level))
	if _, ok := slogLevels[upper]; ok {
		return upper
	}
	return LevelInfo
}

// ValidLevels lists the accepted level names, most verbose first.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}
