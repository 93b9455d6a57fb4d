// Package runlog owns the on-disk artifacts of a run: the run log, one raw log
// per iteration, and the lock that keeps two supervisors out of the same log
// root.
//
// Layout of the log root:
//
//	run-20260102-150405.log            one delimited block per iteration
//	run-20260102-150405-iter-001.log   raw output of iteration 1
//	debug.log                          structured debug log (see package logging)
//	.ralph.lock                        held for the whole run
//
// All files are append-only and written by a single goroutine at a time; the
// loop's strict sequencing of iterations provides the ordering.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/ralph/internal/util"
)

// TimestampLayout formats the run start time into run IDs.
const TimestampLayout = "20060102-150405"

// Store is a log root on a filesystem.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore creates a Store rooted at dir. Pass afero.NewOsFs() outside tests.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the log root.
func (s *Store) Dir() string {
	return s.dir
}

// Fs returns the filesystem the store writes to.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Ensure creates the log root if it does not exist.
func (s *Store) Ensure() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", s.dir, err)
	}
	return nil
}

// RunLogPath returns the run log path for a run ID.
func (s *Store) RunLogPath(runID string) string {
	return filepath.Join(s.dir, "run-"+runID+".log")
}

// IterationLogPath returns the iteration log path for a run ID and iteration.
func (s *Store) IterationLogPath(runID string, iteration int) string {
	return filepath.Join(s.dir, fmt.Sprintf("run-%s-iter-%03d.log", runID, iteration))
}

// StartRun creates the run log for a run starting at now. If a run log with
// the same second-resolution name already exists, a numeric suffix keeps the
// runs apart.
func (s *Store) StartRun(now time.Time) (*Run, error) {
	if err := s.Ensure(); err != nil {
		return nil, err
	}

	base := now.Format(TimestampLayout)
	id := base
	for n := 2; ; n++ {
		f, err := s.fs.OpenFile(s.RunLogPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_ = f.Close()
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create run log: %w", err)
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}

	return &Run{store: s, ID: id, StartedAt: now}, nil
}

// Run is the set of log files belonging to one supervisor invocation.
type Run struct {
	store     *Store
	ID        string
	StartedAt time.Time
}

// Path returns the run log path.
func (r *Run) Path() string {
	return r.store.RunLogPath(r.ID)
}

// IterationPath returns the iteration log path for iteration n.
func (r *Run) IterationPath(n int) string {
	return r.store.IterationLogPath(r.ID, n)
}

// OpenIteration creates the raw log for iteration n.
func (r *Run) OpenIteration(n int) (*IterationLog, error) {
	path := r.IterationPath(n)
	f, err := r.store.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open iteration log: %w", err)
	}
	return &IterationLog{file: f, path: path}, nil
}

// Block is one iteration's entry in the run log.
type Block struct {
	Iteration int
	StartedAt time.Time
	Outcome   string
	ExitCode  int
	Elapsed   time.Duration
	Output    string
}

// Header returns the opening delimiter line of the block.
func (b Block) Header() string {
	return fmt.Sprintf("===== iteration %d | %s | outcome=%s exit=%d elapsed=%s =====",
		b.Iteration, b.StartedAt.Format(time.RFC3339), b.Outcome, b.ExitCode, util.FormatDuration(b.Elapsed))
}

// Footer returns the closing delimiter line of the block.
func (b Block) Footer() string {
	return fmt.Sprintf("===== end iteration %d =====", b.Iteration)
}

// AppendBlock appends a delimited block to the run log.
func (r *Run) AppendBlock(b Block) error {
	f, err := r.store.fs.OpenFile(r.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(b.Header())
	sb.WriteByte('\n')
	sb.WriteString(b.Output)
	if b.Output != "" && !strings.HasSuffix(b.Output, "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString(b.Footer())
	sb.WriteString("\n\n")

	if _, err := io.WriteString(f, sb.String()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to run log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close run log: %w", err)
	}
	return nil
}

// IterationLog is the raw output file of one iteration.
type IterationLog struct {
	file afero.File
	path string
}

// Path returns the file path.
func (l *IterationLog) Path() string {
	return l.path
}

// Write appends raw output.
func (l *IterationLog) Write(p []byte) (int, error) {
	return l.file.Write(p)
}

// Close syncs and closes the file.
func (l *IterationLog) Close() error {
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}
