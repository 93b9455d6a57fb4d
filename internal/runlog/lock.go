package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Iron-Ham/ralph/internal/errors"
)

// LockFileName is the name of the lock file within the log root.
const LockFileName = ".ralph.lock"

// ActiveFileName records who holds the lock. It exists only while a run is live.
const ActiveFileName = ".ralph.active"

// Holder describes the supervisor that holds the log root.
type Holder struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is an acquired log-root lock. The lock is an OS file lock, so a
// supervisor that dies without releasing it does not leave the root locked.
type Lock struct {
	flock      *flock.Flock
	activePath string
}

// AcquireLock takes the exclusive lock on dir without blocking. It returns an
// error wrapping errors.ErrLogDirLocked when another live supervisor holds it.
func AcquireLock(dir string, runID string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, LockFileName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		if holder, readErr := ReadHolder(dir); readErr == nil {
			return nil, fmt.Errorf("%w: run %s (PID %d on %s)", errors.ErrLogDirLocked, holder.RunID, holder.PID, holder.Hostname)
		}
		return nil, errors.ErrLogDirLocked
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	holder := Holder{
		RunID:     runID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
	}

	activePath := filepath.Join(dir, ActiveFileName)
	if data, err := json.MarshalIndent(holder, "", "  "); err == nil {
		// Holder info is diagnostic only; the file lock is authoritative.
		_ = os.WriteFile(activePath, data, 0o644)
	}

	return &Lock{flock: fl, activePath: activePath}, nil
}

// Release removes the holder record and unlocks. Safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	_ = os.Remove(l.activePath)
	err := l.flock.Unlock()
	l.flock = nil
	return err
}

// ReadHolder reads the holder record of dir.
func ReadHolder(dir string) (*Holder, error) {
	data, err := os.ReadFile(filepath.Join(dir, ActiveFileName))
	if err != nil {
		return nil, err
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to parse holder file: %w", err)
	}
	return &h, nil
}

// IsLocked reports whether a live supervisor currently holds dir.
func IsLocked(dir string) bool {
	path := filepath.Join(dir, LockFileName)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = fl.Unlock()
		return false
	}
	return true
}
