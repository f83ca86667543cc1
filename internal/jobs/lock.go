package jobs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DirLock provides cross-process locking on a data directory so only one
// job processor touches the embedding tables at a time. Works on all
// platforms (Unix, Linux, macOS, Windows).
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for the given data directory. The lock file
// lives at <dir>/.docsearch.lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, ".docsearch.lock")
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking. Returns true if
// the lock was acquired, false if another process holds it.
func (l *DirLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call multiple times or on an
// unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release lock: %w", err)
	}

	l.locked = false
	return nil
}

// Path returns the path to the lock file.
func (l *DirLock) Path() string {
	return l.path
}

// IsLocked returns true if this process currently holds the lock.
func (l *DirLock) IsLocked() bool {
	return l.locked
}
