package allocator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the snapshot directory
const LockFileName = ".bucketd.lock"

// ErrLocked means another pass holds the run lock
var ErrLocked = errors.New("run directory is locked by another pass")

// RunLock is an advisory exclusive lock on a snapshot directory
type RunLock struct {
	fl *flock.Flock
}

// AcquireRunLock takes the lock without blocking. It returns ErrLocked when
// another process (or another lock in this process) holds it.
func AcquireRunLock(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	fl := flock.New(filepath.Join(dir, LockFileName))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", dir, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrLocked)
	}
	return &RunLock{fl: fl}, nil
}

// Release drops the lock
func (l *RunLock) Release() error {
	return l.fl.Unlock()
}
