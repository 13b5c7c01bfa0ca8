package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WithFileLock runs fn while holding an exclusive advisory lock on lockPath.
// The lock is shared by every process working on the same data directory,
// so a read-modify-write inside fn never interleaves with another one.
func WithFileLock(lockPath string, fn func() error) error {
	return withFileLock(lockPath, false, fn)
}

// WithSharedFileLock is WithFileLock for readers.
func WithSharedFileLock(lockPath string, fn func() error) error {
	return withFileLock(lockPath, true, fn)
}

func withFileLock(lockPath string, shared bool, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", lockPath, err)
	}

	fl := flock.New(lockPath)
	var err error
	if shared {
		err = fl.RLock()
	} else {
		err = fl.Lock()
	}
	if err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer fl.Unlock()

	return fn()
}
