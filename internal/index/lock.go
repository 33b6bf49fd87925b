package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	carderrors "github.com/Aman-CERP/cardrag/internal/errors"
)

// lockRetryDelay is how often a blocked Lock polls the lock file.
const lockRetryDelay = 100 * time.Millisecond

// FileLock is a cross-process lock guarding one category directory while a
// partition is written.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock at path. The file is created on first Lock.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Lock blocks until the lock is held or ctx is done. A cancelled wait is
// reported as ERR_210_INDEX_LOCKED.
func (l *FileLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return carderrors.New(carderrors.ErrCodeIndexLocked,
			"index is being written by another process", ctx.Err()).
			WithDetail("lock", l.path)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. It is safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}
