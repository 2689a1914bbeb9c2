package kb

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// LockFileName is created in the KB directory. Ingest jobs hold it
// exclusively while rewriting the files; loaders hold it shared.
const LockFileName = ".kb.lock"

const lockRetryDelay = 50 * time.Millisecond

// FileLock is a cross-process lock on a knowledge base directory.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock for dir. The directory must exist.
func NewFileLock(dir string) *FileLock {
	path := filepath.Join(dir, LockFileName)
	return &FileLock{path: path, flock: flock.New(path)}
}

// RLock takes the shared lock, waiting at most timeout.
func (l *FileLock) RLock(ctx context.Context, timeout time.Duration) error {
	return l.acquire(ctx, timeout, l.flock.TryRLockContext)
}

// Lock takes the exclusive lock, waiting at most timeout.
func (l *FileLock) Lock(ctx context.Context, timeout time.Duration) error {
	return l.acquire(ctx, timeout, l.flock.TryLockContext)
}

func (l *FileLock) acquire(ctx context.Context, timeout time.Duration, try func(context.Context, time.Duration) (bool, error)) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ok, err := try(ctx, lockRetryDelay)
	if err != nil || !ok {
		return kberrors.New(kberrors.ErrCodeLockTimeout, "knowledge base is locked by another process", err).
			WithDetail("lock", l.path).
			WithDetail("timeout", timeout.String())
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not locked.
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
func (l *FileLock) Path() string { return l.path }
