package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Lock acquisition defaults for FileStore.
const (
	defaultLockAttempts = 50
	defaultLockDelay    = 100 * time.Millisecond
	defaultLockStaleAge = 30 * time.Second
)

var errLockTimeout = errors.New("timed out waiting for credential file lock")

// fileLock is an advisory lock held by exclusively creating "<path>.lock".
// It coordinates writers across processes sharing one credential file.
type fileLock struct {
	f    *os.File
	path string
}

type lockOptions struct {
	attempts int
	delay    time.Duration
	staleAge time.Duration
}

func (o lockOptions) withDefaults() lockOptions {
	if o.attempts <= 0 {
		o.attempts = defaultLockAttempts
	}
	if o.delay <= 0 {
		o.delay = defaultLockDelay
	}
	if o.staleAge <= 0 {
		o.staleAge = defaultLockStaleAge
	}
	return o
}

// lockFile acquires the lock for target. A lock file older than staleAge is
// assumed to belong to a crashed process and is removed.
func lockFile(ctx context.Context, target string, opts lockOptions) (*fileLock, error) {
	opts = opts.withDefaults()
	lockPath := target + ".lock"

	for range opts.attempts {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{f: f, path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > opts.staleAge {
			if rmErr := os.Remove(lockPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, rmErr)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.delay):
		}
	}

	return nil, fmt.Errorf("%w after %v", errLockTimeout, time.Duration(opts.attempts)*opts.delay)
}

// unlock releases the lock. Calling it twice returns the os.Remove error.
func (l *fileLock) unlock() error {
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	return os.Remove(l.path)
}
