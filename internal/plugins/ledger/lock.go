package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// lockPollInterval is how often a contended lock is retried.
const lockPollInterval = 10 * time.Millisecond

// ErrLockTimeout is returned when the ledger lock is not acquired within
// the configured wait.
var ErrLockTimeout = errors.New("timed out waiting for ledger lock")

// fileLock is an advisory lock on the ledger's sidecar lock file. Locking a
// sidecar rather than the data file lets writers replace the data file by
// rename while holding the lock.
type fileLock struct {
	f *os.File
}

// acquireLock takes a shared or exclusive lock on path, retrying a
// non-blocking attempt until timeout elapses or ctx is done.
func acquireLock(ctx context.Context, path string, exclusive bool, timeout time.Duration) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()

	for {
		ok, err := tryLock(f, exclusive)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if ok {
			return &fileLock{f: f}, nil
		}
		if !time.Now().Before(deadline) {
			f.Close()
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release drops the lock and closes the lock file.
func (l *fileLock) release() {
	_ = unlock(l.f)
	_ = l.f.Close()
}
