package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/curlake/curlake/internal/queryerr"
)

// LockFileName is the hidden marker at the local root carrying the advisory
// lock. One lock guards the whole root: concurrent syncs over different
// configs sharing a root are serialized deliberately.
const LockFileName = ".curlake.lock"

// Lock is a held advisory lock on a local root.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the advisory lock for localRoot without blocking. A
// second concurrent holder fails fast with Conflict.
func AcquireLock(localRoot string) (*Lock, error) {
	if localRoot == "" {
		return nil, fmt.Errorf("local root is required")
	}
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create local root %q: %w", localRoot, err)
	}

	fl := flock.New(filepath.Join(localRoot, LockFileName))
	held, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire cache lock: %w", err)
	}
	if !held {
		return nil, queryerr.New(queryerr.KindConflict,
			fmt.Sprintf("another sync is running against %s", localRoot))
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock. Safe to call once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release cache lock: %w", err)
	}
	return nil
}
