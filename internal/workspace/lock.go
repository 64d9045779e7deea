package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileName     = "luna.lock"
	defaultLockRetry = 100 * time.Millisecond
	defaultLockTries = 50
)

// Lock guards the workspace root against a second bot instance
// sharing the same files.
type Lock struct {
	fileLock   *flock.Flock
	lockPath   string
	acquiredAt time.Time
	mu         sync.Mutex
}

func AcquireLock(root string) (*Lock, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	lockPath := filepath.Join(root, lockFileName)
	fileLock := flock.New(lockPath)

	for i := 0; i < defaultLockTries; i++ {
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("attempt lock: %w", err)
		}
		if locked {
			l := &Lock{fileLock: fileLock, lockPath: lockPath, acquiredAt: time.Now()}
			slog.Info("Workspace lock acquired", "path", lockPath)
			return l, nil
		}
		if i < defaultLockTries-1 {
			time.Sleep(defaultLockRetry)
		}
	}

	return nil, fmt.Errorf("workspace root %s is locked by another instance", root)
}

func (l *Lock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileLock == nil {
		return
	}
	if err := l.fileLock.Unlock(); err != nil {
		slog.Error("Failed to release workspace lock", "path", l.lockPath, "error", err)
	} else {
		slog.Info("Workspace lock released", "held_ms", time.Since(l.acquiredAt).Milliseconds())
	}
	l.fileLock = nil
}
