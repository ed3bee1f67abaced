package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mblakley/soccer-cam-go/config"
)

// DirLock is a per-group-directory exclusive lock guarding the
// read-mutate-write sequence on state.json. Concurrent mutation can't
// actually happen today - each pipeline stage is processed by a single
// worker - but the lock is kept for defense in depth against the
// auditor running concurrently with a worker.
//
// Implemented as an in-process mutex keyed by directory path rather than
// an flock(2) file lock: every worker lives in the same process, so a
// process-local lock is sufficient and avoids the portability/cleanup
// headaches of OS file locks.
type DirLock struct {
	mu sync.Mutex
}

var (
	dirLocksMu sync.Mutex
	dirLocks   = map[string]*DirLock{}
)

// LockGroup returns the process-wide lock for a group directory,
// creating it on first use.
func LockGroup(dir string) *DirLock {
	dirLocksMu.Lock()
	defer dirLocksMu.Unlock()
	l, ok := dirLocks[dir]
	if !ok {
		l = &DirLock{}
		dirLocks[dir] = l
	}
	return l
}

// WithGroupLock runs fn holding the group's lock for the duration of a
// load-mutate-save sequence.
func WithGroupLock(dir string, fn func() error) error {
	l := LockGroup(dir)
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn()
}

// HighWaterMark is the camera poll cursor persisted at
// <root>/latest_video.txt. It only ever moves forward.
type HighWaterMark struct {
	path string
}

func NewHighWaterMark(storageRoot string) *HighWaterMark {
	return &HighWaterMark{path: filepath.Join(storageRoot, config.LatestVideoFileName)}
}

// Read returns the persisted high-water mark, or the zero string if none
// has been written yet (first run).
func (h *HighWaterMark) Read() (string, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", h.path, err)
	}
	return string(data), nil
}

// Write persists a new high-water mark value. Callers are responsible
// for ensuring it only ever moves forward; this type doesn't compare
// against the previous value itself since the poller already knows the
// camera's time format and rewind rule.
func (h *HighWaterMark) Write(value string) error {
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, h.path)
}
