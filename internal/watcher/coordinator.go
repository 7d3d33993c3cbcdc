package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	ccerr "github.com/ccengram/ccengram/internal/errors"
)

// WatcherLock is the JSON payload of a lock file.
type WatcherLock struct {
	ProjectID    string `json:"project_id"`
	ProjectPath  string `json:"project_path"`
	PID          int    `json:"pid"`
	StartedAt    int64  `json:"started_at"`
	LastActivity int64  `json:"last_activity"`
	IndexedFiles int    `json:"indexed_files"`
}

// Coordinator manages cross-process watcher locks. Lock files are the only
// cross-process mutex in the system; a watcher holds its lock file for its
// entire lifetime.
type Coordinator struct {
	locksDir string

	// aliveProbe is swappable for tests.
	aliveProbe func(pid int) bool
}

// NewCoordinator creates a coordinator writing locks under locksDir.
func NewCoordinator(locksDir string) *Coordinator {
	return &Coordinator{locksDir: locksDir, aliveProbe: processAlive}
}

// LockPath returns the lock file path for a project path.
func (c *Coordinator) LockPath(projectPath string) string {
	sum := sha256.Sum256([]byte(projectPath))
	return filepath.Join(c.locksDir, hex.EncodeToString(sum[:])[:16]+".lock")
}

// TryAcquire attempts to take the project's lock for this process.
// Returns false when another live process holds it; stale locks from dead
// processes are removed and re-acquired.
func (c *Coordinator) TryAcquire(projectID, projectPath string) (bool, error) {
	if err := os.MkdirAll(c.locksDir, 0o755); err != nil {
		return false, ccerr.Wrap(ccerr.KindCoordination, "create locks dir", err)
	}

	lockPath := c.LockPath(projectPath)
	if existing, err := c.ReadLock(projectPath); err == nil {
		if c.aliveProbe(existing.PID) && existing.PID != os.Getpid() {
			return false, nil
		}
		// Stale (or our own leftover) lock.
		_ = os.Remove(lockPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		// A corrupted lock file is treated as stale.
		_ = os.Remove(lockPath)
	}

	now := time.Now().Unix()
	lock := WatcherLock{
		ProjectID:    projectID,
		ProjectPath:  projectPath,
		PID:          os.Getpid(),
		StartedAt:    now,
		LastActivity: now,
	}
	if err := c.writeLock(lockPath, &lock); err != nil {
		return false, err
	}
	return true, nil
}

// Release deletes the lock after verifying this process owns it.
func (c *Coordinator) Release(projectPath string) error {
	lock, err := c.ReadLock(projectPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if lock.PID != os.Getpid() {
		return ccerr.Newf(ccerr.KindCoordination, "lock held by pid %d, not us", lock.PID)
	}
	return os.Remove(c.LockPath(projectPath))
}

// UpdateActivity rewrites the lock with a fresh activity stamp and the
// running indexed-file count.
func (c *Coordinator) UpdateActivity(projectPath string, indexedFiles int) error {
	lock, err := c.ReadLock(projectPath)
	if err != nil {
		return err
	}
	if lock.PID != os.Getpid() {
		return ccerr.Newf(ccerr.KindCoordination, "lock held by pid %d, not us", lock.PID)
	}
	lock.LastActivity = time.Now().Unix()
	lock.IndexedFiles = indexedFiles
	return c.writeLock(c.LockPath(projectPath), lock)
}

// ReadLock parses the lock file for a project path.
func (c *Coordinator) ReadLock(projectPath string) (*WatcherLock, error) {
	data, err := os.ReadFile(c.LockPath(projectPath))
	if err != nil {
		return nil, err
	}
	var lock WatcherLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("corrupted lock file: %w", err)
	}
	return &lock, nil
}

// HolderAlive reports whether the lock exists and its holder is running.
func (c *Coordinator) HolderAlive(projectPath string) bool {
	lock, err := c.ReadLock(projectPath)
	if err != nil {
		return false
	}
	return c.aliveProbe(lock.PID)
}

// StopWatcher terminates the watcher process holding the project's lock:
// SIGTERM, a 500 ms grace period, SIGKILL if still alive, then lock
// removal. Stopping our own pid is refused; in-process watchers stop
// through their cancel flag.
func (c *Coordinator) StopWatcher(projectPath string) error {
	lock, err := c.ReadLock(projectPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if lock.PID == os.Getpid() {
		return ccerr.New(ccerr.KindCoordination, "refusing to signal own process; use the registry stop path")
	}

	if c.aliveProbe(lock.PID) {
		_ = syscall.Kill(lock.PID, syscall.SIGTERM)
		deadline := time.Now().Add(500 * time.Millisecond)
		for time.Now().Before(deadline) && c.aliveProbe(lock.PID) {
			time.Sleep(50 * time.Millisecond)
		}
		if c.aliveProbe(lock.PID) {
			_ = syscall.Kill(lock.PID, syscall.SIGKILL)
		}
	}
	return os.Remove(c.LockPath(projectPath))
}

func (c *Coordinator) writeLock(path string, lock *WatcherLock) error {
	data, err := json.Marshal(lock)
	if err != nil {
		return ccerr.Internal("encode lock", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ccerr.Wrap(ccerr.KindCoordination, "write lock", err)
	}
	return os.Rename(tmp, path)
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
