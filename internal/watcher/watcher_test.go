package watcher

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerDeadlines(t *testing.T) {
	clock := time.Unix(1000, 0)
	d := NewDebouncer(100 * time.Millisecond)
	d.now = func() time.Time { return clock }

	d.Add("/p/a.go", KindModified)
	d.Add("/p/b.go", KindCreated)
	assert.Empty(t, d.CollectReady(), "nothing ready before the deadline")
	assert.Equal(t, 2, d.PendingCount())

	clock = clock.Add(150 * time.Millisecond)
	ready := d.CollectReady()
	assert.Len(t, ready, 2)
	assert.Zero(t, d.PendingCount())
	assert.Empty(t, d.CollectReady(), "collect removes entries")
}

func TestDebouncerKeepsLatestKind(t *testing.T) {
	clock := time.Unix(1000, 0)
	d := NewDebouncer(100 * time.Millisecond)
	d.now = func() time.Time { return clock }

	d.Add("/p/a.go", KindCreated)
	clock = clock.Add(50 * time.Millisecond)
	d.Add("/p/a.go", KindDeleted)

	// The second event pushed the deadline out.
	clock = clock.Add(80 * time.Millisecond)
	assert.Empty(t, d.CollectReady())

	clock = clock.Add(50 * time.Millisecond)
	ready := d.CollectReady()
	require.Len(t, ready, 1)
	assert.Equal(t, KindDeleted, ready[0].Kind)
}

func TestDebouncerBoundsOneEntryPerPath(t *testing.T) {
	d := NewDebouncer(time.Minute)
	for i := 0; i < 100; i++ {
		d.Add("/p/same.go", KindModified)
	}
	assert.Equal(t, 1, d.PendingCount())
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return NewCoordinator(filepath.Join(t.TempDir(), "watchers"))
}

func TestCoordinatorAcquireRelease(t *testing.T) {
	c := newTestCoordinator(t)

	acquired, err := c.TryAcquire("proj1", "/some/project")
	require.NoError(t, err)
	assert.True(t, acquired)

	lock, err := c.ReadLock("/some/project")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), lock.PID)
	assert.Equal(t, "proj1", lock.ProjectID)

	require.NoError(t, c.Release("/some/project"))
	_, err = c.ReadLock("/some/project")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCoordinatorMutualExclusion(t *testing.T) {
	c := newTestCoordinator(t)

	// A live foreign process holds the lock.
	require.NoError(t, os.MkdirAll(c.locksDir, 0o755))
	foreign := &WatcherLock{ProjectID: "proj", ProjectPath: "/p", PID: os.Getpid() + 1, StartedAt: 1, LastActivity: 1}
	require.NoError(t, c.writeLock(c.LockPath("/p"), foreign))
	c.aliveProbe = func(pid int) bool { return true }

	acquired, err := c.TryAcquire("proj", "/p")
	require.NoError(t, err)
	assert.False(t, acquired, "lock held by a live process is not taken")

	// The holder dies; acquisition now succeeds.
	c.aliveProbe = func(pid int) bool { return pid == os.Getpid() }
	acquired, err = c.TryAcquire("proj", "/p")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestCoordinatorStaleLockCleaned(t *testing.T) {
	c := newTestCoordinator(t)

	// A dead pid: spawn a short-lived process and wait for it.
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	deadPID := cmd.Process.Pid
	require.NoError(t, cmd.Wait())

	require.NoError(t, os.MkdirAll(c.locksDir, 0o755))
	lock := &WatcherLock{ProjectID: "proj", ProjectPath: "/p", PID: deadPID, StartedAt: 1, LastActivity: 1}
	require.NoError(t, c.writeLock(c.LockPath("/p"), lock))

	acquired, err := c.TryAcquire("proj", "/p")
	require.NoError(t, err)
	assert.True(t, acquired, "stale lock from dead pid must be cleaned")

	got, err := c.ReadLock("/p")
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), got.PID)
}

func TestCoordinatorCorruptedLockTreatedStale(t *testing.T) {
	c := newTestCoordinator(t)
	require.NoError(t, os.MkdirAll(c.locksDir, 0o755))
	require.NoError(t, os.WriteFile(c.LockPath("/p"), []byte("{not json"), 0o644))

	acquired, err := c.TryAcquire("proj", "/p")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestCoordinatorUpdateActivity(t *testing.T) {
	c := newTestCoordinator(t)
	acquired, err := c.TryAcquire("proj", "/p")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, c.UpdateActivity("/p", 42))
	lock, err := c.ReadLock("/p")
	require.NoError(t, err)
	assert.Equal(t, 42, lock.IndexedFiles)
}

func TestCoordinatorLockPathStable(t *testing.T) {
	c := newTestCoordinator(t)
	p1 := c.LockPath("/home/user/project")
	p2 := c.LockPath("/home/user/project")
	p3 := c.LockPath("/home/user/other")

	assert.Equal(t, p1, p2)
	assert.NotEqual(t, p1, p3)
	base := filepath.Base(p1)
	assert.Len(t, base, 16+len(".lock"))
}
