package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// PidFile guards against two daemons sharing one data root. The flock is
// held for the daemon's lifetime; the file carries the pid for status
// output.
type PidFile struct {
	path  string
	flock *flock.Flock
}

// NewPidFile creates the guard at {dataRoot}/ccengram.pid.
func NewPidFile(dataRoot string) *PidFile {
	path := filepath.Join(dataRoot, "ccengram.pid")
	return &PidFile{path: path, flock: flock.New(path + ".lock")}
}

// Acquire takes the lock or reports the running daemon's pid.
func (p *PidFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}
	locked, err := p.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire pid lock: %w", err)
	}
	if !locked {
		if pid, err := p.ReadPid(); err == nil {
			return fmt.Errorf("daemon already running with pid %d", pid)
		}
		return fmt.Errorf("daemon already running")
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// Release drops the lock and removes the pid file.
func (p *PidFile) Release() {
	_ = os.Remove(p.path)
	_ = p.flock.Unlock()
}

// ReadPid parses the recorded pid.
func (p *PidFile) ReadPid() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
