package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/steveyegge/scout/internal/types"
)

// ErrLocked is returned when another process holds the run lock for a key
var ErrLocked = errors.New("run already in progress")

// LockHolder is written into the lock file so operators can see who holds it
type LockHolder struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// RunLock is an exclusive, cross-process lock on one natural key
type RunLock struct {
	lock *flock.Flock
	path string
}

// LockPath returns the lock file used for key under dir
func LockPath(dir string, key types.NaturalKey) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(key.String())
	return filepath.Join(dir, name+".lock")
}

// AcquireRunLock takes the lock for key without blocking. It returns an error
// wrapping ErrLocked (with the current holder, if readable) when another
// process has it. The OS releases the lock if the holder dies.
func AcquireRunLock(dir string, key types.NaturalKey, runID string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	path := LockPath(dir, key)

	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		if holder, err := readHolder(path); err == nil {
			return nil, fmt.Errorf("%w: %s (run %s, PID %d on %s, started %s)", ErrLocked, key,
				holder.RunID, holder.PID, holder.Hostname, holder.StartedAt.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("%w: %s", ErrLocked, key)
	}

	hostname, _ := os.Hostname()
	data, err := json.Marshal(LockHolder{RunID: runID, PID: os.Getpid(), Hostname: hostname, StartedAt: time.Now()})
	if err == nil {
		// Informational only; the flock is what excludes other processes
		_ = os.WriteFile(path+".holder", data, 0644)
	}

	return &RunLock{lock: fl, path: path}, nil
}

// Release unlocks and removes the holder file
func (l *RunLock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path + ".holder"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock holder file: %w", err)
	}
	return l.lock.Unlock()
}

func readHolder(lockPath string) (*LockHolder, error) {
	data, err := os.ReadFile(lockPath + ".holder")
	if err != nil {
		return nil, err
	}
	var h LockHolder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
