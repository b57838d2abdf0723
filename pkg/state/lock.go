// Package state provides a local advisory lock preventing two kubeslot
// invocations on the same machine from mutating the same environment's
// routing at once. The ingress-level compare-and-swap catches the rest;
// concurrent runs from different hosts still race and are warned about.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// LockTimeout is how long a lock is considered valid. A pipeline
	// run that outlives this is assumed to have died without cleanup.
	LockTimeout = 30 * time.Minute
)

// LockInfo describes the holder of an environment lock.
type LockInfo struct {
	RunID     string    `json:"runId"`
	Operation string    `json:"operation"` // rollback, promote
	Who       string    `json:"who"`       // user@hostname
	Created   time.Time `json:"created"`
	PID       int       `json:"pid"`
}

// EnvironmentLock serializes mutating operations per environment.
type EnvironmentLock struct {
	environment string
	path        string
}

// NewEnvironmentLock creates a lock for the environment, stored under
// the user cache directory.
func NewEnvironmentLock(project, environment string) (*EnvironmentLock, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "kubeslot", project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	return &EnvironmentLock{
		environment: environment,
		path:        filepath.Join(dir, environment+".lock"),
	}, nil
}

// Acquire takes the lock or fails with the current holder's details.
// A stale lock (older than LockTimeout or held by a dead process id)
// is replaced.
func (l *EnvironmentLock) Acquire(runID, operation string) (*LockInfo, error) {
	info := l.newLockInfo(runID, operation)

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		holder, readErr := l.readLock()
		if readErr == nil && holder != nil && !l.isStale(holder) {
			return nil, fmt.Errorf("environment %s is locked by %s (operation %s, since %s)",
				l.environment, holder.Who, holder.Operation, holder.Created.Format(time.RFC3339))
		}
		// Stale or unreadable lock: replace it.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		file, err = os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock after removing stale lock: %w", err)
		}
	}
	defer file.Close()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return info, nil
}

// Release removes the lock file.
func (l *EnvironmentLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Holder returns the current lock holder, or nil when unlocked.
func (l *EnvironmentLock) Holder() (*LockInfo, error) {
	return l.readLock()
}

func (l *EnvironmentLock) newLockInfo(runID, operation string) *LockInfo {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME") // Windows
	}
	if username == "" {
		username = "unknown"
	}

	return &LockInfo{
		RunID:     runID,
		Operation: operation,
		Who:       fmt.Sprintf("%s@%s", username, hostname),
		Created:   time.Now(),
		PID:       os.Getpid(),
	}
}

func (l *EnvironmentLock) readLock() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// isStale reports whether a lock can be safely replaced. Staleness is
// purely age-based; PID is recorded for the operator, not checked,
// since liveness probing is not portable.
func (l *EnvironmentLock) isStale(info *LockInfo) bool {
	return time.Since(info.Created) > LockTimeout
}
