package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	runLockDirName   = ".run.lock"
	runLockOwnerFile = "owner.json"
)

// RunLock guards a state directory against two concurrent runs writing the
// same output root.
type RunLock struct {
	lockDir string
}

type runLockOwner struct {
	PID       int    `json:"pid"`
	RunID     string `json:"run_id,omitempty"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireRunLock(stateDir, runID string) (RunLock, error) {
	target := strings.TrimSpace(stateDir)
	if target == "" {
		return RunLock{}, fmt.Errorf("state directory is required")
	}
	if err := Mkdir(target); err != nil {
		return RunLock{}, err
	}

	lockDir := filepath.Join(target, runLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if !os.IsExist(err) {
			return RunLock{}, fmt.Errorf("acquire run lock for %s: %w", target, err)
		}
		ownerPath := filepath.Join(lockDir, runLockOwnerFile)
		var owner runLockOwner
		readErr := ReadJSON(ownerPath, &owner)
		if readErr == nil && ownerIsDead(owner) {
			// the previous run was killed without releasing; take over
			_ = os.Remove(ownerPath)
			_ = os.Remove(lockDir)
			if err := os.Mkdir(lockDir, 0o755); err != nil {
				return RunLock{}, fmt.Errorf("reclaim stale run lock %s: %w", lockDir, err)
			}
		} else if readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
			return RunLock{}, fmt.Errorf(
				"output root is locked by another run: %s (run_id=%s pid=%d created_at=%s host=%s); remove %s if that process is gone",
				target, owner.RunID, owner.PID, owner.CreatedAt, owner.Hostname, lockDir,
			)
		} else {
			return RunLock{}, fmt.Errorf("output root is locked by another run: %s; remove %s if that process is gone", target, lockDir)
		}
	}

	owner := runLockOwner{
		PID:       os.Getpid(),
		RunID:     runID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := WriteJSON(filepath.Join(lockDir, runLockOwnerFile), owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return RunLock{}, fmt.Errorf("write run lock owner for %s: %w", target, err)
	}

	return RunLock{lockDir: lockDir}, nil
}

func (l RunLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, runLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release run lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}

// IsLocked reports whether a live run holds the lock on stateDir. A lock
// whose owner process died on this host does not count.
func IsLocked(stateDir string) bool {
	lockDir := filepath.Join(stateDir, runLockDirName)
	info, err := os.Stat(lockDir)
	if err != nil || !info.IsDir() {
		return false
	}
	var owner runLockOwner
	if err := ReadJSON(filepath.Join(lockDir, runLockOwnerFile), &owner); err != nil {
		// owner record not written yet, or unreadable
		return true
	}
	return !ownerIsDead(owner)
}

// ownerIsDead is only ever sure about processes on this host.
func ownerIsDead(owner runLockOwner) bool {
	if owner.PID <= 0 || owner.Hostname != hostnameOrUnknown() {
		return false
	}
	return !processAlive(owner.PID)
}
