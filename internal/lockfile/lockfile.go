// Package lockfile guards a data directory against two orchestrator processes sharing it.
//
// The lock is an flock on a file inside the directory, so the kernel drops it when the
// holding process exits, cleanly or not.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the data directory.
const LockFileName = "opencore.lock"

// Lock is a held data directory lock.
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// AcquireLock takes the exclusive lock on dir, creating the directory if needed.
// If another process holds it, the returned error is a *LockError describing the holder.
func AcquireLock(dir string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	// Open without truncating so a losing contender can still read the holder's record.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(path)
		slog.Error("Lockfile acquire failed, data directory in use", "lock_path", path, "holder", holder, "error", err)
		return nil, &LockError{LockPath: path, Holder: holder, Cause: err}
	}

	if err := writeRecord(file); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock record to %s: %w", path, err)
	}

	slog.Info("Lockfile acquired", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

func writeRecord(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	record := fmt.Sprintf("pid=%d\nstarted=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteAt([]byte(record), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile sync failed", "lock_path", file.Name(), "error", err)
	}
	return nil
}

// Release drops the lock and removes the lock file. Calling it more than once is safe.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lockfile unlock failed", "lock_path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lockfile close failed", "lock_path", l.path, "error", err)
	}
	// Removing after unlocking can race with a new holder; the flock is what matters.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile remove failed", "lock_path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("Lockfile released", "lock_path", l.path)
	return nil
}

// LockError reports a data directory already locked by another process.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "data directory is locked by another orchestrator process (lock file %s", e.LockPath)
	if e.Holder != "" {
		fmt.Fprintf(&b, ", held by %s", e.Holder)
	}
	b.WriteString("); stop that process or point this one at a different data directory")
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the lock record at path for error messages.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	rec := parseRecord(string(data))
	pid, _ := strconv.Atoi(rec["pid"])
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	state := "not running"
	if processAlive(pid) {
		state = "running"
	}
	if started := rec["started"]; started != "" {
		return fmt.Sprintf("pid %d (%s, started %s)", pid, state, started)
	}
	return fmt.Sprintf("pid %d (%s)", pid, state)
}

// parseRecord reads key=value lines.
func parseRecord(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

// processAlive sends signal 0, which checks existence without delivering anything.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
