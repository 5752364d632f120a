// Package lockfile keeps two ReportPipe processes from sharing a state
// directory. The lock is an flock on a file in that directory, so the kernel
// drops it when the process dies.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "reportpipe.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Running bool
}

func (h Holder) String() string {
	if h.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if h.Running {
		state = "running"
	}
	if h.Started.IsZero() {
		return fmt.Sprintf("PID %d (%s)", h.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", h.PID, h.Started.Format(time.RFC3339), state)
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// LockError is returned when another process holds the lock.
type LockError struct {
	Path   string
	Holder Holder
	Err    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("state directory is in use by another ReportPipe instance (%s); lock file %s. "+
		"Remove the lock file only if that process is gone", e.Holder, e.Path)
}

func (e *LockError) Unwrap() error { return e.Err }

// AcquireLock takes an exclusive, non-blocking lock on stateDir, creating the
// directory if needed.
func AcquireLock(stateDir string) (*Lock, error) {
	path := filepath.Join(stateDir, LockFileName)
	slog.Debug("AcquireLock invoked", "lock_path", path)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	// O_TRUNC would wipe the holder's details before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := ReadHolder(path)
		slog.Error("AcquireLock state directory already locked", "lock_path", path, "holder", holder.String())
		return nil, &LockError{Path: path, Holder: holder, Err: err}
	}

	if err := writeHolder(file, os.Getpid(), time.Now()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}
	slog.Info("State directory locked", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

func writeHolder(file *os.File, pid int, started time.Time) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(fmt.Sprintf("pid=%d\nstarted=%s\n", pid, started.UTC().Format(time.RFC3339))), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lock file sync failed", "error", err, "lock_path", file.Name())
	}
	return nil
}

// Release unlocks and removes the lock file. Calling it more than once is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock unlock failed", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Warn("Lock file close failed", "error", err, "lock_path", l.path)
	}
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	slog.Info("State directory unlocked", "lock_path", l.path)
	return nil
}

// ReadHolder parses the lock file at path. Unreadable or malformed content
// yields a zero Holder.
func ReadHolder(path string) Holder {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}
	}
	defer f.Close()

	var h Holder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	if h.PID > 0 {
		h.Running = processAlive(h.PID)
	}
	return h
}

// processAlive sends signal 0, which only checks that the process exists.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
