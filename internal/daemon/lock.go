package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// ErrPIDFileNotFound is returned when the PID file doesn't exist.
var ErrPIDFileNotFound = errors.New("PID file not found")

// InstanceLock guards against two daemons serving the same socket. The
// flock is authoritative; the PID file exists for humans and for
// signaling a running daemon.
type InstanceLock struct {
	pidPath string
	fl      *flock.Flock
	locked  bool
}

// NewInstanceLock creates a lock manager rooted at the PID file path.
// The flock lives next to the PID file.
func NewInstanceLock(pidPath string) *InstanceLock {
	return &InstanceLock{
		pidPath: pidPath,
		fl:      flock.New(pidPath + ".lock"),
	}
}

// Acquire takes the instance lock without blocking and writes the PID
// file. Returns ErrAlreadyRunning when another process holds the lock.
func (l *InstanceLock) Acquire() error {
	dir := filepath.Dir(l.pidPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	l.locked = true

	if err := os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		_ = l.fl.Unlock()
		l.locked = false
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Release removes the PID file and drops the flock. Safe to call when
// the lock was never acquired.
func (l *InstanceLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	if err := os.Remove(l.pidPath); err != nil && !os.IsNotExist(err) {
		_ = l.fl.Unlock()
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return l.fl.Unlock()
}

// ReadPID reads the PID recorded by a running daemon.
func ReadPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrPIDFileNotFound
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

// SignalDaemon sends a signal to the daemon recorded in the PID file.
func SignalDaemon(pidPath string, sig syscall.Signal) error {
	pid, err := ReadPID(pidPath)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return nil
}
