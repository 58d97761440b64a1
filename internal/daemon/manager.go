package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/log"
)

// writePIDFile writes the current process ID to path.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	log.GetLogger().WithFields(map[string]interface{}{"path": path, "pid": pid}).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func removePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}

// ReadPID reads the process ID recorded in a PID file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: no PID file at %s", core.ErrDaemonNotRunning, path)
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// IsRunning reports whether a process with pid exists.
func IsRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Signal sends sig to the daemon recorded in pidFile. A stale PID file is
// removed and reported as core.ErrDaemonNotRunning.
func Signal(pidFile string, sig syscall.Signal) error {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return err
	}
	if !IsRunning(pid) {
		_ = removePIDFile(pidFile)
		return fmt.Errorf("%w: stale PID file %s (pid %d)", core.ErrDaemonNotRunning, pidFile, pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(sig)
}

// WaitForExit polls until the daemon recorded in pidFile has exited or the
// timeout elapses.
func WaitForExit(pidFile string, timeout time.Duration) error {
	pid, err := ReadPID(pidFile)
	if errors.Is(err, core.ErrDaemonNotRunning) {
		return nil
	}
	if err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsRunning(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, timeout)
}
