//go:build !windows

package harness

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr puts the child in its own process group so the
// whole tree can be signalled together.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateGroup sends SIGTERM to the child's process group, waits up
// to grace for it to exit, then escalates to SIGKILL.
func terminateGroup(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Process group gone already; fall back to the single pid.
		_ = cmd.Process.Signal(syscall.SIGTERM)
	} else {
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
	}

	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}

	if err == nil {
		return syscall.Kill(-pgid, syscall.SIGKILL)
	}
	return cmd.Process.Kill()
}
