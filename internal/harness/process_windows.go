//go:build windows

package harness

import (
	"os/exec"
	"time"
)

// configureProcAttr is a no-op on Windows; there are no POSIX process
// groups to set up.
func configureProcAttr(cmd *exec.Cmd) {}

// terminateGroup kills the child outright. Windows has no SIGTERM, so
// there is no graceful phase; grace is accepted for interface parity.
func terminateGroup(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	select {
	case <-done:
	case <-time.After(grace):
	}
	return err
}
