//go:build !windows

package procutil

import (
	"os/exec"
	"syscall"
)

// Detach configures cmd to start in its own session, detached from the
// spawning process's controlling terminal and process group, so the
// daemon it launches keeps running after the Client Library's process
// exits and is not delivered signals meant for the parent.
func Detach(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}
