//go:build windows

package procutil

import (
	"os/exec"
	"syscall"
)

// Detach configures cmd to start in its own process group, detached from
// the spawning console, so the daemon it launches keeps running after the
// Client Library's process exits and does not receive console control
// events (e.g. Ctrl+C) meant for the parent.
func Detach(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags |= syscall.CREATE_NEW_PROCESS_GROUP
	cmd.SysProcAttr.HideWindow = true
}
