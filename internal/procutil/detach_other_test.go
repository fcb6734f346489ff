//go:build !windows

package procutil

import (
	"os/exec"
	"syscall"
	"testing"
)

func TestDetachSetsSid(t *testing.T) {
	cmd := exec.Command("echo", "test")
	Detach(cmd)

	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setsid {
		t.Fatal("Detach should set Setsid on non-Windows")
	}
}

func TestDetachPreservesExistingAttr(t *testing.T) {
	cmd := exec.Command("echo", "test")
	cmd.SysProcAttr = &syscall.SysProcAttr{Pgid: 42}
	Detach(cmd)

	if cmd.SysProcAttr.Pgid != 42 {
		t.Fatal("Detach should preserve existing SysProcAttr fields")
	}
	if !cmd.SysProcAttr.Setsid {
		t.Fatal("Detach should set Setsid")
	}
}

func TestDetachNilCmdNoOp(t *testing.T) {
	Detach(nil)
}
