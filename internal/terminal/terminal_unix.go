//go:build !windows

package terminal

import (
	"errors"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Start opens a pane's command behind a real pty via creack/pty. If the
// platform's pty machinery turns out to be unsupported (pty.ErrUnsupported
// — e.g. a container without /dev/ptmx), it falls back to plain-pipe mode
// rather than failing the spawn.
func Start(cfg Config) (*Terminal, error) {
	cfg = applyDefaults(cfg)
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}

	cmd := buildCmd(cfg)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: uint16(cfg.Columns),
		Rows: uint16(cfg.Rows),
	})
	switch {
	case err == nil:
		return &Terminal{cmd: cmd, ptmx: ptmx}, nil
	case errors.Is(err, pty.ErrUnsupported):
		return startPipeMode(cfg)
	default:
		return nil, err
	}
}

// buildCmd constructs the *exec.Cmd for cfg without starting it. cfg.Shell
// and cfg.Args come from internal Config, populated by application code
// rather than directly from untrusted client input.
func buildCmd(cfg Config) *exec.Cmd {
	cmd := exec.Command(cfg.Shell, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = cfg.Env
	}
	return cmd
}

func defaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
