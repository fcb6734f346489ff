//go:build windows

package terminal

import (
	"log/slog"
	"os"
	"strings"
	"syscall"
)

// Start opens a pane's command behind ConPTY, Windows' native pseudo
// console. If ConPTY is unavailable (pre-1809 Windows) or fails to start,
// it falls back to plain-pipe mode.
func Start(cfg Config) (*Terminal, error) {
	cfg = applyDefaults(cfg)
	if cfg.Shell == "" {
		cfg.Shell = defaultShell()
	}

	if conPtyEnabled() && IsConPtyAvailable() {
		cpty, err := openConPty(cfg)
		if err == nil {
			return &Terminal{pty: cpty}, nil
		}
		slog.Warn("[terminal] ConPTY start failed, falling back to pipe mode", "error", err)
	}

	// ConPTY manages its own console window via EXTENDED_STARTUPINFO_PRESENT;
	// only the pipe-mode fallback below needs HideWindow (applied inside
	// startPipeMode).
	return startPipeMode(cfg)
}

func openConPty(cfg Config) (*ConPty, error) {
	opts := []ConPtyOption{ConPtyDimensions(cfg.Columns, cfg.Rows)}
	if cfg.Dir != "" {
		opts = append(opts, ConPtyWorkDir(cfg.Dir))
	}
	if len(cfg.Env) > 0 {
		opts = append(opts, ConPtyEnv(cfg.Env))
	}

	cpty, err := startConPty(buildCommandLine(cfg.Shell, cfg.Args), opts...)
	if err != nil {
		return nil, err
	}
	// Force UTF-8 so byte-for-byte comparisons against pane output (identity
	// banner matching, scrollback) behave the same as on the Unix pty path.
	if _, err := cpty.Write([]byte("chcp 65001\r\n")); err != nil {
		slog.Warn("[terminal] failed to set UTF-8 code page", "error", err)
	}
	return cpty, nil
}

// conPtyEnabled reports whether ConPTY should be attempted, honoring two
// environment overrides for diagnosing ConPTY-specific issues:
//
//   - PANED_DISABLE_CONPTY: any of 1/true/yes/on forces pipe mode.
//   - PANED_ENABLE_CONPTY: any of 0/false/no/off forces pipe mode.
//
// Any other value, including unset or unrecognized, leaves ConPTY enabled
// (the default) — neither variable can accidentally disable it.
func conPtyEnabled() bool {
	if boolEnvIs("PANED_DISABLE_CONPTY", "1", "true", "yes", "on") {
		return false
	}
	if boolEnvIs("PANED_ENABLE_CONPTY", "0", "false", "no", "off") {
		return false
	}
	return true
}

func boolEnvIs(name string, values ...string) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	for _, candidate := range values {
		if v == candidate {
			return true
		}
	}
	return false
}

func defaultShell() string {
	return "powershell.exe"
}

// buildCommandLine joins shell and args into the single escaped command
// line string CreateProcess expects.
func buildCommandLine(shell string, args []string) string {
	parts := make([]string, 0, 1+len(args))
	parts = append(parts, syscall.EscapeArg(shell))
	for _, arg := range args {
		parts = append(parts, syscall.EscapeArg(arg))
	}
	return strings.Join(parts, " ")
}
