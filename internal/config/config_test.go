package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"paned/internal/testutil"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := DefaultConfig()
	if cfg.VerificationTimeout != want.VerificationTimeout {
		t.Fatalf("VerificationTimeout = %v, want %v", cfg.VerificationTimeout, want.VerificationTimeout)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.VerificationTimeout = 9 * time.Second
	cfg.ScrollbackCapBytes = 12345
	cfg.ModeCommands = map[string][]string{"shell": {"/bin/bash"}}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.VerificationTimeout != 9*time.Second {
		t.Fatalf("VerificationTimeout = %v, want 9s", got.VerificationTimeout)
	}
	if got.ScrollbackCapBytes != 12345 {
		t.Fatalf("ScrollbackCapBytes = %d, want 12345", got.ScrollbackCapBytes)
	}
}

func TestEnvOverridesApplyOnTopOfFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	t.Setenv("PANED_VERIFICATION_TIMEOUT", "11s")
	t.Setenv("PANED_SCROLLBACK_CAP_BYTES", "777")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VerificationTimeout != 11*time.Second {
		t.Fatalf("VerificationTimeout = %v, want 11s", cfg.VerificationTimeout)
	}
	if cfg.ScrollbackCapBytes != 777 {
		t.Fatalf("ScrollbackCapBytes = %d, want 777", cfg.ScrollbackCapBytes)
	}
}

func TestInvalidEnvOverrideIsIgnored(t *testing.T) {
	logs := testutil.CaptureLogBuffer(t, slog.LevelWarn)

	t.Setenv("PANED_VERIFICATION_TIMEOUT", "not-a-duration")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.VerificationTimeout != DefaultConfig().VerificationTimeout {
		t.Fatalf("VerificationTimeout = %v, want default", cfg.VerificationTimeout)
	}
	if !strings.Contains(logs.String(), "ignoring invalid duration env override") {
		t.Fatalf("expected a warning log for the rejected override, got: %s", logs.String())
	}
}

func TestCommandForFallsBackToShell(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Shell = "/bin/fallback"
	cfg.ModeCommands = map[string][]string{"claude": {"claude", "--resume"}}

	bin, args := cfg.CommandFor("claude")
	if bin != "claude" || len(args) != 1 || args[0] != "--resume" {
		t.Fatalf("CommandFor(claude) = %q, %v", bin, args)
	}

	bin, args = cfg.CommandFor("unknown-mode")
	if bin != "/bin/fallback" || len(args) != 0 {
		t.Fatalf("CommandFor(unknown) = %q, %v, want fallback shell", bin, args)
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dirs")
	path := filepath.Join(dir, "config.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
}
