// Package config loads and persists paned's daemon tuning configuration:
// the environment variables and YAML file named in spec §6 ("Environment").
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

const maxConfigFileBytes int64 = 1 << 20 // 1MB

// Config holds every tunable named in spec §6 plus the liveness thresholds
// from §4.4. Zero-value fields are replaced by DefaultConfig's values when
// loaded from an empty or partial file.
type Config struct {
	// Injection Scheduler tuning (spec §4.5).
	VerificationTimeout time.Duration `yaml:"verification_timeout" json:"verification_timeout"`
	SubmitDeferWindow   time.Duration `yaml:"submit_defer_window" json:"submit_defer_window"`
	SubmitDeferMaxWait  time.Duration `yaml:"submit_defer_max_wait" json:"submit_defer_max_wait"`
	MinPostWriteDelay   time.Duration `yaml:"min_post_write_delay" json:"min_post_write_delay"`
	LongPayloadBytes    int           `yaml:"long_payload_bytes" json:"long_payload_bytes"`
	ChunkBytes          int           `yaml:"chunk_bytes" json:"chunk_bytes"`
	ChunkDelay          time.Duration `yaml:"chunk_delay" json:"chunk_delay"`

	// Scrollback Ring tuning (spec §4.3).
	ScrollbackCapBytes int `yaml:"scrollback_cap_bytes" json:"scrollback_cap_bytes"`

	// Liveness Monitor tuning (spec §4.4).
	LivenessTick       time.Duration `yaml:"liveness_tick" json:"liveness_tick"`
	ActiveWindow       time.Duration `yaml:"active_window" json:"active_window"`
	ChurningThreshold  time.Duration `yaml:"churning_threshold" json:"churning_threshold"`
	IdleThreshold      time.Duration `yaml:"idle_threshold" json:"idle_threshold"`
	WatchdogFraction   float64       `yaml:"watchdog_fraction" json:"watchdog_fraction"`

	// Session Store (spec §4.7).
	PersistSessionsOnShutdown bool `yaml:"persist_sessions_on_shutdown" json:"persist_sessions_on_shutdown"`

	// Connection Endpoint (spec §5 backpressure).
	MaxConcurrentConnections int `yaml:"max_concurrent_connections" json:"max_concurrent_connections"`

	// Shell fallback used when a spawn's mode label is not found in ModeCommands.
	Shell string `yaml:"shell" json:"shell"`
	// ModeCommands maps a caller-chosen mode label to the argv used to start
	// the pane's child process. An unrecognized mode falls back to Shell.
	ModeCommands map[string][]string `yaml:"mode_commands,omitempty" json:"mode_commands,omitempty"`
}

// DefaultConfig returns the documented defaults from spec §4.4, §4.5, §4.3.
func DefaultConfig() Config {
	return Config{
		VerificationTimeout: 4 * time.Second,
		SubmitDeferWindow:   300 * time.Millisecond,
		SubmitDeferMaxWait:  2 * time.Second,
		MinPostWriteDelay:   200 * time.Millisecond,
		LongPayloadBytes:    512,
		ChunkBytes:          256,
		ChunkDelay:          10 * time.Millisecond,

		ScrollbackCapBytes: 256 * 1024,

		LivenessTick:      2 * time.Second,
		ActiveWindow:      5 * time.Second,
		ChurningThreshold: 30 * time.Second,
		IdleThreshold:     60 * time.Second,
		WatchdogFraction:  0.5,

		PersistSessionsOnShutdown: false,

		MaxConcurrentConnections: 64,

		Shell: defaultShell(),
	}
}

func defaultShell() string {
	if sh := strings.TrimSpace(os.Getenv("SHELL")); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// DefaultPath resolves the config file path under the user's config
// directory, e.g. ~/.config/paned/config.yaml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		slog.Warn("[config] failed to resolve user config dir, using temp dir", "error", err)
		dir = os.TempDir()
	}
	return filepath.Join(dir, "paned", "config.yaml")
}

// Load reads the config file at path, applying env var overrides on top.
// A missing file is not an error: defaults (plus env overrides) are
// returned.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	} else if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			slog.Warn("[config] failed to parse config file, using defaults", "path", path, "error", err)
			cfg = DefaultConfig()
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save persists cfg to path as YAML, using an atomic temp-file-plus-rename
// write so a crash mid-write cannot corrupt the existing file.
func Save(path string, cfg Config) error {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return atomicWrite(path, data)
}

func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
		}
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("config: sync: %w", err)
	}
	closeErr := tmpFile.Close()
	tmpFile = nil
	if closeErr != nil {
		err = fmt.Errorf("config: close: %w", closeErr)
		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("config: file %q exceeds %d bytes", path, maxBytes)
	}
	buf := make([]byte, info.Size())
	if _, err := io.ReadFull(f, buf); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf, nil
}

// envOverride describes one environment variable that can override a
// Config field, named after spec §6's tuning list.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string)
}

var envOverrides = []envOverride{
	{"PANED_VERIFICATION_TIMEOUT", durationOverride(func(c *Config) *time.Duration { return &c.VerificationTimeout })},
	{"PANED_SUBMIT_DEFER_WINDOW", durationOverride(func(c *Config) *time.Duration { return &c.SubmitDeferWindow })},
	{"PANED_SUBMIT_DEFER_MAX_WAIT", durationOverride(func(c *Config) *time.Duration { return &c.SubmitDeferMaxWait })},
	{"PANED_MIN_POST_WRITE_DELAY", durationOverride(func(c *Config) *time.Duration { return &c.MinPostWriteDelay })},
	{"PANED_CHUNK_DELAY", durationOverride(func(c *Config) *time.Duration { return &c.ChunkDelay })},
	{"PANED_LIVENESS_TICK", durationOverride(func(c *Config) *time.Duration { return &c.LivenessTick })},
	{"PANED_ACTIVE_WINDOW", durationOverride(func(c *Config) *time.Duration { return &c.ActiveWindow })},
	{"PANED_CHURNING_THRESHOLD", durationOverride(func(c *Config) *time.Duration { return &c.ChurningThreshold })},
	{"PANED_IDLE_THRESHOLD", durationOverride(func(c *Config) *time.Duration { return &c.IdleThreshold })},
	{"PANED_LONG_PAYLOAD_BYTES", intOverride(func(c *Config) *int { return &c.LongPayloadBytes })},
	{"PANED_CHUNK_BYTES", intOverride(func(c *Config) *int { return &c.ChunkBytes })},
	{"PANED_SCROLLBACK_CAP_BYTES", intOverride(func(c *Config) *int { return &c.ScrollbackCapBytes })},
	{"PANED_MAX_CONCURRENT_CONNECTIONS", intOverride(func(c *Config) *int { return &c.MaxConcurrentConnections })},
	{"PANED_SHELL", func(cfg *Config, v string) { cfg.Shell = v }},
}

func durationOverride(field func(*Config) *time.Duration) func(*Config, string) {
	return func(cfg *Config, value string) {
		d, err := time.ParseDuration(value)
		if err != nil {
			slog.Warn("[config] ignoring invalid duration env override", "value", value, "error", err)
			return
		}
		*field(cfg) = d
	}
}

func intOverride(field func(*Config) *int) func(*Config, string) {
	return func(cfg *Config, value string) {
		n, err := strconv.Atoi(value)
		if err != nil {
			slog.Warn("[config] ignoring invalid int env override", "value", value, "error", err)
			return
		}
		*field(cfg) = n
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			o.apply(cfg, v)
		}
	}
}

// CommandFor resolves the argv to run for a caller-chosen mode label,
// falling back to a single-argument shell invocation when the mode is
// unrecognized (spec §4.1: "if the mode is unknown the daemon falls back
// to a system shell").
func (c Config) CommandFor(mode string) (string, []string) {
	if argv, ok := c.ModeCommands[mode]; ok && len(argv) > 0 {
		return argv[0], argv[1:]
	}
	return c.Shell, nil
}
