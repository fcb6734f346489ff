// Package sessionstore implements the Session Store: the PID file that
// lets a Client Library heuristically detect whether a daemon is already
// running, an fsnotify watch over that file so the client can react to a
// daemon appearing or disappearing without polling, and the optional
// sqlite-backed snapshot used to rehydrate panes across a hot restart.
package sessionstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store owns the well-known runtime-directory paths for one daemon
// instance.
type Store struct {
	runtimeDir   string
	pidPath      string
	snapshotPath string
}

// New returns a Store rooted at runtimeDir (created if absent).
func New(runtimeDir string) (*Store, error) {
	if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("sessionstore: create runtime dir: %w", err)
	}
	return &Store{
		runtimeDir:   runtimeDir,
		pidPath:      filepath.Join(runtimeDir, "paned.pid"),
		snapshotPath: filepath.Join(runtimeDir, "paned.snapshot.db"),
	}, nil
}

// PIDPath returns the well-known PID file path clients watch for.
func (s *Store) PIDPath() string {
	return s.pidPath
}

// SnapshotPath returns the sqlite file used to persist pane state across a
// clean shutdown and restart.
func (s *Store) SnapshotPath() string {
	return s.snapshotPath
}

// WritePID writes the current process's PID at startup. Called once, early
// in the daemon's boot sequence; failure here is a daemon-global fatal
// error per spec §7.
func (s *Store) WritePID() error {
	return writeFileAtomic(s.pidPath, []byte(strconv.Itoa(os.Getpid())))
}

// RemovePID removes the PID file on clean shutdown. Missing file is not an
// error: the daemon may be asked to clean up twice, or another process may
// already have removed a stale file.
func (s *Store) RemovePID() error {
	if err := os.Remove(s.pidPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPID reads the PID recorded in the file, or ok=false if the file is
// absent or unparsable.
func (s *Store) ReadPID() (pid int, ok bool) {
	raw, err := os.ReadFile(s.pidPath)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// IsRunning combines ReadPID with a signal-0 liveness probe, per spec
// §4.7's "presence of this file and a signal-0 liveness check" heuristic.
// It is never the authoritative test — the endpoint connect attempt is —
// but lets a client avoid spawning a duplicate daemon when one obviously
// already holds the PID.
func (s *Store) IsRunning() bool {
	pid, ok := s.ReadPID()
	if !ok {
		return false
	}
	return processAlive(pid)
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".pidfile.tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
