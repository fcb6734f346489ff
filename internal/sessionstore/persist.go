package sessionstore

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// PersistedPane is one row of the optional shutdown snapshot: enough to
// recreate a pane's shell and replay its scrollback after a hot restart.
// The core does not guarantee this feature works across arbitrary child
// programs — only that, when enabled, the daemon attempts it.
type PersistedPane struct {
	PaneID     string
	Mode       string
	Cwd        string
	Cols       int
	Rows       int
	Scrollback []byte
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS panes (
	pane_id    TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	cwd        TEXT NOT NULL,
	cols       INTEGER NOT NULL,
	rows       INTEGER NOT NULL,
	scrollback BLOB
);`

// PersistSnapshot writes panes to a small embedded sqlite database at path,
// replacing any prior contents. Called on clean shutdown when
// config.PersistSessionsOnShutdown is enabled.
func PersistSnapshot(path string, panes []PersistedPane) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("sessionstore: open snapshot db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err = db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("sessionstore: create table: %w", err)
	}
	if _, err = db.Exec("DELETE FROM panes"); err != nil {
		return fmt.Errorf("sessionstore: clear table: %w", err)
	}

	for _, p := range panes {
		_, err = db.Exec(
			`INSERT INTO panes (pane_id, mode, cwd, cols, rows, scrollback) VALUES (?, ?, ?, ?, ?, ?)`,
			p.PaneID, p.Mode, p.Cwd, p.Cols, p.Rows, p.Scrollback,
		)
		if err != nil {
			return fmt.Errorf("sessionstore: insert pane %q: %w", p.PaneID, err)
		}
	}

	slog.Info("[sessionstore] persisted pane snapshot", "path", path, "paneCount", len(panes))
	return nil
}

// LoadSnapshot reads back a previously persisted snapshot. A missing
// database file is not an error: it returns an empty slice, since
// persistence is opt-in and the first daemon run on a host has nothing to
// rehydrate.
func LoadSnapshot(path string) ([]PersistedPane, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open snapshot db: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("sessionstore: create table: %w", err)
	}

	rows, err := db.Query(`SELECT pane_id, mode, cwd, cols, rows, scrollback FROM panes`)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: query panes: %w", err)
	}
	defer rows.Close()

	var out []PersistedPane
	for rows.Next() {
		var p PersistedPane
		if err := rows.Scan(&p.PaneID, &p.Mode, &p.Cwd, &p.Cols, &p.Rows, &p.Scrollback); err != nil {
			return nil, fmt.Errorf("sessionstore: scan pane row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
