package sessionstore

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch watches the runtime directory for the PID file's creation or
// removal and invokes onAppear/onDisappear accordingly, so a Client
// Library can react to a daemon starting or stopping without polling
// IsRunning in a loop. Either callback may be nil. Watch blocks until ctx
// is cancelled or the watcher fails to start.
func (s *Store) Watch(ctx context.Context, onAppear, onDisappear func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(s.runtimeDir); err != nil {
		return err
	}

	slog.Debug("[sessionstore] watching runtime directory for pid file changes", "dir", s.runtimeDir, "pidPath", s.pidPath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != s.pidPath {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
				if onAppear != nil {
					onAppear()
				}
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				if onDisappear != nil {
					onDisappear()
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[sessionstore] watch error", "error", err)
		}
	}
}
