// Command paned is the daemon entrypoint: it owns every pty-backed pane for
// the current user and serves the newline-JSON client protocol over a local
// socket or named pipe.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"paned/internal/config"
	"paned/internal/daemon"
	"paned/internal/sessionstore"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("[daemon] fatal startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runtimeDir := daemon.DefaultRuntimeDir()
	store, err := sessionstore.New(runtimeDir)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	if store.IsRunning() {
		return fmt.Errorf("a paned daemon already appears to be running (pid file at %s)", store.PIDPath())
	}

	d, ctx, cancel := daemon.New(cfg, store)
	defer cancel()

	ln, err := daemon.Listen(daemon.DefaultEndpointPath(runtimeDir))
	if err != nil {
		return fmt.Errorf("bind endpoint: %w", err)
	}

	if cfg.PersistSessionsOnShutdown {
		if restored, err := sessionstore.LoadSnapshot(store.SnapshotPath()); err != nil {
			slog.Warn("[daemon] failed to load prior session snapshot", "error", err)
		} else if len(restored) > 0 {
			slog.Info("[daemon] found prior session snapshot, not auto-restoring", "paneCount", len(restored))
			// Rehydrating panes from a snapshot means re-spawning child
			// processes with no guarantee the original program state is
			// resumable; spec leaves this a client-initiated decision, so
			// the daemon surfaces the snapshot's existence via logs only.
		}
	}

	if err := store.WritePID(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		slog.Info("[daemon] shutdown signal received")
		d.Shutdown("daemon shutting down")
	}()

	slog.Info("[daemon] listening", "address", ln.Addr().String())
	d.Serve(ctx, ln)
	return nil
}
