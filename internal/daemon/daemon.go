// Package daemon implements the Connection Endpoint, Connection Session,
// and request dispatch that bind the Pane Registry, Injection Scheduler,
// and Liveness Monitor to the client-facing newline-JSON protocol.
package daemon

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"paned/internal/config"
	"paned/internal/inject"
	"paned/internal/liveness"
	"paned/internal/protocol"
	"paned/internal/registry"
	"paned/internal/sessionstore"
	"paned/internal/workerutil"
)

// maxConcurrentConnections-bounding connection slots are a local
// defense-in-depth measure (not spec-mandated) modeled on the teacher's
// ipc.PipeServer connSlots semaphore: it bounds concurrent in-flight
// client connections so an accidental connection storm cannot exhaust
// daemon resources.

// Daemon wires the Registry, Scheduler, and Monitor to the wire protocol.
// It implements registry.EventSink (broadcast every pane event to every
// session) and inject.Sink (route each ack to the one originating
// session).
type Daemon struct {
	cfg   config.Config
	reg   *registry.Registry
	sched *inject.Scheduler
	mon   *liveness.Monitor
	store *sessionstore.Store

	startTime time.Time

	mu       sync.RWMutex
	sessions map[string]*session

	connSlots chan struct{}

	wg     *sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Daemon. The returned value is not yet serving; call
// Serve with a listener from Listen.
func New(cfg config.Config, store *sessionstore.Store) (*Daemon, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	d := &Daemon{
		cfg:       cfg,
		store:     store,
		startTime: time.Now(),
		sessions:  make(map[string]*session),
		connSlots: make(chan struct{}, maxInt(cfg.MaxConcurrentConnections, 1)),
		wg:        &wg,
		cancel:    cancel,
	}
	d.reg = registry.New(ctx, cfg, d, &wg)
	d.sched = inject.New(cfg, d.reg, d, &wg)
	d.mon = liveness.New(cfg, d.reg, d)

	workerutil.RunWithPanicRecovery(ctx, "liveness-monitor", &wg, func(workerCtx context.Context) {
		d.mon.Run(workerCtx)
	}, workerutil.RecoveryOptions{IsShutdown: func() bool { return ctx.Err() != nil }})

	return d, ctx, cancel
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Serve accepts connections on ln until ctx is cancelled, instantiating a
// Connection Session per accepted connection, bounded by connSlots.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) {
	defer ln.Close()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		select {
		case d.connSlots <- struct{}{}:
		case <-ctx.Done():
			return
		}

		conn, err := ln.Accept()
		if err != nil {
			<-d.connSlots
			if ctx.Err() != nil {
				return
			}
			slog.Warn("[daemon] accept failed", "error", err)
			continue
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer func() { <-d.connSlots }()
			d.handleConn(ctx, conn)
		}()
	}
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	sess := newSession(conn)

	d.mu.Lock()
	d.sessions[sess.id] = sess
	d.mu.Unlock()

	slog.Info("[daemon] session connected", "sessionId", sess.id)

	defer func() {
		d.mu.Lock()
		delete(d.sessions, sess.id)
		d.mu.Unlock()
		sess.Close()
		slog.Info("[daemon] session disconnected", "sessionId", sess.id)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.writeLoop()
	}()

	sess.send(protocol.Envelope{Event: protocol.EventConnected, Terminals: toWireSnapshots(d.reg.List())})

	sess.readLoop(func(sessionID string, req protocol.Request) {
		d.dispatch(ctx, sessionID, req)
	})

	sess.Close()
	wg.Wait()
}

// Shutdown broadcasts a shutdown event to every session, stops accepting
// new injection work, and cancels every background goroutine. Per spec
// §4.6/§7, the shutdown event always goes out before sockets close. If
// cfg.PersistSessionsOnShutdown is set, every live pane's scrollback and
// metadata are written to the session store first (spec §4.7).
func (d *Daemon) Shutdown(message string) {
	env := protocol.Envelope{Event: protocol.EventShutdown, Message: message, Timestamp: time.Now().Unix()}
	d.mu.RLock()
	for _, s := range d.sessions {
		s.send(env)
	}
	d.mu.RUnlock()

	time.Sleep(50 * time.Millisecond) // best-effort: let the writes flush before we tear down

	if d.cfg.PersistSessionsOnShutdown {
		d.persistSnapshot()
	}

	for _, snap := range d.reg.List() {
		if err := d.reg.Kill(snap.PaneID); err != nil {
			slog.Debug("[daemon] kill during shutdown", "paneId", snap.PaneID, "error", err)
		}
	}

	d.mu.RLock()
	sessions := make([]*session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.RUnlock()
	for _, s := range sessions {
		s.Close()
	}

	d.cancel()
	d.wg.Wait()

	if d.store != nil {
		if err := d.store.RemovePID(); err != nil {
			slog.Warn("[daemon] failed to remove pid file on shutdown", "error", err)
		}
	}
}

func (d *Daemon) persistSnapshot() {
	snaps := d.reg.List()
	panes := make([]sessionstore.PersistedPane, 0, len(snaps))
	for _, s := range snaps {
		_, scrollback, err := d.reg.Attach(s.PaneID)
		if err != nil {
			continue
		}
		panes = append(panes, sessionstore.PersistedPane{
			PaneID:     s.PaneID,
			Mode:       s.Mode,
			Cols:       s.Cols,
			Rows:       s.Rows,
			Scrollback: scrollback,
		})
	}
	if err := sessionstore.PersistSnapshot(d.store.SnapshotPath(), panes); err != nil {
		slog.Warn("[daemon] failed to persist session snapshot", "error", err)
	}
}

// Uptime reports how long the daemon has been running, for the health
// event.
func (d *Daemon) Uptime() time.Duration { return time.Since(d.startTime) }

// PaneCount reports the number of live panes, for the health event.
func (d *Daemon) PaneCount() int { return len(d.reg.List()) }
