package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"paned/internal/config"
	"paned/internal/terminal"
	"paned/internal/workerutil"
)

// SpawnOptions carries the caller-supplied fields of a spawn request.
type SpawnOptions struct {
	Cwd  string
	Mode string
	Env  map[string]string
	Cols int
	Rows int
}

// Registry keeps the live mapping of pane identifier to Pane Runtime. It is
// the single writer for that mapping (spec §5): spawn and the exit pathway
// both take the write lock, so a pane is always either fully present or
// fully absent from enumeration.
type Registry struct {
	mu    sync.RWMutex
	panes map[string]*Pane

	cfg  config.Config
	sink EventSink

	ctx context.Context
	wg  *sync.WaitGroup
}

// New constructs a Registry. A pane's read loop runs until its child exits
// or is killed; ctx does not stop it, but once ctx is cancelled a read loop
// that panics is not restarted. wg is used with
// workerutil.RunWithPanicRecovery so callers can wait for every read loop
// to exit.
func New(ctx context.Context, cfg config.Config, sink EventSink, wg *sync.WaitGroup) *Registry {
	return &Registry{
		panes: make(map[string]*Pane),
		cfg:   cfg,
		sink:  sink,
		ctx:   ctx,
		wg:    wg,
	}
}

// Spawn allocates a pty pair, starts the child process chosen by opts.Mode,
// and registers the resulting Pane Runtime under id. Spawning twice under
// the same still-alive id fails with ErrAlreadyExists; spawning after the
// prior pane with the same id exited is permitted.
func (r *Registry) Spawn(id string, opts SpawnOptions) (Snapshot, error) {
	r.mu.Lock()
	if existing, ok := r.panes[id]; ok {
		if existing.Snapshot().Alive {
			r.mu.Unlock()
			return Snapshot{}, ErrAlreadyExists
		}
		// A stale entry for an exited pane that the read loop hasn't
		// removed yet; replacing it here is safe since exit removal is
		// idempotent.
		delete(r.panes, id)
	}
	r.mu.Unlock()

	bin, args := r.cfg.CommandFor(opts.Mode)
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 120
	}
	if rows <= 0 {
		rows = 40
	}

	term, err := terminal.Start(terminal.Config{
		Shell:   bin,
		Args:    args,
		Dir:     opts.Cwd,
		Env:     envSlice(opts.Env),
		Columns: cols,
		Rows:    rows,
	})
	if err != nil {
		slog.Warn("[registry] spawn failed", "paneId", id, "mode", opts.Mode, "error", err)
		return Snapshot{}, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	pane := newPane(id, opts.Mode, cols, rows, term, r.cfg.ScrollbackCapBytes, r.sink)

	r.mu.Lock()
	r.panes[id] = pane
	r.mu.Unlock()

	workerutil.RunWithPanicRecovery(r.ctx, "pane-readloop:"+id, r.wg, func(_ context.Context) {
		pane.runReadLoop(func(code int) {
			r.removeAndReportExit(id, code)
		})
	}, workerutil.RecoveryOptions{
		IsShutdown: func() bool { return r.ctx.Err() != nil },
	})

	snap := pane.Snapshot()
	slog.Info("[registry] pane spawned", "paneId", id, "pid", snap.Pid, "mode", opts.Mode)
	r.sink.OnSpawned(id, snap.Pid)
	return snap, nil
}

func (r *Registry) removeAndReportExit(id string, code int) {
	r.mu.Lock()
	delete(r.panes, id)
	r.mu.Unlock()
	slog.Info("[registry] pane exited", "paneId", id, "code", code)
	r.sink.OnExit(id, code)
}

// lookup returns the pane for id, or ErrUnknownPane if it is absent or has
// already exited.
func (r *Registry) lookup(id string) (*Pane, error) {
	r.mu.RLock()
	p, ok := r.panes[id]
	r.mu.RUnlock()
	if !ok || !p.Snapshot().Alive {
		return nil, ErrUnknownPane
	}
	return p, nil
}

// Pane returns the live Pane for id, for components (the Injection
// Scheduler, the Liveness Monitor) that need its timestamps or OutputSeq
// directly rather than a point-in-time Snapshot.
func (r *Registry) Pane(id string) (*Pane, error) {
	return r.lookup(id)
}

// Write pushes bytes to a pane's pty master.
func (r *Registry) Write(id string, data []byte) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	return p.Write(data)
}

// Resize resizes a pane's pty window.
func (r *Registry) Resize(id string, cols, rows int) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	return p.Resize(cols, rows)
}

// Pause stops live output broadcast for a pane.
func (r *Registry) Pause(id string) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	p.Pause()
	return nil
}

// Resume returns a pane to live output broadcast, flushing one catch-up
// event first.
func (r *Registry) Resume(id string) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	p.Resume()
	return nil
}

// Kill terminates a pane's child process. The exit event is reported
// asynchronously once the child is reaped; calling Kill again on an
// already-exited (and therefore already-removed) pane yields
// ErrUnknownPane, matching the idempotence property in spec §8.
func (r *Registry) Kill(id string) error {
	p, err := r.lookup(id)
	if err != nil {
		return err
	}
	return p.Kill()
}

// Attach returns the pane's current snapshot plus an immutable scrollback
// copy, without modifying the runtime.
func (r *Registry) Attach(id string) (Snapshot, []byte, error) {
	p, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return p.Snapshot(), p.ScrollbackSnapshot(), nil
}

// List returns a snapshot for every live pane. Two calls with no
// intervening spawn/exit return identical metadata apart from timestamps,
// since enumeration only ever reflects the Registry's committed map.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.panes))
	for _, p := range r.panes {
		out = append(out, p.Snapshot())
	}
	return out
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
