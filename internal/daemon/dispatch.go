package daemon

import (
	"context"
	"errors"
	"runtime"
	"time"

	"paned/internal/protocol"
	"paned/internal/registry"
)

// dispatch routes one decoded request to the Registry, Scheduler, or
// Monitor and replies on the originating session. It never blocks on
// anything but the operation itself; pty output, acks, and liveness
// events reach the client on their own asynchronous paths via the
// EventSink/inject.Sink/liveness.Sink implementations in sinks.go.
func (d *Daemon) dispatch(ctx context.Context, sessionID string, req protocol.Request) {
	d.mu.RLock()
	sess, ok := d.sessions[sessionID]
	d.mu.RUnlock()
	if !ok {
		return
	}

	switch req.Action {
	case protocol.ActionSpawn:
		d.handleSpawn(sess, req)
	case protocol.ActionWrite:
		d.handleWrite(ctx, sessionID, sess, req)
	case protocol.ActionResize:
		d.handleResize(sess, req)
	case protocol.ActionPause:
		d.handleSimple(sess, req.PaneID, d.reg.Pause)
	case protocol.ActionResume:
		d.handleSimple(sess, req.PaneID, d.reg.Resume)
	case protocol.ActionKill:
		d.handleKill(sess, req)
	case protocol.ActionList:
		sess.send(protocol.Envelope{Event: protocol.EventList, Terminals: toWireSnapshots(d.reg.List())})
	case protocol.ActionAttach:
		d.handleAttach(sess, req)
	case protocol.ActionPing:
		sess.send(protocol.Envelope{Event: protocol.EventPong, Timestamp: time.Now().Unix()})
	case protocol.ActionHealth:
		d.handleHealth(sess)
	case protocol.ActionShutdown:
		go d.Shutdown("client requested shutdown")
	default:
		sess.send(errEnvelope(req.PaneID, "unknown_action"))
	}
}

func (d *Daemon) handleSpawn(sess *session, req protocol.Request) {
	snap, err := d.reg.Spawn(req.PaneID, registry.SpawnOptions{
		Cwd: req.Cwd, Mode: req.Mode, Env: req.Env, Cols: req.Cols, Rows: req.Rows,
	})
	if err != nil {
		sess.send(errEnvelope(req.PaneID, classifySpawnError(err)))
		return
	}
	sess.send(protocol.Envelope{Event: protocol.EventSpawned, PaneID: snap.PaneID, Pid: snap.Pid, Alive: snap.Alive})
}

func classifySpawnError(err error) string {
	switch {
	case errors.Is(err, registry.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, registry.ErrSpawnFailed):
		return "spawn_failed"
	default:
		return "spawn_failed"
	}
}

func (d *Daemon) handleWrite(ctx context.Context, sessionID string, sess *session, req protocol.Request) {
	eventID := req.EventID()
	if err := d.sched.Submit(ctx, sessionID, req.PaneID, []byte(req.Data), eventID); err != nil {
		if eventID == "" {
			// Fire-and-forget write to an unknown/dead pane: the scheduler
			// has nothing to ack, so the caller still gets an error event.
			sess.send(errEnvelope(req.PaneID, "unknown_pane"))
		}
		// A tracked write's not_connected ack already went out via OnAck.
	}
}

func (d *Daemon) handleResize(sess *session, req protocol.Request) {
	if err := d.reg.Resize(req.PaneID, req.Cols, req.Rows); err != nil {
		sess.send(errEnvelope(req.PaneID, classifyPaneError(err)))
	}
}

func (d *Daemon) handleSimple(sess *session, paneID string, op func(string) error) {
	if err := op(paneID); err != nil {
		sess.send(errEnvelope(paneID, classifyPaneError(err)))
	}
}

func (d *Daemon) handleKill(sess *session, req protocol.Request) {
	if err := d.reg.Kill(req.PaneID); err != nil {
		sess.send(errEnvelope(req.PaneID, classifyPaneError(err)))
		return
	}
	sess.send(protocol.Envelope{Event: protocol.EventKilled, PaneID: req.PaneID})
}

func (d *Daemon) handleAttach(sess *session, req protocol.Request) {
	snap, scrollback, err := d.reg.Attach(req.PaneID)
	if err != nil {
		sess.send(errEnvelope(req.PaneID, classifyPaneError(err)))
		return
	}
	sess.send(protocol.Envelope{
		Event:      protocol.EventAttached,
		PaneID:     snap.PaneID,
		Pid:        snap.Pid,
		Alive:      snap.Alive,
		Scrollback: string(scrollback),
	})
}

func (d *Daemon) handleHealth(sess *session) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	sess.send(protocol.Envelope{
		Event:         protocol.EventHealth,
		UptimeSeconds: d.Uptime().Seconds(),
		PaneCount:     d.PaneCount(),
		MemoryBytes:   mem.Alloc,
	})
}

func classifyPaneError(err error) string {
	switch {
	case errors.Is(err, registry.ErrUnknownPane):
		return "unknown_pane"
	case errors.Is(err, registry.ErrInvalidDims):
		return "invalid_dimensions"
	case errors.Is(err, registry.ErrPtyWriteFailed):
		return "pty_write_failed"
	default:
		return "internal_error"
	}
}

func errEnvelope(paneID, message string) protocol.Envelope {
	return protocol.Envelope{Event: protocol.EventError, PaneID: paneID, Message: message}
}
