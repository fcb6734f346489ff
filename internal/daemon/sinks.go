package daemon

import (
	"time"

	"paned/internal/protocol"
	"paned/internal/registry"
)

// registry.EventSink implementation: every pane event is broadcast to every
// connected session. The client library's own pane cache, not the daemon,
// is responsible for filtering to what a given UI cares about.

func (d *Daemon) OnSpawned(paneID string, pid int) {
	d.broadcast(protocol.Envelope{Event: protocol.EventSpawned, PaneID: paneID, Pid: pid, Alive: true})
}

func (d *Daemon) OnOutput(paneID string, data []byte) {
	d.broadcast(protocol.Envelope{Event: protocol.EventData, PaneID: paneID, Data: string(data)})
}

func (d *Daemon) OnExit(paneID string, code int) {
	d.broadcast(protocol.Envelope{Event: protocol.EventExit, PaneID: paneID, Code: code})
}

func (d *Daemon) OnIdentity(paneID string, identity string) {
	d.broadcast(protocol.Envelope{Event: protocol.EventIdentity, PaneID: paneID, Identity: identity})
}

// inject.Sink implementation: route the ack to the one session that
// originated the write, by sessionID, never by a held session reference.

func (d *Daemon) OnAck(sessionID, paneID, eventID string, status protocol.AckStatus, reason string) {
	d.mu.RLock()
	sess, ok := d.sessions[sessionID]
	d.mu.RUnlock()
	if !ok {
		// The originating session disconnected before the ack was ready;
		// there is nowhere to deliver it per spec §4.5, so it is dropped.
		return
	}
	sess.send(protocol.Envelope{
		Event: protocol.EventAck,
		Ack:   &protocol.AckPayload{EventID: eventID, Status: status, Reason: reason},
	})
}

// liveness.Sink implementation: broadcast to every session, per spec §4.4.

func (d *Daemon) OnStuck(paneID string, idleTime time.Duration) {
	d.broadcast(protocol.Envelope{
		Event:      protocol.EventStuck,
		PaneID:     paneID,
		IdleTimeMs: idleTime.Milliseconds(),
		Timestamp:  time.Now().Unix(),
	})
}

func (d *Daemon) OnWatchdog(message string) {
	d.broadcast(protocol.Envelope{Event: protocol.EventWatchdog, Message: message, Timestamp: time.Now().Unix()})
}

func (d *Daemon) broadcast(env protocol.Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.sessions {
		s.send(env)
	}
}

func toWireSnapshots(snaps []registry.Snapshot) []protocol.PaneSnapshot {
	out := make([]protocol.PaneSnapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, protocol.PaneSnapshot{PaneID: s.PaneID, Pid: s.Pid, Alive: s.Alive, Mode: s.Mode, Cols: s.Cols, Rows: s.Rows})
	}
	return out
}
