package client

import (
	"time"

	"paned/internal/protocol"
)

// updateCache folds one incoming envelope into the pane cache, per spec
// §4.8: "updated from connected, list, spawned, exit, and killed events.
// Last-activity timestamp per pane updated from data events."
func (c *Client) updateCache(env protocol.Envelope) {
	c.panesMu.Lock()
	defer c.panesMu.Unlock()

	switch env.Event {
	case protocol.EventConnected, protocol.EventList:
		c.panes = make(map[string]protocol.PaneSnapshot, len(env.Terminals))
		for _, p := range env.Terminals {
			c.panes[p.PaneID] = p
		}
	case protocol.EventSpawned, protocol.EventAttached:
		c.panes[env.PaneID] = protocol.PaneSnapshot{
			PaneID: env.PaneID,
			Pid:    env.Pid,
			Alive:  true,
		}
	case protocol.EventExit, protocol.EventKilled:
		delete(c.panes, env.PaneID)
		delete(c.lastActivity, env.PaneID)
	case protocol.EventData:
		c.lastActivity[env.PaneID] = time.Now()
	}
}

// Panes returns a snapshot of the client's locally cached pane view. Never
// authoritative — call List to force a refresh from the daemon.
func (c *Client) Panes() []protocol.PaneSnapshot {
	c.panesMu.Lock()
	defer c.panesMu.Unlock()
	out := make([]protocol.PaneSnapshot, 0, len(c.panes))
	for _, p := range c.panes {
		out = append(out, p)
	}
	return out
}

// LastActivity returns the timestamp of the most recent data event observed
// for paneID, or the zero time if none has been seen.
func (c *Client) LastActivity(paneID string) time.Time {
	c.panesMu.Lock()
	defer c.panesMu.Unlock()
	return c.lastActivity[paneID]
}
