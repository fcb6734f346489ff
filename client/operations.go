package client

import (
	"context"

	"github.com/google/uuid"

	"paned/internal/protocol"
)

// Spawn requests a new pane. mode selects the daemon's configured command
// for the pane; cols/rows set the initial pty size.
func (c *Client) Spawn(paneID, mode string, cols, rows int) error {
	return c.send(protocol.Request{
		Action: protocol.ActionSpawn,
		PaneID: paneID,
		Mode:   mode,
		Cols:   cols,
		Rows:   rows,
	})
}

// Write sends data to a pane's pty without waiting for an ack.
func (c *Client) Write(paneID, data string) error {
	return c.send(protocol.Request{Action: protocol.ActionWrite, PaneID: paneID, Data: data})
}

// WriteAndWaitAck sends data to a pane's pty and blocks for the daemon's
// ack, per spec §4.5/§4.8. A fresh UUID correlation identifier is generated
// for every call.
func (c *Client) WriteAndWaitAck(ctx context.Context, paneID, data string) (protocol.AckPayload, error) {
	eventID := uuid.NewString()
	req := protocol.Request{
		Action:     protocol.ActionWrite,
		PaneID:     paneID,
		Data:       data,
		KernelMeta: &protocol.KernelMeta{EventID: eventID},
	}
	if err := c.send(req); err != nil {
		return protocol.AckPayload{}, err
	}
	return c.waitAck(ctx, eventID)
}

// Resize changes a pane's pty dimensions.
func (c *Client) Resize(paneID string, cols, rows int) error {
	return c.send(protocol.Request{Action: protocol.ActionResize, PaneID: paneID, Cols: cols, Rows: rows})
}

// Pause suspends delivery of a pane's output events (the pane keeps
// running; only event emission is paused).
func (c *Client) Pause(paneID string) error {
	return c.send(protocol.Request{Action: protocol.ActionPause, PaneID: paneID})
}

// Resume resumes delivery of a paused pane's output events.
func (c *Client) Resume(paneID string) error {
	return c.send(protocol.Request{Action: protocol.ActionResume, PaneID: paneID})
}

// Kill terminates a pane's child process and removes it from the registry.
func (c *Client) Kill(paneID string) error {
	return c.send(protocol.Request{Action: protocol.ActionKill, PaneID: paneID})
}

// List requests a fresh enumeration of every live pane. The response
// refreshes the local pane cache as a side effect.
func (c *Client) List() error {
	return c.send(protocol.Request{Action: protocol.ActionList})
}

// Attach requests the current scrollback and live status for one pane.
func (c *Client) Attach(paneID string) error {
	return c.send(protocol.Request{Action: protocol.ActionAttach, PaneID: paneID})
}

// Ping requests a liveness pong from the daemon.
func (c *Client) Ping() error {
	return c.send(protocol.Request{Action: protocol.ActionPing})
}

// Health requests the daemon's uptime/pane-count/memory health snapshot.
func (c *Client) Health() error {
	return c.send(protocol.Request{Action: protocol.ActionHealth})
}

// Shutdown asks the daemon to shut down cleanly.
func (c *Client) Shutdown() error {
	return c.send(protocol.Request{Action: protocol.ActionShutdown})
}
