package client

import (
	"context"
	"fmt"

	"paned/internal/protocol"
)

// resolveAck delivers an incoming ack envelope to its pending waiter, if
// one is still registered.
func (c *Client) resolveAck(env protocol.Envelope) {
	if env.Event != protocol.EventAck || env.Ack == nil {
		return
	}
	c.acksMu.Lock()
	p, ok := c.acks[env.Ack.EventID]
	if ok {
		delete(c.acks, env.Ack.EventID)
	}
	c.acksMu.Unlock()
	if ok {
		p.done <- *env.Ack
	}
}

// failAllPending rejects every outstanding write-and-wait-ack with status,
// per spec §4.8: "on any connection-loss event, reject all pending acks
// with daemon_disconnected".
func (c *Client) failAllPending(status protocol.AckStatus, reason string) {
	c.acksMu.Lock()
	pending := c.acks
	c.acks = make(map[string]*pendingAck)
	c.acksMu.Unlock()

	for eventID, p := range pending {
		p.done <- protocol.AckPayload{EventID: eventID, Status: status, Reason: reason}
	}
}

// waitAck registers eventID for an incoming ack and blocks until it
// resolves, ctx is cancelled, or the client-side ack timeout elapses
// (slightly longer than the daemon's own verification timeout, per spec).
func (c *Client) waitAck(ctx context.Context, eventID string) (protocol.AckPayload, error) {
	p := &pendingAck{done: make(chan protocol.AckPayload, 1)}

	c.acksMu.Lock()
	c.acks[eventID] = p
	c.acksMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultAckTimeout)
	defer cancel()

	select {
	case ack := <-p.done:
		return ack, nil
	case <-ctx.Done():
		c.acksMu.Lock()
		delete(c.acks, eventID)
		c.acksMu.Unlock()
		return protocol.AckPayload{}, fmt.Errorf("client: %w", ErrAckTimeout)
	}
}
