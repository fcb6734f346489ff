package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"paned/internal/protocol"
)

// fakeDaemon is a minimal test double standing in for the real daemon
// process: it reads request frames off one side of a net.Pipe and lets the
// test script reply with arbitrary envelopes.
type fakeDaemon struct {
	t    *testing.T
	conn net.Conn
	sc   *bufio.Scanner
}

func newFakeDaemon(t *testing.T, conn net.Conn) *fakeDaemon {
	return &fakeDaemon{t: t, conn: conn, sc: bufio.NewScanner(conn)}
}

func (f *fakeDaemon) nextRequest() protocol.Request {
	f.t.Helper()
	if !f.sc.Scan() {
		f.t.Fatalf("scan: %v", f.sc.Err())
	}
	var req protocol.Request
	if err := json.Unmarshal(f.sc.Bytes(), &req); err != nil {
		f.t.Fatalf("decode request: %v", err)
	}
	return req
}

func (f *fakeDaemon) send(env protocol.Envelope) {
	f.t.Helper()
	if err := protocol.Encode(f.conn, env); err != nil {
		f.t.Fatalf("encode envelope: %v", err)
	}
}

func newConnectedClient(t *testing.T) (*Client, *fakeDaemon) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close() })

	c := New(Options{})
	t.Cleanup(func() {
		if c.watchCancel != nil {
			c.watchCancel()
		}
	})
	c.installConn(clientConn)

	return c, newFakeDaemon(t, serverConn)
}

func TestSpawnAndCacheFromConnectedEvent(t *testing.T) {
	c, fd := newConnectedClient(t)

	go fd.send(protocol.Envelope{Event: protocol.EventConnected, Terminals: []protocol.PaneSnapshot{
		{PaneID: "p1", Pid: 100, Alive: true},
	}})

	deadline := time.Now().Add(time.Second)
	for len(c.Panes()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	panes := c.Panes()
	if len(panes) != 1 || panes[0].PaneID != "p1" {
		t.Fatalf("Panes() = %+v, want one pane p1", panes)
	}

	if err := c.Spawn("p2", "shell", 80, 24); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	req := fd.nextRequest()
	if req.Action != protocol.ActionSpawn || req.PaneID != "p2" {
		t.Fatalf("request = %+v", req)
	}
}

func TestWriteAndWaitAckResolves(t *testing.T) {
	c, fd := newConnectedClient(t)

	go func() {
		req := fd.nextRequest()
		fd.send(protocol.Envelope{Event: protocol.EventAck, Ack: &protocol.AckPayload{
			EventID: req.KernelMeta.EventID,
			Status:  protocol.AckDeliveredVerified,
		}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ack, err := c.WriteAndWaitAck(ctx, "p1", "echo hi\r")
	if err != nil {
		t.Fatalf("WriteAndWaitAck() error = %v", err)
	}
	if ack.Status != protocol.AckDeliveredVerified {
		t.Fatalf("ack.Status = %v", ack.Status)
	}
}

func TestWriteAndWaitAckTimesOutWithoutDaemonReply(t *testing.T) {
	c, fd := newConnectedClient(t)
	go fd.nextRequest() // drain the write, never reply

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.WriteAndWaitAck(ctx, "p1", "data")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}

func TestConnectionDropFailsPendingAcks(t *testing.T) {
	c, fd := newConnectedClient(t)
	go fd.nextRequest()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan protocol.AckPayload, 1)
	errCh := make(chan error, 1)
	go func() {
		ack, err := c.WriteAndWaitAck(ctx, "p1", "data")
		if err != nil {
			errCh <- err
			return
		}
		done <- ack
	}()

	time.Sleep(20 * time.Millisecond)
	fd.conn.Close() // simulate the daemon vanishing

	select {
	case ack := <-done:
		if ack.Status != protocol.AckDaemonDisconnected {
			t.Fatalf("ack.Status = %v, want daemon_disconnected", ack.Status)
		}
	case err := <-errCh:
		t.Fatalf("WriteAndWaitAck() unexpected error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pending ack rejection")
	}
}

func TestDisconnectLeavesClientNotConnected(t *testing.T) {
	c, fd := newConnectedClient(t)
	_ = fd

	c.Disconnect()

	if err := c.Spawn("p1", "shell", 80, 24); err != ErrNotConnected {
		t.Fatalf("Spawn() after Disconnect() error = %v, want ErrNotConnected", err)
	}
}
