// Package client implements the Client Library described in spec §4.8: a
// stable pane-operations surface over exactly one connection to the paned
// daemon, with on-demand daemon discovery, bounded auto-reconnect, and a
// best-effort pane cache for callers that don't want to round-trip a `list`
// for every read.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"sync"
	"time"

	"paned/internal/daemon"
	"paned/internal/procutil"
	"paned/internal/protocol"
	"paned/internal/sessionstore"
)

const (
	defaultDialTimeout = 2 * time.Second
	daemonSpawnWait    = 500 * time.Millisecond
	reconnectAttempts  = 5
	reconnectGap       = 1 * time.Second
	defaultAckTimeout  = 4500 * time.Millisecond // slightly longer than the daemon's own verification timeout
)

// ErrNotConnected is returned by operations attempted while disconnected.
var ErrNotConnected = errors.New("client: not connected to daemon")

// ErrAckTimeout is returned by WriteAndWaitAck when the client-side
// timeout elapses before a matching ack arrives.
var ErrAckTimeout = errors.New("ack timed out")

// EventHandler receives every envelope the daemon (or the client itself,
// for reconnect/reconnect-failed) emits.
type EventHandler func(protocol.Envelope)

// Options configures a Client.
type Options struct {
	// Addr is the daemon's transport address (socket path / pipe name). If
	// empty, the platform default under the runtime directory is used.
	Addr string
	// DaemonBinary is the executable to spawn when no daemon is reachable.
	// If empty, daemon discovery only connects; it does not spawn one.
	DaemonBinary string
	// OnEvent receives every daemon event, including client-local
	// `reconnected` / `reconnect-failed` events.
	OnEvent EventHandler
}

type pendingAck struct {
	done chan protocol.AckPayload
}

// Client is the Client Library's connection handle: exactly one daemon
// connection, a pane cache refreshed from events, and the pending-ack table
// for write-and-wait-ack.
type Client struct {
	opts Options

	mu           sync.Mutex
	conn         net.Conn
	writeMu      sync.Mutex
	connecting   chan struct{} // non-nil while a connect attempt is in flight
	shuttingDown bool
	reconnecting bool

	panesMu      sync.Mutex
	panes        map[string]protocol.PaneSnapshot
	lastActivity map[string]time.Time

	acksMu sync.Mutex
	acks   map[string]*pendingAck

	closeCh chan struct{}

	// pidAppear is nudged by startPIDWatch's background goroutine whenever
	// the daemon's PID file appears, so reconnect can skip the rest of its
	// 1s gap instead of polling blind.
	pidAppear   chan struct{}
	watchCancel context.CancelFunc
}

// New constructs a disconnected Client. Call Connect before issuing
// operations.
func New(opts Options) *Client {
	if opts.Addr == "" {
		opts.Addr = daemon.DefaultEndpointPath(daemon.DefaultRuntimeDir())
	}
	c := &Client{
		opts:         opts,
		panes:        make(map[string]protocol.PaneSnapshot),
		lastActivity: make(map[string]time.Time),
		acks:         make(map[string]*pendingAck),
		closeCh:      make(chan struct{}),
		pidAppear:    make(chan struct{}, 1),
	}
	c.startPIDWatch()
	return c
}

// startPIDWatch watches the runtime directory's PID file so reconnect can
// react to a daemon appearing without waiting out its full retry gap. A
// watcher that fails to start (e.g. the runtime directory doesn't exist
// yet) just means reconnect falls back to its fixed-gap polling; it is
// never fatal to the Client.
func (c *Client) startPIDWatch() {
	store, err := sessionstore.New(daemon.DefaultRuntimeDir())
	if err != nil {
		slog.Debug("[client] pid watch disabled", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel

	go func() {
		onAppear := func() {
			select {
			case c.pidAppear <- struct{}{}:
			default:
			}
		}
		if err := store.Watch(ctx, onAppear, nil); err != nil {
			slog.Debug("[client] pid watch stopped", "error", err)
		}
	}()
}

// Connect implements spec §4.8's connection establishment algorithm.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil // step 1: already connected
	}
	if c.connecting != nil {
		wait := c.connecting
		c.mu.Unlock()
		<-wait // step 2: join the in-flight attempt
		c.mu.Lock()
		connected := c.conn != nil
		c.mu.Unlock()
		if connected {
			return nil
		}
		return ErrNotConnected
	}
	done := make(chan struct{})
	c.connecting = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = nil
		c.mu.Unlock()
		close(done)
	}()

	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	addr := c.opts.Addr

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	conn, err := dial(dialCtx, addr)
	cancel()
	if err == nil {
		c.installConn(conn)
		return nil
	}
	if !isConnRefused(err) || c.opts.DaemonBinary == "" {
		return fmt.Errorf("client: connect %s: %w", addr, err)
	}

	slog.Info("[client] no daemon reachable, spawning one", "addr", addr)
	if spawnErr := c.spawnDaemon(); spawnErr != nil {
		return fmt.Errorf("client: spawn daemon: %w", spawnErr)
	}

	select {
	case <-time.After(daemonSpawnWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	dialCtx2, cancel2 := context.WithTimeout(ctx, defaultDialTimeout)
	conn, err = dial(dialCtx2, addr)
	cancel2()
	if err != nil {
		return fmt.Errorf("client: connect %s after spawn: %w", addr, err)
	}
	c.installConn(conn)
	return nil
}

func (c *Client) spawnDaemon() error {
	cmd := exec.Command(c.opts.DaemonBinary)
	procutil.Detach(cmd)
	return cmd.Start()
}

func (c *Client) installConn(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.shuttingDown = false
	c.mu.Unlock()

	go c.readLoop(conn)
}

// readLoop consumes envelopes until the connection drops, then triggers
// reconnect unless the drop was caused by a daemon-initiated shutdown.
func (c *Client) readLoop(conn net.Conn) {
	fr := protocol.NewFrameReader(conn)
	sawShutdown := false

	for {
		line, err := fr.ReadFrame()
		if err != nil {
			break
		}
		env, err := protocol.DecodeEnvelope(line)
		if err != nil {
			slog.Warn("[client] malformed envelope, skipping", "error", err)
			continue
		}
		if env.Event == protocol.EventShutdown {
			sawShutdown = true
		}
		c.updateCache(env)
		c.resolveAck(env)
		c.emit(env)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	wasShuttingDown := c.shuttingDown
	c.mu.Unlock()

	_ = conn.Close()
	c.failAllPending(protocol.AckDaemonDisconnected, "daemon_disconnected")

	if sawShutdown || wasShuttingDown {
		return // intentional shutdown: reconnect stays disabled per spec §4.8
	}
	go c.reconnect()
}

// reconnect implements spec §4.8's reconnect algorithm: up to 5 attempts,
// 1-second gaps, reconnected/reconnect-failed events, single in-flight
// attempt.
func (c *Client) reconnect() {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		select {
		case <-c.closeCh:
			return
		case <-c.pidAppear:
			// The daemon's PID file just appeared: skip the rest of the
			// gap and dial immediately instead of polling blind.
		case <-time.After(reconnectGap):
		}

		ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
		conn, err := dial(ctx, c.opts.Addr)
		cancel()
		if err == nil {
			c.installConn(conn)
			slog.Info("[client] reconnected", "attempt", attempt)
			c.emit(protocol.Envelope{Event: protocol.EventReconnect})
			return
		}
		slog.Debug("[client] reconnect attempt failed", "attempt", attempt, "error", err)
	}

	slog.Warn("[client] reconnect exhausted", "attempts", reconnectAttempts)
	c.emit(protocol.Envelope{Event: protocol.EventReconnFail})
}

func (c *Client) emit(env protocol.Envelope) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(env)
	}
}

// Disconnect closes the connection and permanently disables reconnect,
// mirroring the daemon's own "shutdown disables reconnect" rule for a
// client-initiated disconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.shuttingDown = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
	if c.watchCancel != nil {
		c.watchCancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.failAllPending(protocol.AckDaemonDisconnected, "daemon_disconnected")
}

func (c *Client) send(req protocol.Request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.Encode(conn, req); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

func isDialOpError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
