package daemon

import (
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"paned/internal/protocol"
)

// session is one Connection Session: one accepted client connection. Per
// spec §5, there is exactly one writer task per session serializing framed
// writes (writeMu below), independent of the one reader goroutine that
// blocks on socket reads. Never acquire writeMu while already holding a
// Daemon-level lock that a writer might need — writes happen by enqueueing
// onto outCh, never by calling conn.Write directly from another goroutine.
type session struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex // serializes conn.Write; never held across a channel send

	outCh  chan protocol.Envelope
	closed chan struct{}
	once   sync.Once
}

func newSession(conn net.Conn) *session {
	return &session{
		id:     uuid.NewString(),
		conn:   conn,
		outCh:  make(chan protocol.Envelope, 256),
		closed: make(chan struct{}),
	}
}

// send enqueues an envelope for delivery. If the session's outbound queue
// is full — a slow or wedged client — the session is disconnected rather
// than letting the queue, and therefore memory, grow unbounded; this is
// the per-session backpressure bound spec §5 calls for.
func (s *session) send(env protocol.Envelope) {
	select {
	case s.outCh <- env:
	case <-s.closed:
	default:
		slog.Warn("[daemon] session write queue full, disconnecting", "sessionId", s.id)
		s.Close()
	}
}

// writeLoop drains outCh and writes each envelope as one newline-terminated
// JSON frame. It is the session's single writer task.
func (s *session) writeLoop() {
	for {
		select {
		case env, ok := <-s.outCh:
			if !ok {
				return
			}
			s.writeMu.Lock()
			err := protocol.Encode(s.conn, env)
			s.writeMu.Unlock()
			if err != nil {
				slog.Debug("[daemon] session write failed, closing", "sessionId", s.id, "error", err)
				s.Close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// readLoop parses request frames until the connection closes or a frame
// exceeds the size limit, dispatching each to handle. A malformed line is
// logged and skipped per spec §4.6's codec contract; it never tears down
// the session.
func (s *session) readLoop(handle func(sessionID string, req protocol.Request)) {
	fr := protocol.NewFrameReader(s.conn)
	for {
		line, err := fr.ReadFrame()
		if err != nil {
			if err != io.EOF {
				slog.Debug("[daemon] session read ended", "sessionId", s.id, "error", err)
			}
			return
		}
		req, err := protocol.DecodeRequest(line)
		if err != nil {
			slog.Warn("[daemon] malformed request frame, skipping", "sessionId", s.id, "error", err)
			continue
		}
		handle(s.id, req)
	}
}

// Close shuts down the session exactly once: stops the write loop and
// closes the underlying connection, which in turn unblocks the read loop.
func (s *session) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

