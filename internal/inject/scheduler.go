// Package inject implements the Injection Scheduler: the per-pane FIFO job
// queue that serializes client write requests, defers a submitted Enter
// until the child has finished ingesting the preceding paste, and verifies
// the submission by watching the pane's output-sequence counter.
//
// This is the hardest single piece of the daemon. Naive "payload + Enter in
// one write" loses the submission whenever the target CLI is still
// rendering the pasted text; the submit-defer window plus post-Enter
// verification turns that race into a clean client-visible ack status.
package inject

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paned/internal/config"
	"paned/internal/protocol"
	"paned/internal/registry"
	"paned/internal/workerutil"
)

// paneAccessor is the subset of *registry.Registry the scheduler needs.
type paneAccessor interface {
	Pane(id string) (*registry.Pane, error)
}

// Sink receives the ack produced by every tracked (eventID != "") write.
// Fire-and-forget writes (no eventID) never reach it. sessionID identifies
// which Connection Session originated the write, so the daemon can route
// the ack back to that one session by its own identifier rather than the
// scheduler holding a direct reference to it (spec §9's indices-not-
// pointers back-edge resolution).
type Sink interface {
	OnAck(sessionID, paneID, eventID string, status protocol.AckStatus, reason string)
}

type job struct {
	sessionID string
	paneID    string
	payload   []byte
	wantEnter bool
	eventID   string
}

// Scheduler serializes injection jobs per pane. Exactly one job is in
// flight per pane at a time; later jobs for the same pane wait in FIFO
// order in that pane's channel. There is no ordering guarantee across
// panes.
type Scheduler struct {
	cfg  config.Config
	reg  paneAccessor
	sink Sink
	wg   *sync.WaitGroup

	mu     sync.Mutex
	queues map[string]chan job
}

// New constructs a Scheduler. A pane's worker goroutine is started by the
// first Submit for that pane, and the ctx passed to that Submit governs the
// worker's lifetime and every wait inside its jobs. Cancelling it acks the
// in-flight job send_failed with a shutdown reason; jobs still queued are
// dropped without an ack.
func New(cfg config.Config, reg paneAccessor, sink Sink, wg *sync.WaitGroup) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		reg:    reg,
		sink:   sink,
		wg:     wg,
		queues: make(map[string]chan job),
	}
}

// Submit enqueues a write for paneID. data is the raw client payload; if it
// ends in '\r' or '\n', that trailing byte is held back and delivered as a
// separate Enter only after the submit-defer window, instead of being
// written as part of the initial payload — this is what lets the scheduler
// distinguish "paste text" from "submit it" rather than writing both in one
// shot. eventID is the correlation identifier from the client's
// kernelMeta.eventId; pass "" for fire-and-forget writes that want no ack.
//
// Submit returns an error immediately, without queueing, if the pane does
// not exist. For a tracked write this also emits a not_connected ack so the
// caller need not additionally surface a generic error event.
func (s *Scheduler) Submit(ctx context.Context, sessionID, paneID string, data []byte, eventID string) error {
	if _, err := s.reg.Pane(paneID); err != nil {
		if eventID != "" {
			s.sink.OnAck(sessionID, paneID, eventID, protocol.AckNotConnected, "")
		}
		return err
	}

	payload, wantEnter := splitTrailingEnter(data)
	j := job{sessionID: sessionID, paneID: paneID, payload: payload, wantEnter: wantEnter, eventID: eventID}

	ch := s.queueFor(ctx, paneID)
	select {
	case ch <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueFor returns the channel feeding paneID's worker, lazily starting
// the worker goroutine the first time a pane is seen.
func (s *Scheduler) queueFor(ctx context.Context, paneID string) chan job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch, ok := s.queues[paneID]; ok {
		return ch
	}
	ch := make(chan job, 64)
	s.queues[paneID] = ch

	workerutil.RunWithPanicRecovery(ctx, "inject-worker:"+paneID, s.wg, func(workerCtx context.Context) {
		s.runWorker(workerCtx, paneID, ch)
	}, workerutil.RecoveryOptions{
		IsShutdown: func() bool { return ctx.Err() != nil },
	})
	return ch
}

func (s *Scheduler) runWorker(ctx context.Context, paneID string, ch chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-ch:
			s.runJob(ctx, j)
		}
	}
}

// splitTrailingEnter separates a trailing carriage return or newline from
// payload so it can be deferred and delivered as its own Enter step rather
// than written inline, where it could be absorbed by a still-rendering
// child before the daemon has any chance to defer it.
func splitTrailingEnter(data []byte) (payload []byte, wantEnter bool) {
	if len(data) == 0 {
		return data, false
	}
	last := data[len(data)-1]
	if last == '\r' || last == '\n' {
		return data[:len(data)-1], true
	}
	return data, false
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	pane, err := s.reg.Pane(j.paneID)
	if err != nil {
		s.ack(j, protocol.AckNotConnected, "")
		return
	}

	if len(j.payload) > 0 {
		if err := s.writeChunked(ctx, pane, j.payload); err != nil {
			s.ack(j, protocol.AckSendFailed, err.Error())
			return
		}
	}

	if !j.wantEnter {
		// A pure paste with no submit requested: nothing to verify.
		s.ack(j, protocol.AckDeliveredVerified, "")
		return
	}

	if !s.sleepOrDone(ctx, s.cfg.MinPostWriteDelay) {
		s.ack(j, protocol.AckSendFailed, "daemon_shutting_down")
		return
	}

	if !s.awaitSubmitDeferWindow(ctx, pane, len(j.payload)) {
		s.ack(j, protocol.AckSendFailed, "daemon_shutting_down")
		return
	}

	baseline := pane.OutputSeq()
	if err := pane.Write([]byte{'\r'}); err != nil {
		s.ack(j, protocol.AckSendFailed, err.Error())
		return
	}

	verified, done := s.awaitOutputAdvance(ctx, pane, baseline, s.cfg.VerificationTimeout)
	if !done {
		s.ack(j, protocol.AckSendFailed, "daemon_shutting_down")
		return
	}
	if verified {
		s.ack(j, protocol.AckDeliveredVerified, "")
		return
	}
	s.ack(j, protocol.AckAcceptedUnverified, "post_enter_output_timeout")
}

// writeChunked writes payload directly if it is short, otherwise splits it
// into fixed-size chunks with a small inter-chunk delay, so pty pipes with
// small kernel buffers on some platforms don't truncate a long paste.
func (s *Scheduler) writeChunked(ctx context.Context, pane *registry.Pane, payload []byte) error {
	if len(payload) <= s.cfg.LongPayloadBytes || s.cfg.ChunkBytes <= 0 {
		return pane.Write(payload)
	}

	for offset := 0; offset < len(payload); offset += s.cfg.ChunkBytes {
		end := offset + s.cfg.ChunkBytes
		if end > len(payload) {
			end = len(payload)
		}
		if err := pane.Write(payload[offset:end]); err != nil {
			return err
		}
		if end < len(payload) {
			if !s.sleepOrDone(ctx, s.cfg.ChunkDelay) {
				return ctx.Err()
			}
		}
	}
	return nil
}

// awaitSubmitDeferWindow polls the pane's last-output timestamp and waits
// while output is still recent, on the theory that the child is still
// echoing or reflowing the pasted text. Waiting is capped so a pane that
// never quiesces does not block its queue forever; the cap is doubled for
// payloads over the long-payload threshold, which take longer to settle.
func (s *Scheduler) awaitSubmitDeferWindow(ctx context.Context, pane *registry.Pane, payloadLen int) bool {
	maxWait := s.cfg.SubmitDeferMaxWait
	if payloadLen > s.cfg.LongPayloadBytes {
		maxWait *= 2
	}
	deadline := time.Now().Add(maxWait)
	pollInterval := s.cfg.SubmitDeferWindow / 3
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}

	for time.Now().Before(deadline) {
		if time.Since(pane.LastOutput()) >= s.cfg.SubmitDeferWindow {
			return true
		}
		if !s.sleepOrDone(ctx, pollInterval) {
			return false
		}
	}
	return true
}

// awaitOutputAdvance polls OutputSeq until it advances past baseline or
// timeout elapses. The second return value is false only when ctx was
// cancelled (daemon shutdown), distinguishing that from an ordinary
// unverified timeout.
func (s *Scheduler) awaitOutputAdvance(ctx context.Context, pane *registry.Pane, baseline uint64, timeout time.Duration) (verified bool, done bool) {
	deadline := time.Now().Add(timeout)
	pollInterval := 25 * time.Millisecond

	for time.Now().Before(deadline) {
		if pane.OutputSeq() > baseline {
			return true, true
		}
		if !s.sleepOrDone(ctx, pollInterval) {
			return false, false
		}
	}
	return pane.OutputSeq() > baseline, true
}

// sleepOrDone waits for d or ctx cancellation, reporting false on
// cancellation so callers can distinguish a shutdown from a normal timeout.
func (s *Scheduler) sleepOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) ack(j job, status protocol.AckStatus, reason string) {
	if j.eventID == "" {
		return
	}
	slog.Debug("[inject] ack", "paneId", j.paneID, "eventId", j.eventID, "status", status, "reason", reason)
	s.sink.OnAck(j.sessionID, j.paneID, j.eventID, status, reason)
}
