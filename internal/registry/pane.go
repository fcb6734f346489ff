// Package registry implements the Pane Runtime and Pane Registry: the live
// mapping from pane identifier to the interactive child process it owns,
// the byte-level output pathway that feeds the Scrollback Ring and the
// Liveness Monitor, and the exactly-once exit event guarantee.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"paned/internal/scrollback"
	"paned/internal/spinner"
	"paned/internal/terminal"
)

// Snapshot is the daemon-internal view of one pane's current state, handed
// out by list/attach/spawn. It never holds a direct reference to the
// runtime: callers that need to act on the pane look it up again by
// identifier through the Registry, per the indices-not-pointers design.
type Snapshot struct {
	PaneID string
	Pid    int
	Alive  bool
	Mode   string
	Cols   int
	Rows   int
}

// EventSink receives every Pane Runtime event that must fan out to
// Connection Sessions. The Registry and its Panes hold only this interface,
// never a direct reference to any session, so the back-edge from pane to
// client described in spec §9 is resolved through a handle rather than a
// pointer.
type EventSink interface {
	OnSpawned(paneID string, pid int)
	OnOutput(paneID string, data []byte)
	OnExit(paneID string, code int)
	OnIdentity(paneID string, identity string)
}

// Pane owns one interactive child process attached to a pty. All mutation
// of a Pane's own state happens on its read-loop goroutine or under mu;
// other components observe it only through Snapshot/OutputSeq/timestamps.
type Pane struct {
	id   string
	mode string

	term *terminal.Terminal
	ring *scrollback.Ring

	mu         sync.Mutex
	cols, rows int
	paused     bool
	pausedBuf  []byte
	identified bool
	exited     bool

	outputSeq          atomic.Uint64
	lastOutputNano     atomic.Int64
	lastMeaningfulNano atomic.Int64

	sink EventSink
}

func newPane(id, mode string, cols, rows int, term *terminal.Terminal, ringCap int, sink EventSink) *Pane {
	return &Pane{
		id:   id,
		mode: mode,
		term: term,
		ring: scrollback.New(ringCap),
		cols: cols,
		rows: rows,
		sink: sink,
	}
}

// Snapshot returns the pane's current metadata. Alive is true until the
// exit pathway has run.
func (p *Pane) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		PaneID: p.id,
		Pid:    p.term.PID(),
		Alive:  !p.exited,
		Mode:   p.mode,
		Cols:   p.cols,
		Rows:   p.rows,
	}
}

// OutputSeq returns the monotonic counter incremented on every output event
// broadcast for this pane. The Injection Scheduler captures this value as a
// baseline and polls for advancement to verify a submitted Enter.
func (p *Pane) OutputSeq() uint64 {
	return p.outputSeq.Load()
}

// LastOutput returns the timestamp of the most recent pty read, regardless
// of its content.
func (p *Pane) LastOutput() time.Time {
	return time.Unix(0, p.lastOutputNano.Load())
}

// LastMeaningfulOutput returns the timestamp of the most recent pty read
// that contained at least one non-spinner-frame rune.
func (p *Pane) LastMeaningfulOutput() time.Time {
	return time.Unix(0, p.lastMeaningfulNano.Load())
}

// Write pushes bytes into the pty master. It never blocks on client
// backpressure; serialization and delay logic live in the Injection
// Scheduler, not here.
func (p *Pane) Write(data []byte) error {
	if _, err := p.term.Write(data); err != nil {
		return ErrPtyWriteFailed
	}
	return nil
}

// Resize changes the pty window size. Bytes already in flight are not
// reordered by a resize.
func (p *Pane) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return ErrInvalidDims
	}
	if err := p.term.Resize(cols, rows); err != nil {
		return err
	}
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return nil
}

// Pause stops live output broadcast; bytes are still read from the pty (so
// the child is never blocked) and appended to scrollback, but accumulate in
// pausedBuf instead of reaching the sink.
func (p *Pane) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume flushes a single catch-up output event carrying everything
// accumulated since Pause, then returns the pane to live streaming. If
// nothing accumulated, no catch-up event is emitted.
func (p *Pane) Resume() {
	p.mu.Lock()
	catchUp := p.pausedBuf
	p.pausedBuf = nil
	p.paused = false
	p.mu.Unlock()

	if len(catchUp) > 0 {
		p.outputSeq.Add(1)
		p.sink.OnOutput(p.id, catchUp)
	}
}

// Kill signals the child process. The exit event follows asynchronously
// from the read loop once the child is reaped; Kill itself does not emit
// it, to keep the exactly-once exit guarantee centralized in one place.
func (p *Pane) Kill() error {
	return p.term.Close()
}

// runReadLoop drains pty output until the child exits, implementing the
// output pathway (spec §4.1): append to scrollback, update timestamps,
// detect identity once, broadcast unless paused. It then runs the exit
// pathway and reports the exit code (or -1 if unknown) to done.
func (p *Pane) runReadLoop(done func(code int)) {
	p.term.ReadLoop(func(chunk []byte) {
		p.handleOutput(chunk)
	})

	code, err := p.term.Wait()
	if err != nil {
		code = -1
	}

	p.mu.Lock()
	tail := p.pausedBuf
	p.pausedBuf = nil
	p.exited = true
	p.mu.Unlock()

	if len(tail) > 0 {
		p.outputSeq.Add(1)
		p.sink.OnOutput(p.id, tail)
	}
	done(code)
}

func (p *Pane) handleOutput(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	cp := append([]byte(nil), chunk...)
	p.ring.Append(cp)

	now := time.Now().UnixNano()
	p.lastOutputNano.Store(now)
	if spinner.HasMeaningfulRune(cp) {
		p.lastMeaningfulNano.Store(now)
	}

	p.mu.Lock()
	paused := p.paused
	alreadyIdentified := p.identified
	var identity string
	if !alreadyIdentified {
		identity = detectIdentity(cp)
		if identity != "" {
			p.identified = true
		}
	}
	if paused {
		p.pausedBuf = append(p.pausedBuf, cp...)
	}
	p.mu.Unlock()

	if identity != "" {
		p.sink.OnIdentity(p.id, identity)
	}
	if paused {
		return
	}

	p.outputSeq.Add(1)
	p.sink.OnOutput(p.id, cp)
}

// ScrollbackSnapshot returns an immutable copy of the pane's retained
// output, suitable for direct transmission to an attaching client.
func (p *Pane) ScrollbackSnapshot() []byte {
	return p.ring.Snapshot()
}
