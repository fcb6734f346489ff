// Package liveness implements the Liveness Monitor: a periodic classifier
// (with an adaptive tick that slows down once every pane is idle) that watches every live pane's output timestamps and emits
// agent-stuck-detected / watchdog-alert events when panes stop making real
// progress.
package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"paned/internal/config"
	"paned/internal/registry"
)

// Classification is one pane's liveness state at a given tick.
type Classification string

const (
	Alive    Classification = "alive"
	Churning Classification = "churning"
	Idle     Classification = "idle"
)

// Sink receives the two event kinds the Liveness Monitor produces.
type Sink interface {
	OnStuck(paneID string, idleTime time.Duration)
	OnWatchdog(message string)
}

// paneSource is the subset of *registry.Registry the monitor needs. Defined
// as an interface so tests can supply a fake without spawning real ptys.
type paneSource interface {
	List() []registry.Snapshot
	Pane(id string) (*registry.Pane, error)
}

// Monitor runs the classification tick described in spec §4.4.
type Monitor struct {
	cfg  config.Config
	reg  paneSource
	sink Sink

	mu           sync.Mutex
	prevClass    map[string]Classification
	watchdogHigh bool
}

// New constructs a Monitor. cfg supplies the active/churning/idle windows
// and the watchdog fraction; reg is queried on each tick.
func New(cfg config.Config, reg paneSource, sink Sink) *Monitor {
	return &Monitor{
		cfg:       cfg,
		reg:       reg,
		sink:      sink,
		prevClass: make(map[string]Classification),
	}
}

// Run ticks until ctx is cancelled. The interval is adaptive, modeled on the
// teacher's SessionManager.RecommendedIdleCheckInterval: it runs at
// cfg.LivenessTick while any pane is alive or churning, and backs off to a
// slower interval once every pane has gone idle, so a fleet of quiescent
// panes does not keep the monitor busy-polling.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.nextInterval()
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			m.tick(time.Now())
			timer.Reset(m.nextInterval())
		}
	}
}

// nextInterval reports cfg.LivenessTick unless every known pane was classed
// idle at the last tick, in which case it backs off to ten times that.
func (m *Monitor) nextInterval() time.Duration {
	base := m.cfg.LivenessTick
	if base <= 0 {
		base = 2 * time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prevClass) == 0 {
		return base
	}
	for _, c := range m.prevClass {
		if c != Idle {
			return base
		}
	}
	return base * 10
}

func (m *Monitor) tick(now time.Time) {
	snaps := m.reg.List()
	seen := make(map[string]struct{}, len(snaps))
	stuckCount := 0

	for _, s := range snaps {
		pane, err := m.reg.Pane(s.PaneID)
		if err != nil {
			// Exited between List and lookup; the exit pathway owns its
			// own event, nothing to classify here.
			continue
		}
		seen[s.PaneID] = struct{}{}

		class := m.classify(pane.LastOutput(), pane.LastMeaningfulOutput(), now)
		if class == Idle || class == Churning {
			stuckCount++
		}
		m.maybeAlert(s.PaneID, class, now, pane.LastMeaningfulOutput())
	}

	m.mu.Lock()
	for id := range m.prevClass {
		if _, ok := seen[id]; !ok {
			delete(m.prevClass, id)
		}
	}
	m.mu.Unlock()

	if len(snaps) == 0 {
		return
	}
	fraction := float64(stuckCount) / float64(len(snaps))
	m.mu.Lock()
	wasHigh := m.watchdogHigh
	m.watchdogHigh = fraction >= m.cfg.WatchdogFraction
	nowHigh := m.watchdogHigh
	m.mu.Unlock()

	if nowHigh && !wasHigh {
		slog.Warn("[liveness] watchdog threshold crossed", "fraction", fraction, "stuck", stuckCount, "total", len(snaps))
		m.sink.OnWatchdog("a majority of panes appear stuck")
	}
}

// classify is a pure function of the two timestamps so it can be
// table-tested without a real pty. alive: last-meaningful-output within the
// active window. idle: no output at all within the (longer) idle window.
// churning: output is still flowing but none of it has been meaningful for
// at least the churning threshold.
func (m *Monitor) classify(lastOutput, lastMeaningful, now time.Time) Classification {
	sinceMeaningful := now.Sub(lastMeaningful)
	if sinceMeaningful <= m.cfg.ActiveWindow {
		return Alive
	}

	sinceOutput := now.Sub(lastOutput)
	if sinceOutput >= m.cfg.IdleThreshold {
		return Idle
	}
	if sinceMeaningful >= m.cfg.ChurningThreshold && sinceOutput <= m.cfg.ActiveWindow {
		return Churning
	}
	return Alive
}

// maybeAlert emits agent-stuck-detected exactly once per transition into
// Idle or Churning, per spec's "debounced so the same pane is not reported
// more than once per classification window".
func (m *Monitor) maybeAlert(paneID string, class Classification, now, lastMeaningful time.Time) {
	m.mu.Lock()
	prev := m.prevClass[paneID]
	m.prevClass[paneID] = class
	m.mu.Unlock()

	if (class != Idle && class != Churning) || prev == class {
		return
	}

	idleTime := now.Sub(lastMeaningful)
	slog.Info("[liveness] pane transitioned to stuck state", "paneId", paneID, "class", class, "idleTime", idleTime)
	m.sink.OnStuck(paneID, idleTime)
}
