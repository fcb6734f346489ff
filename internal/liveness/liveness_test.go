package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"paned/internal/config"
	"paned/internal/registry"
)

func baseCfg() config.Config {
	cfg := config.DefaultConfig()
	cfg.ActiveWindow = 50 * time.Millisecond
	cfg.ChurningThreshold = 150 * time.Millisecond
	cfg.IdleThreshold = 300 * time.Millisecond
	cfg.WatchdogFraction = 0.5
	return cfg
}

func TestClassifyAlive(t *testing.T) {
	m := &Monitor{cfg: baseCfg()}
	now := time.Now()
	got := m.classify(now, now, now)
	if got != Alive {
		t.Fatalf("classify() = %v, want Alive", got)
	}
}

func TestClassifyIdleWhenNoOutputAtAll(t *testing.T) {
	m := &Monitor{cfg: baseCfg()}
	now := time.Now()
	stale := now.Add(-1 * time.Second)
	got := m.classify(stale, stale, now)
	if got != Idle {
		t.Fatalf("classify() = %v, want Idle", got)
	}
}

func TestClassifyChurningWhenOutputFlowingButNotMeaningful(t *testing.T) {
	m := &Monitor{cfg: baseCfg()}
	now := time.Now()
	got := m.classify(now, now.Add(-200*time.Millisecond), now)
	if got != Churning {
		t.Fatalf("classify() = %v, want Churning", got)
	}
}

type fakeSink struct {
	mu       sync.Mutex
	stuck    []string
	watchdog []string
}

func (f *fakeSink) OnStuck(paneID string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stuck = append(f.stuck, paneID)
}

func (f *fakeSink) OnWatchdog(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchdog = append(f.watchdog, message)
}

func (f *fakeSink) stuckCount(paneID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.stuck {
		if id == paneID {
			n++
		}
	}
	return n
}

type noopRegSink struct{}

func (noopRegSink) OnSpawned(string, int)     {}
func (noopRegSink) OnOutput(string, []byte)   {}
func (noopRegSink) OnExit(string, int)        {}
func (noopRegSink) OnIdentity(string, string) {}

func TestMonitorEmitsStuckOnceOnTransition(t *testing.T) {
	cfg := baseCfg()
	cfg.LivenessTick = 20 * time.Millisecond
	cfg.Shell = "/bin/sh"
	cfg.ModeCommands = map[string][]string{"shell": {"/bin/sh"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	reg := registry.New(ctx, cfg, noopRegSink{}, &wg)

	if _, err := reg.Spawn("p1", registry.SpawnOptions{Mode: "shell"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	defer func() {
		_ = reg.Kill("p1")
		cancel()
		wg.Wait()
	}()

	sink := &fakeSink{}
	mon := New(cfg, reg, sink)

	monCtx, monCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer monCancel()
	mon.Run(monCtx)

	if sink.stuckCount("p1") == 0 {
		t.Fatalf("expected at least one stuck alert for idle pane, got none")
	}
	if sink.stuckCount("p1") > 1 {
		t.Fatalf("expected debounced stuck alert (at most one per transition), got %d", sink.stuckCount("p1"))
	}
}
