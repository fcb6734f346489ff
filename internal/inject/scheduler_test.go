package inject

import (
	"context"
	"sync"
	"testing"
	"time"

	"paned/internal/config"
	"paned/internal/protocol"
	"paned/internal/registry"
)

type noopRegSink struct{}

func (noopRegSink) OnSpawned(string, int)     {}
func (noopRegSink) OnOutput(string, []byte)   {}
func (noopRegSink) OnExit(string, int)        {}
func (noopRegSink) OnIdentity(string, string) {}

type ackRecorder struct {
	mu   sync.Mutex
	acks map[string]protocol.AckStatus
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{acks: make(map[string]protocol.AckStatus)}
}

func (a *ackRecorder) OnAck(_, _ string, eventID string, status protocol.AckStatus, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks[eventID] = status
}

func (a *ackRecorder) wait(t *testing.T, eventID string) protocol.AckStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		status, ok := a.acks[eventID]
		a.mu.Unlock()
		if ok {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for ack %q", eventID)
	return ""
}

func testSetup(t *testing.T) (*registry.Registry, *Scheduler, *ackRecorder, context.Context, func()) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Shell = "/bin/sh"
	cfg.ModeCommands = map[string][]string{"shell": {"/bin/sh"}}
	cfg.MinPostWriteDelay = 20 * time.Millisecond
	cfg.SubmitDeferWindow = 30 * time.Millisecond
	cfg.SubmitDeferMaxWait = 200 * time.Millisecond
	cfg.VerificationTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	reg := registry.New(ctx, cfg, noopRegSink{}, &wg)
	acks := newAckRecorder()
	sched := New(cfg, reg, acks, &wg)

	cleanup := func() {
		cancel()
		wg.Wait()
	}
	return reg, sched, acks, ctx, cleanup
}

func TestSubmitUnknownPaneAcksNotConnected(t *testing.T) {
	_, sched, acks, ctx, cleanup := testSetup(t)
	defer cleanup()

	if err := sched.Submit(ctx, "sess1", "nope", []byte("hi\r"), "w1"); err == nil {
		t.Fatal("Submit() error = nil, want error for unknown pane")
	}
	if got := acks.wait(t, "w1"); got != protocol.AckNotConnected {
		t.Fatalf("ack status = %v, want AckNotConnected", got)
	}
}

func TestSubmitWriteAndEnterVerified(t *testing.T) {
	reg, sched, acks, ctx, cleanup := testSetup(t)
	defer cleanup()

	if _, err := reg.Spawn("p1", registry.SpawnOptions{Mode: "shell"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if err := sched.Submit(ctx, "sess1", "p1", []byte("echo hello\r"), "w1"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := acks.wait(t, "w1"); got != protocol.AckDeliveredVerified {
		t.Fatalf("ack status = %v, want AckDeliveredVerified", got)
	}

	_ = reg.Kill("p1")
}

func TestSubmitPasteWithoutEnterAcksImmediately(t *testing.T) {
	reg, sched, acks, ctx, cleanup := testSetup(t)
	defer cleanup()

	if _, err := reg.Spawn("p1", registry.SpawnOptions{Mode: "shell"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if err := sched.Submit(ctx, "sess1", "p1", []byte("no enter here"), "w1"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if got := acks.wait(t, "w1"); got != protocol.AckDeliveredVerified {
		t.Fatalf("ack status = %v, want AckDeliveredVerified", got)
	}

	_ = reg.Kill("p1")
}

func TestSubmitFireAndForgetProducesNoAck(t *testing.T) {
	reg, sched, acks, ctx, cleanup := testSetup(t)
	defer cleanup()

	if _, err := reg.Spawn("p1", registry.SpawnOptions{Mode: "shell"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if err := sched.Submit(ctx, "sess1", "p1", []byte("echo hi\r"), ""); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	acks.mu.Lock()
	n := len(acks.acks)
	acks.mu.Unlock()
	if n != 0 {
		t.Fatalf("expected no acks recorded for fire-and-forget write, got %d", n)
	}
	_ = reg.Kill("p1")
}

func TestSubmitOrdersJobsFIFOPerPane(t *testing.T) {
	reg, sched, acks, ctx, cleanup := testSetup(t)
	defer cleanup()

	if _, err := reg.Spawn("p1", registry.SpawnOptions{Mode: "shell"}); err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	for i, id := range []string{"w1", "w2", "w3"} {
		data := []byte("echo " + id + "\r")
		if err := sched.Submit(ctx, "sess1", "p1", data, id); err != nil {
			t.Fatalf("Submit() #%d error = %v", i, err)
		}
	}

	for _, id := range []string{"w1", "w2", "w3"} {
		if got := acks.wait(t, id); got != protocol.AckDeliveredVerified {
			t.Fatalf("ack %s status = %v, want AckDeliveredVerified", id, got)
		}
	}
	_ = reg.Kill("p1")
}

func TestSplitTrailingEnter(t *testing.T) {
	tests := []struct {
		in        string
		wantPay   string
		wantEnter bool
	}{
		{"echo hi\r", "echo hi", true},
		{"echo hi\n", "echo hi", true},
		{"just text", "just text", false},
		{"", "", false},
	}
	for _, tc := range tests {
		pay, enter := splitTrailingEnter([]byte(tc.in))
		if string(pay) != tc.wantPay || enter != tc.wantEnter {
			t.Fatalf("splitTrailingEnter(%q) = (%q, %v), want (%q, %v)", tc.in, pay, enter, tc.wantPay, tc.wantEnter)
		}
	}
}
