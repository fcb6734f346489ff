package client

import (
	"testing"
	"time"

	"paned/internal/protocol"
)

func TestCacheRemovesPaneOnExitAndKilled(t *testing.T) {
	c := New(Options{})
	c.updateCache(protocol.Envelope{Event: protocol.EventList, Terminals: []protocol.PaneSnapshot{
		{PaneID: "a"}, {PaneID: "b"},
	}})
	if len(c.Panes()) != 2 {
		t.Fatalf("Panes() len = %d, want 2", len(c.Panes()))
	}

	c.updateCache(protocol.Envelope{Event: protocol.EventExit, PaneID: "a"})
	c.updateCache(protocol.Envelope{Event: protocol.EventKilled, PaneID: "b"})
	if len(c.Panes()) != 0 {
		t.Fatalf("Panes() len = %d, want 0 after exit+killed", len(c.Panes()))
	}
}

func TestCacheTracksLastActivityFromDataEvents(t *testing.T) {
	c := New(Options{})
	before := time.Now()
	c.updateCache(protocol.Envelope{Event: protocol.EventData, PaneID: "a", Data: "hi"})
	got := c.LastActivity("a")
	if got.Before(before) {
		t.Fatalf("LastActivity() = %v, want at/after %v", got, before)
	}
}

func TestCacheListReplacesRatherThanMerges(t *testing.T) {
	c := New(Options{})
	c.updateCache(protocol.Envelope{Event: protocol.EventSpawned, PaneID: "stale", Pid: 1})
	c.updateCache(protocol.Envelope{Event: protocol.EventList, Terminals: []protocol.PaneSnapshot{{PaneID: "fresh"}}})

	panes := c.Panes()
	if len(panes) != 1 || panes[0].PaneID != "fresh" {
		t.Fatalf("Panes() = %+v, want only 'fresh'", panes)
	}
}
