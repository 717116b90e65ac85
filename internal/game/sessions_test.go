package game

import (
	"fmt"
	"sync"
	"testing"
)

func TestSessionRegistry_AttachDetach(t *testing.T) {
	reg := NewSessionRegistry()

	reg.Attach("p1", "alice")
	reg.Attach("p2", "")
	reg.Attach("", "ghost") // no identity, ignored

	if got := reg.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
	if got := reg.Username("p1"); got != "alice" {
		t.Errorf("Username(p1) = %q, want alice", got)
	}
	if got := reg.Username("p2"); got != "p2" {
		t.Errorf("Username(p2) = %q, want fallback to ID", got)
	}
	if got := reg.Username("stranger"); got != "stranger" {
		t.Errorf("Username(stranger) = %q, want fallback to ID", got)
	}

	reg.Detach("p1")
	reg.Detach("p1") // already gone, no-op
	if got := reg.Count(); got != 1 {
		t.Errorf("Count() after detach = %d, want 1", got)
	}
}

func TestSessionRegistry_BetLifecycle(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Attach("p1", "alice")

	reg.SetBet("p1", "bet-1")
	reg.SetBet("absent", "bet-2") // unknown player, no-op

	snap := reg.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() len = %d, want 1", len(snap))
	}
	if snap[0].BetID != "bet-1" || snap[0].Status != SessionBetting {
		t.Errorf("session = %+v, want betting with bet-1", snap[0])
	}

	reg.UpdateStatus("p1", SessionCashedOut)
	if got := reg.Snapshot()[0].Status; got != SessionCashedOut {
		t.Errorf("status = %v, want cashed_out", got)
	}

	reg.ResetRound()
	got := reg.Snapshot()[0]
	if got.BetID != "" || got.Status != SessionWatching {
		t.Errorf("session after reset = %+v, want watching with no bet", got)
	}
	if got.Username != "alice" {
		t.Errorf("identity lost across reset: %q", got.Username)
	}
}

func TestSessionRegistry_ReconnectReplacesSession(t *testing.T) {
	reg := NewSessionRegistry()
	reg.Attach("p1", "alice")
	reg.SetBet("p1", "bet-1")

	reg.Attach("p1", "alice-new")

	if got := reg.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
	s := reg.Snapshot()[0]
	if s.Username != "alice-new" {
		t.Errorf("username = %q, want alice-new", s.Username)
	}
	if s.BetID != "" || s.Status != SessionWatching {
		t.Errorf("reconnect kept stale round state: %+v", s)
	}
}

func TestSessionRegistry_SnapshotOrder(t *testing.T) {
	reg := NewSessionRegistry()
	for i := 0; i < 5; i++ {
		reg.Attach(fmt.Sprintf("p%d", i), "")
	}

	snap := reg.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("Snapshot() len = %d, want 5", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].ConnectedAt.Before(snap[i-1].ConnectedAt) {
			t.Fatalf("snapshot not ordered by connection time at %d", i)
		}
	}
}

func TestSessionRegistry_Concurrent(t *testing.T) {
	reg := NewSessionRegistry()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", w)
			for i := 0; i < 100; i++ {
				reg.Attach(id, "")
				reg.SetBet(id, "bet")
				reg.UpdateStatus(id, SessionCashedOut)
				reg.Snapshot()
				reg.Detach(id)
			}
		}(w)
	}
	wg.Wait()

	if got := reg.Count(); got != 0 {
		t.Errorf("Count() = %d after churn, want 0", got)
	}
}
