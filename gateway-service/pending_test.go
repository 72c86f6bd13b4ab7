package main

import (
	"testing"
	"time"
)

func stoppedInvite(target, requester string) *pendingInvite {
	p := newPendingInvite(target, requester)
	p.timer = time.NewTimer(time.Hour)
	p.timer.Stop()
	return p
}

func TestPendingTable_InsertRejectsSecondForSameTarget(t *testing.T) {
	table := newPendingTable()

	if err := table.insert(stoppedInvite("bob", "alice")); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}
	if err := table.insert(stoppedInvite("bob", "carol")); err != ErrAlreadyPending {
		t.Errorf("Expected ErrAlreadyPending for second insert, got %v", err)
	}
	if table.len() != 1 {
		t.Errorf("Expected table to keep the first entry only, got %d entries", table.len())
	}
}

func TestPendingTable_ClaimMatchesRequester(t *testing.T) {
	table := newPendingTable()
	p := stoppedInvite("bob", "alice")
	table.insert(p)

	if _, ok := table.claim("bob", "carol"); ok {
		t.Error("Expected claim with wrong requester to fail")
	}
	if table.len() != 1 {
		t.Error("Expected mismatched claim to leave the entry in place")
	}

	claimed, ok := table.claim("bob", "alice")
	if !ok || claimed != p {
		t.Fatal("Expected matching claim to return the stored entry")
	}
	if table.len() != 0 {
		t.Error("Expected claim to remove the entry")
	}

	if _, ok := table.claim("bob", "alice"); ok {
		t.Error("Expected second claim of the same invite to fail")
	}
}

func TestPendingTable_ExpireOnlyRemovesSameEntry(t *testing.T) {
	table := newPendingTable()
	first := stoppedInvite("bob", "alice")
	table.insert(first)
	table.claim("bob", "alice")

	// The target is reused by a later invitation; the stale timer's expire
	// must not remove it.
	second := stoppedInvite("bob", "carol")
	table.insert(second)

	if table.expire(first) {
		t.Error("Expected expire of an already-claimed entry to be a no-op")
	}
	if table.len() != 1 {
		t.Error("Expected the newer entry to survive the stale expire")
	}
	if !table.expire(second) {
		t.Error("Expected expire of the live entry to succeed")
	}
}

func TestPendingTable_DrainReturnsAndClears(t *testing.T) {
	table := newPendingTable()
	table.insert(stoppedInvite("bob", "alice"))
	table.insert(stoppedInvite("carol", "alice"))

	drained := table.drain()
	if len(drained) != 2 {
		t.Errorf("Expected 2 drained entries, got %d", len(drained))
	}
	if table.len() != 0 {
		t.Errorf("Expected empty table after drain, got %d entries", table.len())
	}
}
