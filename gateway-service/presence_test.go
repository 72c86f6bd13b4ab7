package main

import (
	"reflect"
	"testing"
)

func TestRegistry_ConnectAndLookup(t *testing.T) {
	reg := newRegistry()

	if _, ok := reg.lookup("alice"); ok {
		t.Fatal("Expected lookup to miss before connect")
	}

	reg.connect("alice", "c1")

	connId, ok := reg.lookup("alice")
	if !ok || connId != "c1" {
		t.Errorf("Expected lookup to return c1, got %q (ok=%v)", connId, ok)
	}
	userId, ok := reg.lookupConn("c1")
	if !ok || userId != "alice" {
		t.Errorf("Expected reverse lookup to return alice, got %q (ok=%v)", userId, ok)
	}
}

func TestRegistry_SecondConnectOverwrites(t *testing.T) {
	reg := newRegistry()

	reg.connect("alice", "c1")
	old, replaced := reg.connect("alice", "c2")

	if !replaced || old != "c1" {
		t.Errorf("Expected overwrite of c1, got old=%q replaced=%v", old, replaced)
	}
	if connId, _ := reg.lookup("alice"); connId != "c2" {
		t.Errorf("Expected lookup to return c2, got %q", connId)
	}
	if _, ok := reg.lookupConn("c1"); ok {
		t.Error("Expected stale reverse index entry for c1 to be removed")
	}
	if reg.count() != 1 {
		t.Errorf("Expected exactly one entry, got %d", reg.count())
	}
}

func TestRegistry_Disconnect(t *testing.T) {
	reg := newRegistry()
	reg.connect("alice", "c1")

	userId, ok := reg.disconnect("c1")
	if !ok || userId != "alice" {
		t.Errorf("Expected disconnect to return alice, got %q (ok=%v)", userId, ok)
	}
	if _, ok := reg.lookup("alice"); ok {
		t.Error("Expected alice to be gone after disconnect")
	}

	if _, ok := reg.disconnect("c1"); ok {
		t.Error("Expected second disconnect of the same connection to be a no-op")
	}
}

func TestRegistry_DisconnectStaleConnKeepsNewer(t *testing.T) {
	reg := newRegistry()
	reg.connect("alice", "c1")
	reg.connect("alice", "c2")

	// c1 was already overwritten; its late disconnect must not remove c2.
	if _, ok := reg.disconnect("c1"); ok {
		t.Error("Expected disconnect of overwritten connection to be a no-op")
	}
	if connId, ok := reg.lookup("alice"); !ok || connId != "c2" {
		t.Errorf("Expected alice to stay connected as c2, got %q (ok=%v)", connId, ok)
	}
}

func TestRegistry_SnapshotSortedAfterChurn(t *testing.T) {
	reg := newRegistry()
	reg.connect("carol", "c3")
	reg.connect("alice", "c1")
	reg.connect("bob", "c2")
	reg.disconnect("c2")

	got := reg.snapshot()
	want := []string{"alice", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected snapshot %v, got %v", want, got)
	}
}

func TestRegistry_ConnectionsIsACopy(t *testing.T) {
	reg := newRegistry()
	reg.connect("alice", "c1")

	conns := reg.connections()
	delete(conns, "alice")

	if _, ok := reg.lookup("alice"); !ok {
		t.Error("Expected mutation of the returned map to leave the registry untouched")
	}
}
