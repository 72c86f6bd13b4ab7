package main

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyPending is returned when a target user already has an outstanding
// invitation. The second solicitation is rejected instead of overwriting the
// entry, which would leave the first caller waiting on an orphaned invite.
var ErrAlreadyPending = errors.New("target already has a pending invitation")

// outcome is the terminal value delivered exactly once to the caller that
// issued an invitation.
type outcome struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// pendingInvite is one outstanding consent request directed at a target user.
// done is buffered so the resolving side never blocks; whoever removes the
// entry from the table owns the single send.
type pendingInvite struct {
	targetUserId    string
	requesterUserId string
	createdAt       time.Time
	done            chan outcome
	timer           *time.Timer
}

func newPendingInvite(targetUserId, requesterUserId string) *pendingInvite {
	return &pendingInvite{
		targetUserId:    targetUserId,
		requesterUserId: requesterUserId,
		createdAt:       time.Now(),
		done:            make(chan outcome, 1),
	}
}

// pendingTable holds at most one outstanding invitation per target user.
// Lookup and removal happen under one lock so the reply path and the timeout
// path always observe a consistent entry-present/absent view; removal is what
// makes resolution exactly-once.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingInvite
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingInvite)}
}

// insert registers p unless its target already has a pending invitation.
func (t *pendingTable) insert(p *pendingInvite) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[p.targetUserId]; ok {
		return ErrAlreadyPending
	}
	t.entries[p.targetUserId] = p
	return nil
}

// claim removes and returns the entry for targetUserId if its stored
// requester matches. A mismatched requester (stale or forged reply) leaves
// the entry untouched.
func (t *pendingTable) claim(targetUserId, requesterUserId string) (*pendingInvite, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[targetUserId]
	if !ok || p.requesterUserId != requesterUserId {
		return nil, false
	}
	delete(t.entries, targetUserId)
	return p, true
}

// expire removes p only if it is still the registered entry for its target.
// The identity check keeps a stale timer from removing a newer invitation
// that reused the same target after the original resolved.
func (t *pendingTable) expire(p *pendingInvite) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[p.targetUserId] != p {
		return false
	}
	delete(t.entries, p.targetUserId)
	return true
}

// drain removes and returns every entry. Used at shutdown so no caller hangs.
func (t *pendingTable) drain() []*pendingInvite {
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := make([]*pendingInvite, 0, len(t.entries))
	for _, p := range t.entries {
		drained = append(drained, p)
	}
	t.entries = make(map[string]*pendingInvite)
	return drained
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
