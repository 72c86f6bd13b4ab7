package main

import (
	"context"
	"time"
)

// Outcome messages surfaced to the requesting caller.
const (
	msgUnreachable = "User is not created or connected."
	msgTimeout     = "The request reached timeout."
	msgAccepted    = "User accepted the request."
	msgDeclined    = "User did not accept the request."
	msgBusy        = "User already has a pending request."
	msgShutdown    = "Server is shutting down."
)

// dispatcher pushes one event to a single live connection.
type dispatcher interface {
	Dispatch(ctx context.Context, userId, connId, event string, payload any) error
}

// coordinator runs the invitation state machine for one invitation audience:
// solicit, wait for reply or timeout, resolve the suspended caller.
// Chat and group invitations differ only in payload
// and in what the domain layer does after acceptance, so each gets its own
// coordinator instance over a shared implementation, with independent tables
// (a chat invite and a group invite to the same target may coexist).
type coordinator struct {
	reg      *registry
	table    *pendingTable
	dispatch dispatcher
	event    string
	timeout  time.Duration
}

func newCoordinator(reg *registry, d dispatcher, event string, timeout time.Duration) *coordinator {
	return &coordinator{
		reg:      reg,
		table:    newPendingTable(),
		dispatch: d,
		event:    event,
		timeout:  timeout,
	}
}

// Solicit pushes payload to targetUserId's connection and blocks the caller
// until the target replies, the timeout fires, or the coordinator shuts down.
// The returned outcome is delivered exactly once: every resolution path must
// first remove the table entry, and only the remover sends on done.
func (c *coordinator) Solicit(ctx context.Context, targetUserId, requesterUserId string, payload any) outcome {
	connId, ok := c.reg.lookup(targetUserId)
	if !ok {
		return outcome{Accepted: false, Message: msgUnreachable}
	}

	p := newPendingInvite(targetUserId, requesterUserId)
	p.timer = time.AfterFunc(c.timeout, func() {
		if c.table.expire(p) {
			p.done <- outcome{Accepted: false, Message: msgTimeout}
		}
	})
	if err := c.table.insert(p); err != nil {
		p.timer.Stop()
		return outcome{Accepted: false, Message: msgBusy}
	}

	// Presence was re-resolved at send time; a failed push means the target
	// is gone, so resolve as unreachable rather than leaving the entry to
	// idle out. If a reply somehow won the race, honor it instead.
	if err := c.dispatch.Dispatch(ctx, targetUserId, connId, c.event, payload); err != nil {
		if c.table.expire(p) {
			p.timer.Stop()
			return outcome{Accepted: false, Message: msgUnreachable}
		}
		return <-p.done
	}

	return <-p.done
}

// HandleReply resolves the pending invitation for targetUserId when the
// reply's requester matches the stored one. Mismatched, duplicate, and
// stale replies are dropped without touching the table.
func (c *coordinator) HandleReply(targetUserId, requesterUserId string, accepted bool) bool {
	p, ok := c.table.claim(targetUserId, requesterUserId)
	if !ok {
		return false
	}
	p.timer.Stop()
	msg := msgDeclined
	if accepted {
		msg = msgAccepted
	}
	p.done <- outcome{Accepted: accepted, Message: msg}
	return true
}

// Close resolves every pending invitation with a shutdown outcome so no
// caller hangs through process teardown.
func (c *coordinator) Close() {
	for _, p := range c.table.drain() {
		p.timer.Stop()
		p.done <- outcome{Accepted: false, Message: msgShutdown}
	}
}

// pendingCount reports outstanding invitations, for the observability gauge.
func (c *coordinator) pendingCount() int {
	return c.table.len()
}
