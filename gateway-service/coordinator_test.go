package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type dispatchCall struct {
	userId  string
	connId  string
	event   string
	payload any
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, userId, connId, event string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatchCall{userId: userId, connId: connId, event: event, payload: payload})
	return nil
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func waitPending(t *testing.T, c *coordinator, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.pendingCount() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Pending count never reached %d (got %d)", want, c.pendingCount())
}

func solicitAsync(c *coordinator, target, requester string) chan outcome {
	out := make(chan outcome, 1)
	go func() {
		out <- c.Solicit(context.Background(), target, requester, ChatInviteEvent{FromUserId: requester})
	}()
	return out
}

func TestSolicit_UnreachableTarget(t *testing.T) {
	reg := newRegistry()
	d := &fakeDispatcher{}
	c := newCoordinator(reg, d, "chat.invite", time.Second)

	out := c.Solicit(context.Background(), "bob", "alice", ChatInviteEvent{FromUserId: "alice"})

	if out.Accepted {
		t.Error("Expected rejection for unreachable target")
	}
	if out.Message != msgUnreachable {
		t.Errorf("Expected %q, got %q", msgUnreachable, out.Message)
	}
	if c.pendingCount() != 0 {
		t.Error("Expected no table entry for an unreachable target")
	}
	if d.callCount() != 0 {
		t.Error("Expected no dispatch for an unreachable target")
	}
}

func TestSolicit_AcceptedReply(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	d := &fakeDispatcher{}
	c := newCoordinator(reg, d, "chat.invite", time.Second)

	outCh := solicitAsync(c, "bob", "alice")
	waitPending(t, c, 1)

	if !c.HandleReply("bob", "alice", true) {
		t.Fatal("Expected reply to resolve the pending invitation")
	}

	out := <-outCh
	if !out.Accepted || out.Message != msgAccepted {
		t.Errorf("Expected accepted outcome, got %+v", out)
	}
	if c.pendingCount() != 0 {
		t.Error("Expected table entry to be removed on resolution")
	}
	if d.callCount() != 1 {
		t.Errorf("Expected exactly one dispatch, got %d", d.callCount())
	}

	// A duplicate reply after resolution has no observable effect.
	if c.HandleReply("bob", "alice", false) {
		t.Error("Expected duplicate reply to be dropped")
	}
}

func TestSolicit_DeclinedReply(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	c := newCoordinator(reg, &fakeDispatcher{}, "chat.invite", time.Second)

	outCh := solicitAsync(c, "bob", "alice")
	waitPending(t, c, 1)
	c.HandleReply("bob", "alice", false)

	out := <-outCh
	if out.Accepted {
		t.Error("Expected declined outcome")
	}
	if out.Message != msgDeclined {
		t.Errorf("Expected %q, got %q", msgDeclined, out.Message)
	}
}

func TestSolicit_Timeout(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	c := newCoordinator(reg, &fakeDispatcher{}, "chat.invite", 30*time.Millisecond)

	out := c.Solicit(context.Background(), "bob", "alice", ChatInviteEvent{FromUserId: "alice"})

	if out.Accepted {
		t.Error("Expected rejection on timeout")
	}
	if out.Message != msgTimeout {
		t.Errorf("Expected %q, got %q", msgTimeout, out.Message)
	}
	if c.pendingCount() != 0 {
		t.Error("Expected table entry to be removed on timeout")
	}
}

func TestSolicit_MismatchedRequesterDoesNotResolve(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	c := newCoordinator(reg, &fakeDispatcher{}, "chat.invite", time.Second)

	outCh := solicitAsync(c, "bob", "alice")
	waitPending(t, c, 1)

	if c.HandleReply("bob", "mallory", true) {
		t.Fatal("Expected reply with wrong requester to be dropped")
	}
	if c.pendingCount() != 1 {
		t.Fatal("Expected invitation to remain pending after mismatched reply")
	}
	select {
	case out := <-outCh:
		t.Fatalf("Expected caller to stay suspended, got %+v", out)
	case <-time.After(50 * time.Millisecond):
	}

	c.HandleReply("bob", "alice", true)
	if out := <-outCh; !out.Accepted {
		t.Errorf("Expected matching reply to resolve accepted, got %+v", out)
	}
}

func TestSolicit_SecondSolicitationRejected(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	c := newCoordinator(reg, &fakeDispatcher{}, "chat.invite", time.Second)

	outCh := solicitAsync(c, "bob", "alice")
	waitPending(t, c, 1)

	second := c.Solicit(context.Background(), "bob", "carol", ChatInviteEvent{FromUserId: "carol"})
	if second.Accepted || second.Message != msgBusy {
		t.Errorf("Expected busy rejection for second solicitation, got %+v", second)
	}

	// The first caller is unaffected and still resolves normally.
	c.HandleReply("bob", "alice", true)
	if out := <-outCh; !out.Accepted {
		t.Errorf("Expected first solicitation to resolve accepted, got %+v", out)
	}
}

func TestSolicit_DispatchFailureResolvesUnreachable(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	d := &fakeDispatcher{err: errors.New("connection closed")}
	c := newCoordinator(reg, d, "chat.invite", time.Second)

	out := c.Solicit(context.Background(), "bob", "alice", ChatInviteEvent{FromUserId: "alice"})

	if out.Accepted || out.Message != msgUnreachable {
		t.Errorf("Expected unreachable outcome on dispatch failure, got %+v", out)
	}
	if c.pendingCount() != 0 {
		t.Error("Expected no entry left behind after dispatch failure")
	}
}

func TestClose_ResolvesPendingCallers(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	reg.connect("carol", "c2")
	c := newCoordinator(reg, &fakeDispatcher{}, "chat.invite", time.Minute)

	first := solicitAsync(c, "bob", "alice")
	second := solicitAsync(c, "carol", "alice")
	waitPending(t, c, 2)

	c.Close()

	for _, ch := range []chan outcome{first, second} {
		out := <-ch
		if out.Accepted || out.Message != msgShutdown {
			t.Errorf("Expected shutdown outcome, got %+v", out)
		}
	}
	if c.pendingCount() != 0 {
		t.Error("Expected empty table after Close")
	}
}

func TestSolicit_ReplyVsTimeoutResolvesExactlyOnce(t *testing.T) {
	reg := newRegistry()
	reg.connect("bob", "c1")
	c := newCoordinator(reg, &fakeDispatcher{}, "chat.invite", 5*time.Millisecond)

	// Race the reply path against the timeout repeatedly; each solicitation
	// must resolve exactly once, with either terminal outcome.
	for i := 0; i < 50; i++ {
		outCh := solicitAsync(c, "bob", "alice")
		go c.HandleReply("bob", "alice", true)

		out := <-outCh
		if out.Message != msgAccepted && out.Message != msgTimeout {
			t.Fatalf("Iteration %d: unexpected outcome %+v", i, out)
		}
		waitPending(t, c, 0)
	}
}
