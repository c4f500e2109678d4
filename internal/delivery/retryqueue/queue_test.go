package retryqueue

import (
	"errors"
	"testing"

	"remindbot/internal/delivery/event"
	"remindbot/internal/eventbus"
	"remindbot/internal/notification"
)

func testNotification(scope string) *notification.Notification {
	n := notification.New("chan-1", scope, notification.Content{Message: "m"})
	n.MaxRetries = 3
	return n
}

func TestEnqueueFIFOAndBudget(t *testing.T) {
	t.Parallel()
	q := New(nil)

	a := testNotification("s")
	b := testNotification("s")
	if err := q.Enqueue(a); err != nil {
		t.Fatalf("Enqueue(a): %v", err)
	}
	if err := q.Enqueue(b); err != nil {
		t.Fatalf("Enqueue(b): %v", err)
	}
	if a.RetryCount != 1 || b.RetryCount != 1 {
		t.Fatalf("retry counts = %d,%d, want 1,1", a.RetryCount, b.RetryCount)
	}
	if a.Location != notification.LocationRetry {
		t.Fatalf("a.Location = %v, want retry", a.Location)
	}

	if got := q.RemoveHead("s"); got != a {
		t.Fatalf("RemoveHead = %v, want a", got)
	}
	if a.Location != notification.LocationNone {
		t.Fatalf("popped head keeps location %v", a.Location)
	}
	if got := q.RemoveHead("s"); got != b {
		t.Fatalf("RemoveHead = %v, want b", got)
	}
	if !q.IsEmpty("s") {
		t.Fatal("queue should be empty")
	}
	if got := q.RemoveHead("s"); got != nil {
		t.Fatalf("RemoveHead on empty queue = %v, want nil", got)
	}
}

func TestEnqueueRejectsExhaustedBudget(t *testing.T) {
	t.Parallel()
	q := New(nil)

	n := testNotification("s")
	n.RetryCount = n.MaxRetries
	if err := q.Enqueue(n); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("Enqueue = %v, want ErrBudgetExhausted", err)
	}
	if !q.IsEmpty("s") {
		t.Fatal("nothing may be queued when the budget is spent")
	}
}

func TestEnqueueRejectsDoubleMembership(t *testing.T) {
	t.Parallel()
	q := New(nil)

	n := testNotification("s")
	if err := q.Enqueue(n); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(n); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("second Enqueue = %v, want ErrAlreadyQueued", err)
	}

	n2 := testNotification("s")
	n2.Location = notification.LocationBatch
	if err := q.Enqueue(n2); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("Enqueue of bucket member = %v, want ErrAlreadyQueued", err)
	}
}

func TestRequeueDoesNotBurnBudget(t *testing.T) {
	t.Parallel()
	q := New(nil)

	a := testNotification("s")
	b := testNotification("s")
	if err := q.Enqueue(a); err != nil {
		t.Fatalf("Enqueue(a): %v", err)
	}
	if err := q.Enqueue(b); err != nil {
		t.Fatalf("Enqueue(b): %v", err)
	}

	head := q.RemoveHead("s")
	count := head.RetryCount
	if err := q.Requeue(head); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if head.RetryCount != count {
		t.Fatalf("Requeue changed RetryCount %d -> %d", count, head.RetryCount)
	}
	// Requeue puts the entry back at the head, keeping FIFO order.
	if got := q.PeekHead("s"); got != a {
		t.Fatalf("PeekHead = %v, want a back at the front", got)
	}
}

func TestScopeIsolationAndDepths(t *testing.T) {
	t.Parallel()
	q := New(nil)

	if err := q.Enqueue(testNotification("s1")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(testNotification("s1")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(testNotification("s2")); err != nil {
		t.Fatal(err)
	}

	if got := q.Len("s1"); got != 2 {
		t.Fatalf("Len(s1) = %d, want 2", got)
	}
	if got := q.Len("s2"); got != 1 {
		t.Fatalf("Len(s2) = %d, want 1", got)
	}
	if got := len(q.Scopes()); got != 2 {
		t.Fatalf("Scopes() = %d entries, want 2", got)
	}

	q.RemoveHead("s2")
	// Emptied scope entries are deleted outright.
	if got := q.Depths(); len(got) != 1 || got["s1"] != 2 {
		t.Fatalf("Depths() = %v, want map[s1:2]", got)
	}
}

func TestEnqueueEmitsQueuedEvent(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	q := New(bus)
	n := testNotification("s")
	if err := q.Enqueue(n); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ev := <-ch
	if ev.Type != event.Queued {
		t.Fatalf("event type = %q, want %q", ev.Type, event.Queued)
	}
	p, ok := ev.Data.(event.Payload)
	if !ok || p.Notification.ID != n.ID {
		t.Fatalf("unexpected payload: %#v", ev.Data)
	}
	// The payload is a snapshot, not the live object: mutating the queued
	// notification afterwards must not show up in the event.
	if p.Notification.RetryCount != 1 {
		t.Fatalf("snapshot RetryCount = %d, want 1", p.Notification.RetryCount)
	}
	n.RetryCount = 99
	if p.Notification.RetryCount != 1 {
		t.Fatal("payload must not alias the live notification")
	}
}
