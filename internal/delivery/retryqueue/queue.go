// Package retryqueue holds per-scope FIFO queues of notifications that
// failed transiently or were denied admission by the rate limiter.
package retryqueue

import (
	"errors"
	"sync"
	"time"

	"remindbot/internal/delivery/event"
	"remindbot/internal/eventbus"
	"remindbot/internal/notification"
)

var (
	// ErrBudgetExhausted means retryCount already reached maxRetries; the
	// caller must mark the notification terminally failed instead.
	ErrBudgetExhausted = errors.New("retryqueue: retry budget exhausted")

	// ErrAlreadyQueued means the notification is sitting in another queue.
	// Enqueueing it twice would risk duplicate dispatch.
	ErrAlreadyQueued = errors.New("retryqueue: notification already queued")
)

// Queue is a set of strictly-FIFO retry queues keyed by scope.
//
// Only the head of a scope's queue is attempted per processing tick, which
// preserves ordering and avoids flooding a still-limited scope. A scope's
// queue is deleted once emptied. Safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	scopes map[string][]*notification.Notification

	bus eventbus.Bus
}

func New(bus eventbus.Bus) *Queue {
	return &Queue{
		scopes: map[string][]*notification.Notification{},
		bus:    bus,
	}
}

// Enqueue appends n to the tail of its scope's queue and consumes one unit
// of retry budget. It refuses notifications that are already queued
// elsewhere or whose budget is spent.
func (q *Queue) Enqueue(n *notification.Notification) error {
	q.mu.Lock()
	if n.Location != notification.LocationNone {
		q.mu.Unlock()
		return ErrAlreadyQueued
	}
	if n.RetryCount >= n.MaxRetries {
		q.mu.Unlock()
		return ErrBudgetExhausted
	}
	n.RetryCount++
	n.Location = notification.LocationRetry
	q.scopes[n.ScopeID] = append(q.scopes[n.ScopeID], n)
	snap := *n // snapshot while still under the lock
	q.mu.Unlock()

	q.publish(event.Queued, snap)
	return nil
}

// Requeue puts a popped head back at the front of its scope's queue WITHOUT
// consuming retry budget. Used when an in-flight retry attempt is denied
// admission again: the denial is flow control, not a failed attempt.
func (q *Queue) Requeue(n *notification.Notification) error {
	q.mu.Lock()
	if n.Location != notification.LocationNone {
		q.mu.Unlock()
		return ErrAlreadyQueued
	}
	n.Location = notification.LocationRetry
	q.scopes[n.ScopeID] = append([]*notification.Notification{n}, q.scopes[n.ScopeID]...)
	q.mu.Unlock()
	return nil
}

// PeekHead returns the head of the scope's queue without removing it,
// or nil if the queue is empty.
func (q *Queue) PeekHead(scopeID string) *notification.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.scopes[scopeID]
	if len(entries) == 0 {
		return nil
	}
	return entries[0]
}

// RemoveHead pops and returns the head of the scope's queue, clearing its
// location tag. The scope entry is dropped entirely once emptied.
func (q *Queue) RemoveHead(scopeID string) *notification.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.scopes[scopeID]
	if len(entries) == 0 {
		return nil
	}
	head := entries[0]
	if len(entries) == 1 {
		delete(q.scopes, scopeID)
	} else {
		q.scopes[scopeID] = entries[1:]
	}
	head.Location = notification.LocationNone
	return head
}

func (q *Queue) IsEmpty(scopeID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scopes[scopeID]) == 0
}

func (q *Queue) Len(scopeID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.scopes[scopeID])
}

// Scopes returns the ids of all scopes with pending retries.
func (q *Queue) Scopes() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.scopes))
	for id := range q.scopes {
		out = append(out, id)
	}
	return out
}

// Depths returns the queue length per scope, for diagnostics.
func (q *Queue) Depths() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.scopes))
	for id, entries := range q.scopes {
		out[id] = len(entries)
	}
	return out
}

func (q *Queue) publish(typ string, snap notification.Notification) {
	if q.bus == nil {
		return
	}
	now := time.Now()
	q.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: event.Payload{
		Notification: snap,
		Error:        snap.Err,
		At:           now,
	}})
}
