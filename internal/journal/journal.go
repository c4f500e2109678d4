// Package journal persists terminal delivery outcomes to storage by
// listening on the event bus. It is passive: losing the journal never
// affects delivery itself.
package journal

import (
	"context"
	"sync"
	"time"

	"remindbot/internal/delivery/event"
	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

const (
	subscribeBuffer = 256
	writeTimeout    = 250 * time.Millisecond
)

// Journal subscribes to delivery events and appends a record for each
// terminal outcome: a successful send, or a failure with no retry left.
type Journal struct {
	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus

	mu     sync.Mutex
	unsub  func()
	done   chan struct{}
	cancel context.CancelFunc
}

func New(store storage.Store, bus eventbus.Bus, log logx.Logger) *Journal {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Journal{log: log, store: store, bus: bus}
}

// Start begins consuming events. No-op when storage is disabled or the
// journal is already running.
func (j *Journal) Start(ctx context.Context) {
	if j.store == nil || j.bus == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done != nil {
		return
	}

	lctx, cancel := context.WithCancel(ctx)
	ch, unsub := j.bus.Subscribe(subscribeBuffer)
	done := make(chan struct{})
	j.unsub = unsub
	j.done = done
	j.cancel = cancel

	go func() {
		defer close(done)
		j.loop(lctx, ch)
	}()
}

// Stop unsubscribes and waits for the consumer to drain, best-effort
// until ctx expires.
func (j *Journal) Stop(ctx context.Context) {
	j.mu.Lock()
	unsub, done, cancel := j.unsub, j.done, j.cancel
	j.unsub, j.done, j.cancel = nil, nil, nil
	j.mu.Unlock()
	if done == nil {
		return
	}

	if unsub != nil {
		unsub()
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (j *Journal) loop(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			j.handle(ctx, ev)
		}
	}
}

func (j *Journal) handle(ctx context.Context, ev eventbus.Event) {
	if ev.Type != event.Sent && ev.Type != event.Error {
		return
	}
	p, ok := ev.Data.(event.Payload)
	if !ok || p.Notification.ID == "" {
		return
	}
	n := p.Notification
	// Transient failures re-enter the retry queue; only record the end of
	// the road.
	if ev.Type == event.Error && !n.Terminal() {
		return
	}

	rec := storage.DeliveryRecord{
		At:             ev.Time,
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		ScopeID:        n.ScopeID,
		Priority:       n.Priority.String(),
		Status:         string(n.Status),
		RetryCount:     n.RetryCount,
		Error:          p.Error,
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := j.store.AppendDelivery(wctx, rec); err != nil {
		j.log.Warn("journal append failed",
			logx.String("notification_id", n.ID),
			logx.Err(err))
	}
}

// Recent returns the newest records, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]storage.DeliveryRecord, error) {
	if j.store == nil {
		return nil, storage.ErrDisabled
	}
	return j.store.RecentDeliveries(ctx, limit)
}
