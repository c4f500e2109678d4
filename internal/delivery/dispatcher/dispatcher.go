// Package dispatcher performs delivery attempts, classifies their outcomes
// and feeds the rate limiter and retry queue.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/delivery/event"
	"remindbot/internal/delivery/ratelimit"
	"remindbot/internal/delivery/retryqueue"
	"remindbot/internal/eventbus"
	"remindbot/internal/notification"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

// Outcome is the result of one Send call. Rate limiting and retryable
// failures are expected flow control, not errors.
type Outcome int

const (
	OutcomeSent Outcome = iota
	OutcomeRateLimited
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeRetryable:
		return "failed_retryable"
	case OutcomeFatal:
		return "failed_fatal"
	default:
		return "unknown"
	}
}

type Config struct {
	// DeliveryTimeout bounds one transport call. A timed-out delivery is
	// classified retryable.
	DeliveryTimeout time.Duration
}

// Counters is a point-in-time view of dispatch totals.
type Counters struct {
	Sent        uint64 `json:"sent"`
	Retryable   uint64 `json:"retryable"`
	Fatal       uint64 `json:"fatal"`
	RateLimited uint64 `json:"rate_limited"`
}

// Dispatcher serializes all rate-limiter mutation and retry-queue
// pop-then-dispatch sequences per scope, so two concurrent sends for the
// same scope can never interleave between admission check and quota
// consumption. Safe for concurrent use.
type Dispatcher struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	transport transport.Transport
	limiter   *ratelimit.Limiter
	retries   *retryqueue.Queue

	lmu        sync.Mutex
	scopeLocks map[string]*sync.Mutex

	sent        atomic.Uint64
	retryableN  atomic.Uint64
	fatal       atomic.Uint64
	rateLimited atomic.Uint64

	now func() time.Time
}

func New(cfg Config, tr transport.Transport, lim *ratelimit.Limiter, rq *retryqueue.Queue, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		transport:  tr,
		limiter:    lim,
		retries:    rq,
		scopeLocks: map[string]*sync.Mutex{},
		now:        time.Now,
	}
}

// Send runs one delivery attempt for n, holding the scope lock across the
// whole admit -> deliver -> record sequence.
func (d *Dispatcher) Send(ctx context.Context, n *notification.Notification) Outcome {
	lock := d.scopeLock(n.ScopeID)
	lock.Lock()
	defer lock.Unlock()
	return d.sendLocked(ctx, n, false)
}

// ProcessRetryQueue attempts the head of the scope's retry queue.
//
// It is a no-op when the queue is empty or the scope is still rate limited;
// only one entry is attempted per call to preserve FIFO order and avoid
// flooding a recovering scope.
func (d *Dispatcher) ProcessRetryQueue(ctx context.Context, scopeID string) {
	lock := d.scopeLock(scopeID)
	lock.Lock()
	defer lock.Unlock()

	if d.retries.IsEmpty(scopeID) {
		return
	}
	if !d.limiter.Admit(scopeID) {
		return
	}
	n := d.retries.RemoveHead(scopeID)
	if n == nil {
		return
	}
	d.sendLocked(ctx, n, true)
}

// Counters returns dispatch totals since construction.
func (d *Dispatcher) Counters() Counters {
	return Counters{
		Sent:        d.sent.Load(),
		Retryable:   d.retryableN.Load(),
		Fatal:       d.fatal.Load(),
		RateLimited: d.rateLimited.Load(),
	}
}

// SetNow overrides the clock. Test hook.
func (d *Dispatcher) SetNow(now func() time.Time) { d.now = now }

func (d *Dispatcher) scopeLock(scopeID string) *sync.Mutex {
	d.lmu.Lock()
	defer d.lmu.Unlock()
	l, ok := d.scopeLocks[scopeID]
	if !ok {
		l = &sync.Mutex{}
		d.scopeLocks[scopeID] = l
	}
	return l
}

// sendLocked is the send algorithm. The caller holds the scope lock.
// fromRetry marks attempts that were just popped off the retry queue: if
// such an attempt is denied admission it goes back to the queue head
// without consuming retry budget.
func (d *Dispatcher) sendLocked(ctx context.Context, n *notification.Notification, fromRetry bool) Outcome {
	// Sent is terminal and immutable; never re-dispatch.
	if n.Status == notification.StatusSent {
		d.log.Warn("dispatch of already-sent notification suppressed",
			logx.String("id", n.ID), logx.String("scope", n.ScopeID))
		return OutcomeSent
	}

	if !d.limiter.Admit(n.ScopeID) {
		return d.denied(n, fromRetry)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	err := d.transport.Deliver(callCtx, n.RecipientID, n.Content)
	cancel()

	if err == nil {
		sentAt := d.now()
		n.Status = notification.StatusSent
		n.SentAt = &sentAt
		n.Err = ""
		d.limiter.RecordSuccess(n.ScopeID)
		d.sent.Add(1)
		d.publish(event.Sent, n, 0)
		d.log.Debug("notification sent",
			logx.String("id", n.ID), logx.String("scope", n.ScopeID),
			logx.String("recipient", n.RecipientID))
		return OutcomeSent
	}

	n.Err = err.Error()
	if retryable(err) {
		n.Status = notification.StatusFailed
		if enqErr := d.retries.Enqueue(n); enqErr == nil {
			d.retryableN.Add(1)
			d.publish(event.Error, n, 0)
			d.log.Debug("transient delivery failure queued for retry",
				logx.String("id", n.ID), logx.String("scope", n.ScopeID),
				logx.Int("retry_count", n.RetryCount), logx.Err(err))
			return OutcomeRetryable
		}
	}

	// Fatal, unclassified, or out of retry budget: terminal failure.
	n.Status = notification.StatusFailed
	d.fatal.Add(1)
	d.publish(event.Error, n, 0)
	d.log.Warn("notification failed permanently",
		logx.String("id", n.ID), logx.String("scope", n.ScopeID),
		logx.Int("retry_count", n.RetryCount), logx.Err(err))
	return OutcomeFatal
}

func (d *Dispatcher) denied(n *notification.Notification, fromRetry bool) Outcome {
	retryAfter := d.limiter.RetryAfter(n.ScopeID)

	if fromRetry {
		// The head was popped under the same scope lock; putting it back
		// must not count as a failed attempt.
		if err := d.retries.Requeue(n); err != nil {
			d.log.Error("requeue after admission denial failed",
				logx.String("id", n.ID), logx.Err(err))
		}
		n.Status = notification.StatusRetry
		d.rateLimited.Add(1)
		d.publish(event.RateLimit, n, retryAfter)
		return OutcomeRateLimited
	}

	n.Status = notification.StatusRetry
	if err := d.retries.Enqueue(n); err != nil {
		// Budget exhausted: fail closed instead of queueing forever.
		n.Status = notification.StatusFailed
		n.Err = "rate limited: " + err.Error()
		d.fatal.Add(1)
		d.publish(event.Error, n, retryAfter)
		d.log.Warn("rate-limited notification dropped, retry budget exhausted",
			logx.String("id", n.ID), logx.String("scope", n.ScopeID))
		return OutcomeFatal
	}
	d.rateLimited.Add(1)
	d.publish(event.RateLimit, n, retryAfter)
	d.log.Debug("notification rate limited",
		logx.String("id", n.ID), logx.String("scope", n.ScopeID),
		logx.Duration("retry_after", retryAfter))
	return OutcomeRateLimited
}

func (d *Dispatcher) publish(typ string, n *notification.Notification, retryAfter time.Duration) {
	if d.bus == nil {
		return
	}
	now := d.now()
	// Snapshot under the scope lock; subscribers must never see later
	// mutations of the live object.
	d.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: event.Payload{
		Notification: *n,
		Error:        n.Err,
		RetryAfter:   retryAfter,
		At:           now,
	}})
}
