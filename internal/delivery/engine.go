// Package delivery composes the rate limiter, retry queue, priority
// scheduler and dispatcher into the notification delivery engine.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"remindbot/internal/delivery/dispatcher"
	"remindbot/internal/delivery/ratelimit"
	"remindbot/internal/delivery/retryqueue"
	"remindbot/internal/delivery/scheduler"
	"remindbot/internal/eventbus"
	"remindbot/internal/notification"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var ErrStopped = errors.New("delivery: engine not running")

type Config struct {
	RateLimit ratelimit.Config
	Scheduler scheduler.Config
	Dispatch  dispatcher.Config

	// RetryDrainInterval is the period of the retry-queue sweep. Each sweep
	// attempts at most the head entry per scope.
	RetryDrainInterval time.Duration
}

const defaultRetryDrainInterval = time.Second

// Stats is the engine's diagnostics snapshot.
type Stats struct {
	Buckets       scheduler.Stats     `json:"buckets"`
	RetryDepths   map[string]int      `json:"retry_depths"`
	ScheduledJobs int                 `json:"scheduled_jobs"`
	Counters      dispatcher.Counters `json:"counters"`
}

// Engine is the facade callers (command handlers, reminder services) use.
//
// All state is in-memory and lost on restart; the engine makes no
// exactly-once promises across process lifetimes.
type Engine struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	limiter *ratelimit.Limiter
	retries *retryqueue.Queue
	disp    *dispatcher.Dispatcher
	sched   *scheduler.Scheduler

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	running bool
}

func New(cfg Config, tr transport.Transport, bus eventbus.Bus, log logx.Logger) (*Engine, error) {
	if cfg.RetryDrainInterval <= 0 {
		cfg.RetryDrainInterval = defaultRetryDrainInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	retries := retryqueue.New(bus)
	disp := dispatcher.New(cfg.Dispatch, tr, limiter, retries, bus, log.With(logx.String("comp", "dispatcher")))
	sched, err := scheduler.New(cfg.Scheduler, disp, bus, log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		limiter: limiter,
		retries: retries,
		disp:    disp,
		sched:   sched,
	}, nil
}

// Start launches the batch drain and retry sweep loops. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	e.sched.Start()
	e.sup = rtsup.New(ctx,
		rtsup.WithLogger(e.log.With(logx.String("comp", "delivery"))),
		// Engine loops are best-effort; failures should not take down the app.
		rtsup.WithCancelOnError(false),
	)
	e.sup.GoRestart("batch.drain", func(c context.Context) error {
		e.sched.Run(c)
		return c.Err()
	})
	e.sup.GoRestart("retry.drain", func(c context.Context) error {
		e.retryLoop(c)
		return c.Err()
	})
	e.log.Info("delivery engine started",
		logx.Int("rate_cap", e.cfg.RateLimit.RequestsPerSecond),
		logx.Duration("rate_window", e.cfg.RateLimit.Window),
		logx.Duration("retry_drain", e.cfg.RetryDrainInterval))
}

// Stop halts recurring triggers, cancels the loops and waits best-effort
// until ctx expires. Queued and retrying notifications are dropped with the
// process; the queues are not durable logs.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	sup := e.sup
	e.sup = nil
	e.mu.Unlock()

	e.sched.Stop(ctx)
	if sup != nil {
		sup.Cancel()
		_ = sup.Wait(ctx)
	}
	e.log.Info("delivery engine stopped")
}

// SendNow validates n and runs one immediate delivery attempt, bypassing the
// priority buckets. Rate limiting and retryable failures surface as outcomes,
// not errors.
func (e *Engine) SendNow(ctx context.Context, n *notification.Notification) (dispatcher.Outcome, error) {
	if err := n.Validate(); err != nil {
		return dispatcher.OutcomeFatal, err
	}
	if !e.isRunning() {
		return dispatcher.OutcomeFatal, ErrStopped
	}
	return e.disp.Send(ctx, n), nil
}

// Enqueue validates n and appends it to the bucket for its priority; it is
// dispatched by a subsequent batch drain tick.
func (e *Engine) Enqueue(n *notification.Notification) error {
	if !e.isRunning() {
		return ErrStopped
	}
	return e.sched.QueueNotification(n)
}

// ScheduleRecurring registers a cron trigger that queues a fresh occurrence
// of n on every firing and returns the job id.
func (e *Engine) ScheduleRecurring(n *notification.Notification, cronSpec string) (string, error) {
	if !e.isRunning() {
		return "", ErrStopped
	}
	return e.sched.ScheduleRecurring(n, cronSpec)
}

// CancelScheduled stops future firings of a recurring job. No-op (false)
// for unknown ids; an occurrence already queued or mid-dispatch proceeds.
func (e *Engine) CancelScheduled(id string) bool {
	return e.sched.CancelScheduled(id)
}

// Stats returns a point-in-time diagnostics snapshot.
func (e *Engine) Stats() Stats {
	return Stats{
		Buckets:       e.sched.QueueStats(),
		RetryDepths:   e.retries.Depths(),
		ScheduledJobs: e.sched.ScheduledCount(),
		Counters:      e.disp.Counters(),
	}
}

// Apply swaps the hot-reloadable knobs (rate limit cap/window, batch size,
// processing interval). Structural settings require a restart.
func (e *Engine) Apply(cfg Config) error {
	if err := e.limiter.Apply(cfg.RateLimit); err != nil {
		return err
	}
	if err := e.sched.Apply(cfg.Scheduler); err != nil {
		return err
	}
	e.mu.Lock()
	if cfg.Dispatch != e.cfg.Dispatch {
		e.log.Warn("delivery timeout changed; restart required to take effect",
			logx.Duration("current", e.cfg.Dispatch.DeliveryTimeout),
			logx.Duration("requested", cfg.Dispatch.DeliveryTimeout))
	}
	if cfg.RetryDrainInterval > 0 && cfg.RetryDrainInterval != e.cfg.RetryDrainInterval {
		e.log.Warn("retry drain interval changed; restart required to take effect",
			logx.Duration("current", e.cfg.RetryDrainInterval),
			logx.Duration("requested", cfg.RetryDrainInterval))
	}
	e.cfg.RateLimit = cfg.RateLimit
	e.cfg.Scheduler = cfg.Scheduler
	e.mu.Unlock()
	return nil
}

// ProcessRetrySweep attempts the head of every scope's retry queue once.
// Exposed for callers that want an immediate sweep (tests, admin commands).
func (e *Engine) ProcessRetrySweep(ctx context.Context) {
	for _, scope := range e.retries.Scopes() {
		if ctx.Err() != nil {
			return
		}
		e.disp.ProcessRetryQueue(ctx, scope)
	}
}

func (e *Engine) retryLoop(ctx context.Context) {
	t := time.NewTicker(e.cfg.RetryDrainInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.ProcessRetrySweep(ctx)
		}
	}
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
