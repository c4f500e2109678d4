// Package scheduler orders queued notifications into four priority buckets,
// fires recurring cron triggers, and drains batches to the dispatcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindbot/internal/delivery/dispatcher"
	"remindbot/internal/delivery/event"
	"remindbot/internal/eventbus"
	"remindbot/internal/notification"
	logx "remindbot/pkg/logx"
)

var (
	ErrAlreadyQueued = errors.New("scheduler: notification already queued")
	ErrNotStarted    = errors.New("scheduler: not started")
)

type Config struct {
	// MaxBatchSize caps how many notifications one drain tick dispatches.
	MaxBatchSize int
	// ProcessingInterval is the period of the batch drain loop.
	ProcessingInterval time.Duration
}

const (
	defaultMaxBatchSize       = 10
	defaultProcessingInterval = time.Second
	minProcessingInterval     = 10 * time.Millisecond
)

func (c *Config) validate() error {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.ProcessingInterval == 0 {
		c.ProcessingInterval = defaultProcessingInterval
	}
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("scheduler: max_batch_size must be >= 1, got %d", c.MaxBatchSize)
	}
	if c.ProcessingInterval < minProcessingInterval {
		return fmt.Errorf("scheduler: processing_interval must be >= %s, got %s",
			minProcessingInterval, c.ProcessingInterval)
	}
	return nil
}

// Sender dispatches one drained notification. Satisfied by *dispatcher.Dispatcher.
type Sender interface {
	Send(ctx context.Context, n *notification.Notification) dispatcher.Outcome
}

// Stats reports the current length of each priority bucket
// (retry-queue contents are not included).
type Stats struct {
	Urgent int `json:"urgent"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

func (s Stats) Total() int { return s.Urgent + s.High + s.Medium + s.Low }

// job binds a base notification to a recurring cron trigger. Jobs live in
// memory only and are destroyed on cancel or shutdown.
type job struct {
	id      string
	entryID cron.EntryID
	base    *notification.Notification
	spec    string
}

// Scheduler is the batch orchestration core.
//
// Priority ordering is guaranteed within a single drain tick; notifications
// queued mid-tick are picked up on the next one. Safe for concurrent use.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	// One FIFO bucket per priority, indexed by notification.Priority.
	buckets [4][]*notification.Notification

	parser cron.Parser
	cron   *cron.Cron
	jobs   map[string]*job

	sender Sender
	bus    eventbus.Bus
	log    logx.Logger

	started bool
	now     func() time.Time
}

func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cfg:    cfg,
		parser: parser,
		cron:   cron.New(cron.WithParser(parser)),
		jobs:   map[string]*job{},
		sender: sender,
		bus:    bus,
		log:    log,
		now:    time.Now,
	}, nil
}

// Apply swaps the batch knobs at runtime. Recurring triggers are unaffected.
func (s *Scheduler) Apply(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Start begins firing recurring triggers. The batch drain loop runs
// separately via Run.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("scheduler started",
		logx.Int("max_batch_size", s.cfg.MaxBatchSize),
		logx.Duration("interval", s.cfg.ProcessingInterval))
}

// Stop halts recurring triggers and destroys all scheduled jobs.
// Queued bucket contents stay queued (they drain if Run keeps running).
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	// Remove the cron entries too: a later Start reuses the same cron, and
	// orphaned entries would keep firing into jobs that no longer exist.
	for _, j := range s.jobs {
		s.cron.Remove(j.entryID)
	}
	s.jobs = map[string]*job{}
	c := s.cron
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// QueueNotification appends n to the bucket for its priority.
//
// Malformed notifications and double-queueing are programmer errors and are
// rejected synchronously.
func (s *Scheduler) QueueNotification(n *notification.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if n.Location != notification.LocationNone {
		s.mu.Unlock()
		return ErrAlreadyQueued
	}
	n.Location = notification.LocationBatch
	s.buckets[n.Priority] = append(s.buckets[n.Priority], n)
	s.mu.Unlock()

	s.publishNotification(event.Queued, n, 0)
	return nil
}

// ScheduleRecurring registers a cron trigger that queues a fresh occurrence
// of n on every firing. It returns the job id used for cancellation.
func (s *Scheduler) ScheduleRecurring(n *notification.Notification, cronSpec string) (string, error) {
	if err := n.Validate(); err != nil {
		return "", err
	}
	sched, err := s.parser.Parse(cronSpec)
	if err != nil {
		return "", fmt.Errorf("scheduler: invalid cron spec %q: %w", cronSpec, err)
	}

	id := uuid.NewString()
	s.mu.Lock()
	entryID := s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(id) }))
	s.jobs[id] = &job{id: id, entryID: entryID, base: n, spec: cronSpec}
	s.mu.Unlock()

	s.publishNotification(event.Scheduled, n, 0)
	s.log.Debug("recurring notification scheduled",
		logx.String("job", id), logx.String("spec", cronSpec),
		logx.String("recipient", n.RecipientID))
	return id, nil
}

// CancelScheduled stops future firings of the job. It has no effect on an
// occurrence already queued or mid-dispatch. Returns false for unknown ids
// (e.g. already cancelled).
func (s *Scheduler) CancelScheduled(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.jobs, id)
	s.cron.Remove(j.entryID)
	j.base.Status = notification.StatusCancelled
	s.mu.Unlock()

	s.publishNotification(event.Cancelled, j.base, 0)
	s.log.Debug("scheduled notification cancelled", logx.String("job", id))
	return true
}

// fire queues one fresh occurrence of a recurring job. Each occurrence gets
// its own identity so retry accounting never carries across firings.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	occ := j.base.CloneForOccurrence(s.now())
	if err := s.QueueNotification(occ); err != nil {
		s.log.Warn("recurring occurrence not queued",
			logx.String("job", id), logx.Err(err))
	}
}

// Run executes the batch drain loop until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		interval := s.cfg.ProcessingInterval
		s.mu.Unlock()

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		case <-t.C:
			s.DrainOnce(ctx)
		}
	}
}

// DrainOnce drains up to MaxBatchSize due notifications, visiting buckets
// urgent first and FIFO within a bucket, and dispatches them sequentially
// so side effects keep priority order. Returns the drained count.
func (s *Scheduler) DrainOnce(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	limit := s.cfg.MaxBatchSize
	batch := make([]*notification.Notification, 0, limit)
	for p := notification.PriorityUrgent; p >= notification.PriorityLow && len(batch) < limit; p-- {
		bucket := s.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		kept := bucket[:0]
		for i, n := range bucket {
			if len(batch) >= limit {
				kept = append(kept, bucket[i:]...)
				break
			}
			if !n.Due(now) {
				kept = append(kept, n)
				continue
			}
			n.Location = notification.LocationNone
			batch = append(batch, n)
		}
		// Zero the tail so drained pointers don't linger in the backing array.
		for i := len(kept); i < len(bucket); i++ {
			bucket[i] = nil
		}
		s.buckets[p] = kept
	}
	s.mu.Unlock()

	s.publishBatch(event.BatchProcessing, len(batch))
	for _, n := range batch {
		if ctx.Err() != nil {
			// Shutting down mid-batch: put the rest back for the next run.
			if err := s.QueueNotification(n); err != nil {
				s.log.Warn("requeue during shutdown failed", logx.String("id", n.ID), logx.Err(err))
			}
			continue
		}
		s.sender.Send(ctx, n)
	}
	s.publishBatch(event.BatchCompleted, len(batch))

	if len(batch) > 0 {
		s.log.Debug("batch drained", logx.Int("count", len(batch)))
	}
	return len(batch)
}

// QueueStats returns the current bucket lengths.
func (s *Scheduler) QueueStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Urgent: len(s.buckets[notification.PriorityUrgent]),
		High:   len(s.buckets[notification.PriorityHigh]),
		Medium: len(s.buckets[notification.PriorityMedium]),
		Low:    len(s.buckets[notification.PriorityLow]),
	}
}

// ScheduledCount returns the number of live recurring jobs.
func (s *Scheduler) ScheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// SetNow overrides the clock. Test hook.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Scheduler) publishNotification(typ string, n *notification.Notification, retryAfter time.Duration) {
	if s.bus == nil {
		return
	}
	now := s.now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: event.Payload{
		Notification: *n,
		RetryAfter:   retryAfter,
		At:           now,
	}})
}

func (s *Scheduler) publishBatch(typ string, drained int) {
	if s.bus == nil {
		return
	}
	now := s.now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: event.BatchPayload{
		Drained: drained,
		At:      now,
	}})
}
