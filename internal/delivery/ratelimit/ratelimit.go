// Package ratelimit implements per-scope admission control for outbound
// notifications using a fixed window counter.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config bounds outbound throughput per scope.
//
// RequestsPerSecond is the per-window cap; the name is historical, the unit
// is "requests per window".
type Config struct {
	RequestsPerSecond int
	Window            time.Duration
}

const (
	minRequestsPerWindow = 1
	maxRequestsPerWindow = 100
	minWindow            = 100 * time.Millisecond
)

func (c Config) validate() error {
	if c.RequestsPerSecond < minRequestsPerWindow || c.RequestsPerSecond > maxRequestsPerWindow {
		return fmt.Errorf("ratelimit: requests_per_second must be in [%d,%d], got %d",
			minRequestsPerWindow, maxRequestsPerWindow, c.RequestsPerSecond)
	}
	if c.Window < minWindow {
		return fmt.Errorf("ratelimit: window must be >= %s, got %s", minWindow, c.Window)
	}
	return nil
}

// state is one scope's live window. Ephemeral, in-memory.
type state struct {
	windowStart  time.Time
	requestCount int
	lastRequest  time.Time
}

// Limiter tracks per-scope request counts in fixed windows.
//
// It is a pure decision function plus internal counters: Admit has no side
// effects, quota is consumed by RecordSuccess after a delivery succeeds.
// Safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	scopes map[string]*state

	now func() time.Time
}

// New validates cfg and builds a limiter. Invalid configuration is a
// construction error, not a runtime one.
func New(cfg Config) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		cfg:    cfg,
		scopes: map[string]*state{},
		now:    time.Now,
	}, nil
}

// Apply swaps the limiter configuration at runtime. Live windows keep their
// start time; the new cap takes effect immediately.
func (l *Limiter) Apply(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// Admit reports whether one more send is allowed for the scope right now.
// A scope with no state, or whose window has elapsed, is never limited.
func (l *Limiter) Admit(scopeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.scopes[scopeID]
	if !ok {
		return true
	}
	now := l.now()
	if now.Sub(st.windowStart) > l.cfg.Window {
		return true
	}
	return st.requestCount < l.cfg.RequestsPerSecond
}

// RecordSuccess consumes one unit of quota for the scope. A fresh or elapsed
// window restarts with a count of one.
func (l *Limiter) RecordSuccess(scopeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, ok := l.scopes[scopeID]
	if !ok || now.Sub(st.windowStart) > l.cfg.Window {
		l.scopes[scopeID] = &state{windowStart: now, requestCount: 1, lastRequest: now}
		return
	}
	st.requestCount++
	st.lastRequest = now
}

// RetryAfter returns how long the scope must wait for its window to elapse.
// Zero means the scope may send immediately.
func (l *Limiter) RetryAfter(scopeID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.scopes[scopeID]
	if !ok {
		return 0
	}
	d := st.windowStart.Add(l.cfg.Window).Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

// Reset drops all per-scope state. Intended for tests and full restarts.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.scopes = map[string]*state{}
	l.mu.Unlock()
}

// SetNow overrides the clock. Test hook.
func (l *Limiter) SetNow(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}
