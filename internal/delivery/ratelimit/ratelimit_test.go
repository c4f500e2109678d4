package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()
	lim, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) error: %v", cfg, err)
	}
	now := time.Unix(1_700_000_000, 0)
	lim.SetNow(func() time.Time { return now })
	return lim, &now
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "ok", cfg: Config{RequestsPerSecond: 2, Window: time.Second}},
		{name: "min cap", cfg: Config{RequestsPerSecond: 1, Window: 100 * time.Millisecond}},
		{name: "max cap", cfg: Config{RequestsPerSecond: 100, Window: time.Minute}},
		{name: "zero cap", cfg: Config{RequestsPerSecond: 0, Window: time.Second}, wantErr: true},
		{name: "cap too high", cfg: Config{RequestsPerSecond: 101, Window: time.Second}, wantErr: true},
		{name: "window too small", cfg: Config{RequestsPerSecond: 2, Window: 99 * time.Millisecond}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
		})
	}
}

func TestAdmitWithinWindow(t *testing.T) {
	t.Parallel()
	lim, _ := newTestLimiter(t, Config{RequestsPerSecond: 2, Window: time.Second})

	if !lim.Admit("s1") {
		t.Fatal("fresh scope must be admitted")
	}
	lim.RecordSuccess("s1")
	if !lim.Admit("s1") {
		t.Fatal("second send within cap must be admitted")
	}
	lim.RecordSuccess("s1")
	if lim.Admit("s1") {
		t.Fatal("third send must be denied, cap is 2")
	}
}

func TestScopesAreIndependent(t *testing.T) {
	t.Parallel()
	lim, _ := newTestLimiter(t, Config{RequestsPerSecond: 1, Window: time.Second})

	lim.RecordSuccess("a")
	if lim.Admit("a") {
		t.Fatal("scope a should be limited")
	}
	if !lim.Admit("b") {
		t.Fatal("scope b must not be affected by scope a")
	}
}

func TestWindowElapses(t *testing.T) {
	t.Parallel()
	lim, now := newTestLimiter(t, Config{RequestsPerSecond: 1, Window: time.Second})

	lim.RecordSuccess("s")
	if lim.Admit("s") {
		t.Fatal("scope should be limited inside window")
	}

	*now = now.Add(1001 * time.Millisecond)
	if !lim.Admit("s") {
		t.Fatal("elapsed window must not limit")
	}

	// A success after the window starts a fresh window with count 1.
	lim.RecordSuccess("s")
	if lim.Admit("s") {
		t.Fatal("fresh window should be at its cap again")
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()
	lim, now := newTestLimiter(t, Config{RequestsPerSecond: 1, Window: time.Second})

	if got := lim.RetryAfter("s"); got != 0 {
		t.Fatalf("RetryAfter on unknown scope = %v, want 0", got)
	}

	lim.RecordSuccess("s")
	if got := lim.RetryAfter("s"); got != time.Second {
		t.Fatalf("RetryAfter = %v, want 1s", got)
	}

	*now = now.Add(400 * time.Millisecond)
	if got := lim.RetryAfter("s"); got != 600*time.Millisecond {
		t.Fatalf("RetryAfter = %v, want 600ms", got)
	}

	*now = now.Add(2 * time.Second)
	if got := lim.RetryAfter("s"); got != 0 {
		t.Fatalf("RetryAfter past window = %v, want 0", got)
	}
}

func TestApplySwapsCap(t *testing.T) {
	t.Parallel()
	lim, _ := newTestLimiter(t, Config{RequestsPerSecond: 1, Window: time.Second})

	lim.RecordSuccess("s")
	if lim.Admit("s") {
		t.Fatal("should be limited at cap 1")
	}
	if err := lim.Apply(Config{RequestsPerSecond: 5, Window: time.Second}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !lim.Admit("s") {
		t.Fatal("raised cap should admit immediately")
	}
	if err := lim.Apply(Config{RequestsPerSecond: 0, Window: time.Second}); err == nil {
		t.Fatal("Apply must reject invalid config")
	}
}

func TestCapNeverExceededWithinWindow(t *testing.T) {
	t.Parallel()
	lim, now := newTestLimiter(t, Config{RequestsPerSecond: 5, Window: time.Second})

	admitted := 0
	for i := 0; i < 50; i++ {
		*now = now.Add(10 * time.Millisecond)
		if lim.Admit("s") {
			lim.RecordSuccess("s")
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("admitted %d sends in one window, want 5", admitted)
	}
}
