package notification

import (
	"errors"
	"testing"
	"time"
)

func valid() *Notification {
	return New("42", "chat:42", Content{Title: "Reminder", Message: "stand-up"})
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()
	n := valid()
	if n.ID == "" {
		t.Fatal("no id assigned")
	}
	if n.Priority != PriorityMedium {
		t.Fatalf("priority = %v, want medium", n.Priority)
	}
	if n.Status != StatusPending {
		t.Fatalf("status = %q, want pending", n.Status)
	}
	if n.Location != LocationNone {
		t.Fatalf("location = %v, want none", n.Location)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Notification)
		want   error
	}{
		{"ok", func(n *Notification) {}, nil},
		{"no_recipient", func(n *Notification) { n.RecipientID = "  " }, ErrNoRecipient},
		{"no_scope", func(n *Notification) { n.ScopeID = "" }, ErrNoScope},
		{"empty_message", func(n *Notification) { n.Content.Message = "" }, ErrEmptyContent},
		{"priority_too_high", func(n *Notification) { n.Priority = Priority(9) }, ErrInvalidPriority},
		{"priority_negative", func(n *Notification) { n.Priority = Priority(-1) }, ErrInvalidPriority},
		{"negative_retries", func(n *Notification) { n.MaxRetries = -1 }, ErrNegativeRetries},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := valid()
			tc.mutate(n)
			if err := n.Validate(); !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Notification)
		want   bool
	}{
		{"pending", func(n *Notification) {}, false},
		{"sent", func(n *Notification) { n.Status = StatusSent }, true},
		{"cancelled", func(n *Notification) { n.Status = StatusCancelled }, true},
		{"failed_budget_spent", func(n *Notification) {
			n.Status = StatusFailed
			n.MaxRetries = 2
			n.RetryCount = 2
		}, true},
		{"failed_but_queued_for_retry", func(n *Notification) {
			n.Status = StatusFailed
			n.MaxRetries = 3
			n.RetryCount = 1
			n.Location = LocationRetry
		}, false},
		{"failed_fatal_budget_left", func(n *Notification) {
			n.Status = StatusFailed
			n.MaxRetries = 3
			n.RetryCount = 0
		}, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			n := valid()
			tc.mutate(n)
			if got := n.Terminal(); got != tc.want {
				t.Fatalf("Terminal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDue(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	n := valid()
	if !n.Due(now) {
		t.Fatal("zero ScheduledFor must always be due")
	}
	n.ScheduledFor = now
	if !n.Due(now) {
		t.Fatal("exactly-now must be due")
	}
	n.ScheduledFor = now.Add(time.Minute)
	if n.Due(now) {
		t.Fatal("future ScheduledFor must not be due")
	}
}

func TestCloneForOccurrence(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	base := valid()
	base.TemplateID = "daily-standup"
	base.Type = "reminder"
	base.Priority = PriorityUrgent
	base.MaxRetries = 5
	base.Variables = map[string]string{"team": "core"}

	// Dirty lifecycle state on the base must not leak into occurrences.
	base.Status = StatusFailed
	base.RetryCount = 4
	base.Err = "previous transport error"
	base.Location = LocationBatch

	cp := base.CloneForOccurrence(now)
	if cp.ID == base.ID || cp.ID == "" {
		t.Fatalf("clone id = %q, want fresh identity", cp.ID)
	}
	if cp.Status != StatusPending || cp.RetryCount != 0 || cp.Err != "" || cp.Location != LocationNone {
		t.Fatalf("lifecycle leaked into clone: %+v", cp)
	}
	if cp.SentAt != nil {
		t.Fatal("SentAt leaked into clone")
	}
	if cp.TemplateID != base.TemplateID || cp.Type != base.Type ||
		cp.RecipientID != base.RecipientID || cp.ScopeID != base.ScopeID ||
		cp.Priority != base.Priority || cp.MaxRetries != base.MaxRetries {
		t.Fatalf("routing/template fields not carried over: %+v", cp)
	}
	if !cp.ScheduledFor.Equal(now) {
		t.Fatalf("ScheduledFor = %v, want %v", cp.ScheduledFor, now)
	}

	cp.Variables["team"] = "infra"
	if base.Variables["team"] != "core" {
		t.Fatal("clone shares the Variables map with the base")
	}
}

func TestPriorityAndLocationStrings(t *testing.T) {
	t.Parallel()
	if PriorityUrgent.String() != "urgent" || PriorityLow.String() != "low" {
		t.Fatal("priority strings wrong")
	}
	if LocationRetry.String() != "retry" || LocationBatch.String() != "batch" {
		t.Fatal("location strings wrong")
	}
	if Priority(7).Valid() {
		t.Fatal("out-of-range priority reported valid")
	}
}
