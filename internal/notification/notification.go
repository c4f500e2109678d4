package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders notifications within the scheduler's batch drain.
// Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Status is the delivery lifecycle state.
//
// Sent and terminally Failed are terminal: no further transition occurs.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRetry     Status = "retry"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Location tags which queue currently holds the notification.
//
// A notification may be enqueued in at most one of {priority bucket,
// retry queue} at a time; every enqueue checks this tag to prevent
// duplicate dispatch.
type Location int

const (
	LocationNone Location = iota
	LocationRetry
	LocationBatch
)

func (l Location) String() string {
	switch l {
	case LocationNone:
		return "none"
	case LocationRetry:
		return "retry"
	case LocationBatch:
		return "batch"
	default:
		return fmt.Sprintf("location(%d)", int(l))
	}
}

// Content is the rendered payload handed to the channel transport.
// Template variable substitution happens upstream; the delivery engine
// treats Title/Message as opaque.
type Content struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notification is the unit of work moving through the delivery engine.
//
// Values move between queues by pointer; mutation is serialized per scope
// by the dispatcher, so the struct itself carries no lock.
type Notification struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id,omitempty"`
	Type       string `json:"type,omitempty"`

	// RecipientID is the channel/target identifier the transport delivers to.
	// ScopeID is the rate-limit grouping key (e.g. one server/guild).
	RecipientID string `json:"recipient_id"`
	ScopeID     string `json:"scope_id"`

	Content   Content           `json:"content"`
	Variables map[string]string `json:"variables,omitempty"`

	Priority     Priority  `json:"priority"`
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`

	Status     Status     `json:"status"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	Err        string     `json:"error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`

	Location Location `json:"-"`
}

var (
	ErrNoRecipient     = errors.New("notification: recipient id is empty")
	ErrNoScope         = errors.New("notification: scope id is empty")
	ErrEmptyContent    = errors.New("notification: content message is empty")
	ErrInvalidPriority = errors.New("notification: invalid priority")
	ErrNegativeRetries = errors.New("notification: max retries must be >= 0")
)

// New builds a pending notification with a fresh identity.
func New(recipientID, scopeID string, content Content) *Notification {
	return &Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		ScopeID:     scopeID,
		Content:     content,
		Priority:    PriorityMedium,
		Status:      StatusPending,
	}
}

// Validate rejects malformed notifications before they enter any queue.
func (n *Notification) Validate() error {
	if n == nil {
		return errors.New("notification: nil")
	}
	if strings.TrimSpace(n.RecipientID) == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(n.ScopeID) == "" {
		return ErrNoScope
	}
	if strings.TrimSpace(n.Content.Message) == "" {
		return ErrEmptyContent
	}
	if !n.Priority.Valid() {
		return ErrInvalidPriority
	}
	if n.MaxRetries < 0 {
		return ErrNegativeRetries
	}
	return nil
}

// Terminal reports whether no further transition may occur.
func (n *Notification) Terminal() bool {
	if n.Status == StatusSent || n.Status == StatusCancelled {
		return true
	}
	// A transiently failed notification sits in the retry queue with
	// Status=Failed and will be retried. A failed notification that is not
	// queued anywhere is dead, whether the cause was a fatal error or a
	// spent retry budget.
	return n.Status == StatusFailed && n.Location != LocationRetry
}

// Due reports whether the not-before timestamp has passed.
func (n *Notification) Due(now time.Time) bool {
	return n.ScheduledFor.IsZero() || !now.Before(n.ScheduledFor)
}

// CloneForOccurrence returns a fresh notification for one firing of a
// recurring schedule. The clone gets a new identity and a zeroed lifecycle
// so retry accounting never leaks across occurrences; template, routing,
// content and priority carry over.
func (n *Notification) CloneForOccurrence(now time.Time) *Notification {
	cp := &Notification{
		ID:           uuid.NewString(),
		TemplateID:   n.TemplateID,
		Type:         n.Type,
		RecipientID:  n.RecipientID,
		ScopeID:      n.ScopeID,
		Content:      n.Content,
		Priority:     n.Priority,
		ScheduledFor: now,
		Status:       StatusPending,
		MaxRetries:   n.MaxRetries,
	}
	if len(n.Variables) > 0 {
		cp.Variables = make(map[string]string, len(n.Variables))
		for k, v := range n.Variables {
			cp.Variables[k] = v
		}
	}
	return cp
}
