package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one terminal delivery outcome.
// Keep it compact and schema-stable.
type DeliveryRecord struct {
	At             time.Time `json:"at"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	ScopeID        string    `json:"scope_id"`
	Priority       string    `json:"priority"`
	Status         string    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	Error          string    `json:"error,omitempty"`
}
