// Package event defines the names and payloads the delivery engine
// publishes on the event bus.
package event

import (
	"time"

	"remindbot/internal/notification"
)

// Event names. Observers subscribe to the bus and switch on Event.Type.
const (
	Sent      = "notification.sent"
	Error     = "notification.error"
	Queued    = "notification.queued"
	RateLimit = "notification.rateLimit"
	Scheduled = "notification.scheduled"
	Cancelled = "notification.cancelled"

	BatchProcessing = "batch.processing"
	BatchCompleted  = "batch.completed"
)

// Payload accompanies every notification.* event.
//
// Notification is a snapshot taken at publish time, never the live object:
// subscribers run on their own goroutines and the engine keeps mutating the
// original after the event goes out. Keep it small; Data may be
// logged/serialized by subscribers.
type Payload struct {
	Notification notification.Notification `json:"notification"`
	Error        string                    `json:"error,omitempty"`
	RetryAfter   time.Duration             `json:"retry_after,omitempty"`
	At           time.Time                 `json:"at"`
}

// BatchPayload accompanies batch.* events.
type BatchPayload struct {
	// Drained is the number of notifications taken this tick.
	// For batch.processing it is the number about to be attempted.
	Drained int       `json:"drained"`
	At      time.Time `json:"at"`
}
