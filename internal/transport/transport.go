package transport

import (
	"context"
	"fmt"

	"remindbot/internal/notification"
)

// Transport is the outbound channel capability consumed by the dispatcher.
//
// Implementations deliver rendered content to one recipient and classify
// failures via Error so the dispatcher does not have to parse message text.
type Transport interface {
	Deliver(ctx context.Context, recipientID string, content notification.Content) error
}

// ErrorKind classifies a delivery failure at the transport boundary.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindTimeout
	KindThrottled
	KindServer
	KindBadRecipient
	KindForbidden
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindThrottled:
		return "throttled"
	case KindServer:
		return "server"
	case KindBadRecipient:
		return "bad_recipient"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Retryable reports whether a failure of this kind is worth another attempt.
// Unknown kinds are NOT retryable: unclassified failures fail closed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindThrottled, KindServer:
		return true
	default:
		return false
	}
}

// Error is a classified delivery failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. Msg is optional context.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
