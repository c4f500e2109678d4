package dispatcher

import (
	"context"
	"errors"
	"strings"

	"remindbot/internal/transport"
)

// retryKeywords is the substring heuristic for transports that surface raw
// error strings. Typed transport.Error kinds take precedence; this is the
// fallback for everything else.
var retryKeywords = []string{
	"network",
	"timeout",
	"temporarily",
	"5xx",
	"server error",
}

// retryable decides whether a delivery failure is worth another attempt.
//
// Order matters: a typed transport error is the authoritative signal, the
// dispatcher's own delivery timeout counts as transient, and only then do we
// fall back to keyword matching. Anything unclassified fails closed (fatal).
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.Kind.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range retryKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
