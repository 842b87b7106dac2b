// Package resilience provides the retry and circuit-breaker machinery for
// external oracle calls, plus the transient/permanent error taxonomy the
// research pipeline keys off.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
)

// TransientError marks an error safe to retry (rate limit, 5xx, network
// timeout). Exhausting the retry budget on transient errors fails only the
// attempt; a permanent error fails the item immediately.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable, with an optional HTTP status code.
func Transient(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether err (or anything in its chain) is retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Deadline on the call itself, not caller cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Wrapped HTTP client errors lose their type; fall back to patterns.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"rate limit",
		"overloaded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// RetryableStatus reports whether an HTTP status code indicates a transient
// server-side condition.
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}
