// Package resilience protects model invocations with circuit breakers and
// retry policies.
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an invocation failure that is safe to retry
// (rate limits, 5xx-equivalent provider errors, network timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an invocation error as transient.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransient reports whether a model invocation error is worth retrying.
// Context cancellation and deadline expiry are never transient: the
// executor owns those.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
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

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Provider SDKs often flatten status into the message.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"rate limit",
		"429",
		"overloaded",
		"503",
		"502",
		"500",
		"connection reset by peer",
		"tls handshake timeout",
		"i/o timeout",
		"temporary failure in name resolution",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
