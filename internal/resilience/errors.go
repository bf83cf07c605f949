// Package resilience classifies and retries failures from upstream
// services, primarily the Anthropic message API used during extraction.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// TransientError marks a failure worth retrying. StatusCode carries the
// upstream HTTP status when one exists, and RetryAfter the server-requested
// delay from a Retry-After header, if any.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError marks err as retryable. statusCode may be zero when the
// failure happened below the HTTP layer.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsTransientHTTPStatus reports whether a status code from the message API
// warrants a retry. Anthropic signals overload with 529, so everything in
// the 5xx-and-above range counts alongside 408 and 429.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429:
		return true
	}
	return statusCode >= 500
}

// connErrnos are socket-level failures that a fresh connection can clear.
var connErrnos = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.EPIPE,
}

// netFailureHints matches transient network failures that surface only as
// wrapped text by the time they reach us from the HTTP client.
var netFailureHints = []string{
	"connection reset by peer",
	"broken pipe",
	"no such host",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

// IsTransient reports whether err is safe to retry: an explicit
// TransientError anywhere in the chain, a network timeout, a recoverable
// socket error, or text matching a known transient network failure.
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

	for _, errno := range connErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range netFailureHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// retryAfterOf extracts a server-requested delay from the error chain.
func retryAfterOf(err error) (time.Duration, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.RetryAfter > 0 {
		return te.RetryAfter, true
	}
	return 0, false
}
