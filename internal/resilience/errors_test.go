package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: request canceled while waiting" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked transient", NewTransientError(errors.New("overloaded"), 529), true},
		{"marked transient, wrapped", eris.Wrap(NewTransientError(errors.New("rate limited"), 429), "anthropic: create message"), true},
		{"network timeout", timeoutErr{}, true},
		{"connection reset errno", fmt.Errorf("post: %w", syscall.ECONNRESET), true},
		{"reset by text only", errors.New("read: connection reset by peer"), true},
		{"dns failure by text", errors.New("lookup api.anthropic.com: no such host"), true},
		{"invalid request", errors.New("invalid_request_error: max_tokens required"), false},
		{"auth failure", errors.New("authentication_error: invalid x-api-key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 413, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}

func TestRetryAfterOf(t *testing.T) {
	te := NewTransientError(errors.New("rate limited"), 429)
	te.RetryAfter = 7 * time.Second

	after, ok := retryAfterOf(eris.Wrap(te, "anthropic: create message"))
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, after)

	_, ok = retryAfterOf(NewTransientError(errors.New("overloaded"), 529))
	assert.False(t, ok)

	_, ok = retryAfterOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestTransientErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	te := NewTransientError(inner, 503)
	assert.True(t, errors.Is(te, inner))
	assert.Equal(t, "boom", te.Error())
	assert.Equal(t, 503, te.StatusCode)
}
