package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline" }
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
		{"explicit", NewTransientError(errors.New("overloaded"), 503), true},
		{"wrapped", fmt.Errorf("call: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"plain", errors.New("invalid input"), false},
		{"econnreset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net timeout", fmt.Errorf("get: %w", timeoutErr{}), true},
		{"message pattern", errors.New("read: I/O timeout"), true},
		{"no such host", errors.New("dial tcp: lookup api.example: no such host"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestForStatus(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsTransient(ForStatus(base, 503)))
	assert.Same(t, base, ForStatus(base, 400))
	assert.NoError(t, ForStatus(nil, 503))

	var te *TransientError
	assert.True(t, errors.As(ForStatus(base, 429), &te))
	assert.Equal(t, 429, te.StatusCode)
	assert.Equal(t, "boom", te.Error())
	assert.Same(t, base, errors.Unwrap(te))
}
