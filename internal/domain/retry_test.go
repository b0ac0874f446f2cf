package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"request timeout after 30s", true},
		{"rate_limit exceeded for key", true},
		{"connection refused", true},
		{"network is unreachable", true},
		{"upstream returned 503", true},
		{"upstream returned 504", true},
		{"got 429 too many requests", true},
		{"temporary failure in name resolution", true},
		{"service unavailable", true},
		{"model overloaded", true},
		{"TIMEOUT waiting for broker", true},
		{"invalid json in request body", false},
		{"unauthorized", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RetryableMessage(tc.msg), "msg=%q", tc.msg)
	}
}

func TestRetryable_NilError(t *testing.T) {
	assert.False(t, Retryable(nil))
}

func TestShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	transient := errors.New("connection reset by peer")
	permanent := errors.New("schema validation failed")

	assert.True(t, p.ShouldRetry(transient, 0))
	assert.True(t, p.ShouldRetry(transient, 4))
	assert.False(t, p.ShouldRetry(transient, 5), "budget exhausted")
	assert.False(t, p.ShouldRetry(permanent, 0), "permanent errors never retry")
}

func TestDelay_GrowsAndCaps(t *testing.T) {
	p := RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   120 * time.Second,
		JitterMax:  0, // deterministic for the growth check
	}
	require.Equal(t, 1*time.Second, p.Delay(0))
	require.Equal(t, 2*time.Second, p.Delay(1))
	require.Equal(t, 4*time.Second, p.Delay(2))
	require.Equal(t, 8*time.Second, p.Delay(3))
	// Far past the cap.
	require.Equal(t, 120*time.Second, p.Delay(20))
}

func TestDelay_JitterBounds(t *testing.T) {
	p := DefaultRetryPolicy()
	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		// base*2^2 = 4s, jitter in [0, 2s)
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.Less(t, d, 6*time.Second)
	}
}

func TestExhaustedError(t *testing.T) {
	p := DefaultRetryPolicy()
	msg := p.ExhaustedError(errors.New("connection refused"))
	assert.Equal(t, "Max retries (5) exceeded. connection refused", msg)
}
