package domain

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryPolicy controls classification-driven retries with capped exponential
// backoff and uniform jitter.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	JitterMax  time.Duration
}

// DefaultRetryPolicy returns the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Multiplier: 2.0,
		MaxDelay:   120 * time.Second,
		JitterMax:  2 * time.Second,
	}
}

// retryableMarkers classifies errors by substring. Provider SDKs and HTTP
// stacks surface transient conditions through these fragments; anything else
// is treated as permanent.
var retryableMarkers = []string{
	"timeout",
	"rate_limit",
	"connection",
	"network",
	"503",
	"504",
	"429",
	"temporary",
	"unavailable",
	"overloaded",
}

// Retryable reports whether err looks transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return RetryableMessage(err.Error())
}

// RetryableMessage classifies an error message string. Matching is
// case-insensitive.
func RetryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ShouldRetry reports whether a job that failed with err after retryCount
// prior attempts gets another one.
func (p RetryPolicy) ShouldRetry(err error, retryCount int) bool {
	return retryCount < p.MaxRetries && Retryable(err)
}

// Delay computes the wait before attempt retryCount: min(base*mult^n, cap)
// plus uniform jitter in [0, JitterMax). Each call draws fresh jitter.
func (p RetryPolicy) Delay(retryCount int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryCount))
	if capped := float64(p.MaxDelay); base > capped {
		base = capped
	}
	jitter := 0.0
	if p.JitterMax > 0 {
		jitter = rand.Float64() * float64(p.JitterMax)
	}
	return time.Duration(base + jitter)
}

// ExhaustedError prefixes the terminal error surfaced to clients and the DLQ
// once the retry budget is spent.
func (p RetryPolicy) ExhaustedError(lastErr error) string {
	return fmt.Sprintf("Max retries (%d) exceeded. %s", p.MaxRetries, lastErr.Error())
}
