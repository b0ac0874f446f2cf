package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// RetryMetaKey is the reserved payload field carrying retry bookkeeping.
// Unknown payload fields travel untouched; only this key is managed by the
// retry machinery.
const RetryMetaKey = "_retry"

// RetryMeta records how a job came to be republished on the retry topic.
type RetryMeta struct {
	OriginalTopic string  `json:"original_topic"`
	RetryCount    int     `json:"retry_count"`
	MaxRetry      int     `json:"max_retry"`
	LastError     string  `json:"last_error"`
	LastAttempt   string  `json:"last_attempt"`
	NextDelay     float64 `json:"next_delay"`
}

// NewRetryMeta builds metadata for the next attempt of a failed job.
func NewRetryMeta(originalTopic string, retryCount, maxRetry int, lastErr error, nextDelay time.Duration) RetryMeta {
	return RetryMeta{
		OriginalTopic: originalTopic,
		RetryCount:    retryCount,
		MaxRetry:      maxRetry,
		LastError:     lastErr.Error(),
		LastAttempt:   time.Now().UTC().Format(time.RFC3339),
		NextDelay:     nextDelay.Seconds(),
	}
}

// DecodeEnvelope parses a raw bus record into its payload map, preserving
// every field the producer set.
func DecodeEnvelope(value []byte) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(value, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrInvalidArgument, err)
	}
	return payload, nil
}

// ExtractRetryMeta pops the retry block out of a payload. The second return
// is false when the payload has never been retried.
func ExtractRetryMeta(payload map[string]any) (RetryMeta, bool) {
	raw, ok := payload[RetryMetaKey]
	if !ok {
		return RetryMeta{}, false
	}
	delete(payload, RetryMetaKey)
	b, err := json.Marshal(raw)
	if err != nil {
		return RetryMeta{}, false
	}
	var m RetryMeta
	if err := json.Unmarshal(b, &m); err != nil {
		return RetryMeta{}, false
	}
	return m, true
}

// AttachRetryMeta sets the retry block on a payload before republishing.
func AttachRetryMeta(payload map[string]any, m RetryMeta) {
	payload[RetryMetaKey] = map[string]any{
		"original_topic": m.OriginalTopic,
		"retry_count":    m.RetryCount,
		"max_retry":      m.MaxRetry,
		"last_error":     m.LastError,
		"last_attempt":   m.LastAttempt,
		"next_delay":     m.NextDelay,
	}
}

// PayloadCorrelationID reads the correlation id field common to every job
// payload. Empty when absent.
func PayloadCorrelationID(payload map[string]any) string {
	if v, ok := payload["correlation_id"].(string); ok {
		return v
	}
	return ""
}

// EncodePayload converts a typed job struct to the generic payload map
// carried on the bus.
func EncodePayload(in any) (map[string]any, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInternal, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInternal, err)
	}
	return payload, nil
}

// DecodePayload re-marshals a generic payload into a typed job struct.
func DecodePayload(payload map[string]any, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrInternal, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrInvalidArgument, err)
	}
	return nil
}
