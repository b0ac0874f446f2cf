package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte("{not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRetryMeta_RoundTrip(t *testing.T) {
	payload := map[string]any{
		"correlation_id": "abc-123",
		"message":        "hello",
		"custom_field":   "kept as-is",
	}
	meta := NewRetryMeta("chat_requests", 2, 5, errors.New("timeout"), 4*time.Second)
	AttachRetryMeta(payload, meta)

	got, ok := ExtractRetryMeta(payload)
	require.True(t, ok)
	assert.Equal(t, "chat_requests", got.OriginalTopic)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, 5, got.MaxRetry)
	assert.Equal(t, "timeout", got.LastError)
	assert.Equal(t, 4.0, got.NextDelay)

	// Extract removes the reserved key but leaves everything else alone.
	_, hasMeta := payload[RetryMetaKey]
	assert.False(t, hasMeta)
	assert.Equal(t, "kept as-is", payload["custom_field"])
	assert.Equal(t, "hello", payload["message"])
}

func TestExtractRetryMeta_Absent(t *testing.T) {
	payload := map[string]any{"correlation_id": "abc"}
	_, ok := ExtractRetryMeta(payload)
	assert.False(t, ok)
}

func TestPayloadCorrelationID(t *testing.T) {
	assert.Equal(t, "abc", PayloadCorrelationID(map[string]any{"correlation_id": "abc"}))
	assert.Equal(t, "", PayloadCorrelationID(map[string]any{}))
	assert.Equal(t, "", PayloadCorrelationID(map[string]any{"correlation_id": 42}))
}

func TestDecodePayload(t *testing.T) {
	payload := map[string]any{
		"correlation_id":  "abc",
		"user_id":         "u1",
		"conversation_id": "c1",
		"message":         "hi",
		"unknown_extra":   true,
	}
	var job ChatJob
	require.NoError(t, DecodePayload(payload, &job))
	assert.Equal(t, "abc", job.CorrelationID)
	assert.Equal(t, "u1", job.UserID)
	assert.Equal(t, "hi", job.Message)
}
