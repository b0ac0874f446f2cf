// Package dataflow turns raw analytics events into standardized documents and
// windowed aggregates.
package dataflow

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Event types produced by the transformer.
const (
	EventLLMResponse     = "LLM_RESPONSE"
	EventFileProcessed   = "FILE_PROCESSED"
	EventUnknown         = "UNKNOWN"
	EventProcessingError = "PROCESSING_ERROR"
)

// HashUserID anonymizes a user id for analytics storage: first 16 hex chars
// of its SHA-256. Empty in, empty out.
func HashUserID(userID string) string {
	if userID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])[:16]
}

// TransformLLMEvent normalizes a raw LLM_RESPONSE event into the analytics
// document schema.
func TransformLLMEvent(raw map[string]any) map[string]any {
	ts := parseTimestamp(raw["timestamp"])
	userID := str(raw["user_id"])
	prompt := num(raw["token_prompt"])
	completion := num(raw["token_completion"])
	return map[string]any{
		"event_type":       EventLLMResponse,
		"timestamp":        ts,
		"conversation_id":  str(raw["conversation_id"]),
		"user_id":          userID,
		"user_id_hash":     HashUserID(userID),
		"model":            strOr(raw["model"], "unknown"),
		"latency_ms":       num(raw["latency_ms"]),
		"token_prompt":     prompt,
		"token_completion": completion,
		"token_total":      prompt + completion,
		"success":          boolOr(raw["success"], true),
		"has_rag":          boolOr(raw["has_rag"], false),
		"message_length":   num(raw["message_length"]),
		"reply_length":     num(raw["reply_length"]),
		"error":            raw["error"],
		"environment":      "production",
		"service":          "orchestrator",
		"processed_at":     time.Now().UTC(),
	}
}

// TransformFileEvent normalizes a raw FILE_PROCESSED event.
func TransformFileEvent(raw map[string]any) map[string]any {
	ts := parseTimestamp(raw["timestamp"])
	userID := str(raw["user_id"])
	size := num(raw["file_size"])
	return map[string]any{
		"event_type":      EventFileProcessed,
		"timestamp":       ts,
		"conversation_id": str(raw["conversation_id"]),
		"user_id":         userID,
		"user_id_hash":    HashUserID(userID),
		"file_id":         str(raw["file_id"]),
		"file_type":       str(raw["file_type"]),
		"original_name":   str(raw["original_name"]),
		"file_size":       size,
		"file_size_kb":    round2(size / 1024),
		"chunk_count":     num(raw["chunk_count"]),
		"latency_ms":      num(raw["latency_ms"]),
		"success":         boolOr(raw["success"], true),
		"error":           raw["error"],
		"environment":     "production",
		"service":         "orchestrator",
		"processed_at":    time.Now().UTC(),
	}
}

// TransformGenericEvent normalizes a conversation lifecycle event, tucking
// all non-standard fields into metadata.
func TransformGenericEvent(raw map[string]any) map[string]any {
	ts := parseTimestamp(raw["timestamp"])
	userID := str(raw["user_id"])
	metadata := map[string]any{}
	for k, v := range raw {
		switch k {
		case "event_type", "timestamp", "conversation_id", "user_id":
		default:
			metadata[k] = v
		}
	}
	return map[string]any{
		"event_type":      strOr(raw["event_type"], EventUnknown),
		"timestamp":       ts,
		"conversation_id": str(raw["conversation_id"]),
		"user_id":         userID,
		"user_id_hash":    HashUserID(userID),
		"metadata":        metadata,
		"environment":     "production",
		"service":         "orchestrator",
		"processed_at":    time.Now().UTC(),
	}
}

// TimeBucket rounds a timestamp down to the nearest window of whole minutes.
func TimeBucket(ts time.Time, windowMinutes int) time.Time {
	if windowMinutes <= 0 {
		windowMinutes = 1
	}
	ts = ts.UTC()
	minute := (ts.Minute() / windowMinutes) * windowMinutes
	return time.Date(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), minute, 0, 0, time.UTC)
}

func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UTC()
		}
		if ts, err := time.Parse("2006-01-02T15:04:05", t); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
