package domain

import "time"

// ProgressStatus enumerates the lifecycle of a job as seen by pollers.
type ProgressStatus string

// Progress statuses. completed and error are terminal.
const (
	StatusProcessing ProgressStatus = "processing"
	StatusStreaming  ProgressStatus = "streaming"
	StatusCompleted  ProgressStatus = "completed"
	StatusError      ProgressStatus = "error"
	StatusRetrying   ProgressStatus = "retrying"
)

// Job types carried on progress records so pollers can tell what kind of
// work produced them.
const (
	JobTypeChat = "chat"
	JobTypeFile = "file"
	JobTypeKB   = "kb"
)

// maxProgressError bounds the error text stored for pollers; the DLQ keeps
// the full message.
const maxProgressError = 500

// ProgressRecord is the JSON document stored in the result channel under the
// job's correlation id. Finished is an int flag (0/1) so the wire format stays
// stable for non-Go pollers.
type ProgressRecord struct {
	CorrelationID  string         `json:"correlation_id"`
	Status         ProgressStatus `json:"status"`
	Type           string         `json:"type,omitempty"`
	Reply          string         `json:"reply,omitempty"`
	Title          string         `json:"title,omitempty"`
	Error          string         `json:"error,omitempty"`
	Finished       int            `json:"finished"`
	ChunkCount     int            `json:"chunk_count,omitempty"`
	CollectionName string         `json:"collection_name,omitempty"`
	RetryCount     int            `json:"retry_count,omitempty"`
	MaxRetry       int            `json:"max_retry,omitempty"`
	NextRetryIn    float64        `json:"next_retry_in,omitempty"`
	UpdatedAt      string         `json:"updated_at"`
}

// Terminal reports whether the record will never change again.
func (p ProgressRecord) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusError
}

// NewProgress builds a non-terminal record for the given status.
func NewProgress(correlationID string, status ProgressStatus) ProgressRecord {
	return ProgressRecord{
		CorrelationID: correlationID,
		Status:        status,
		Finished:      0,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// CompletedProgress builds the terminal success record.
func CompletedProgress(correlationID, reply, title string) ProgressRecord {
	return ProgressRecord{
		CorrelationID: correlationID,
		Status:        StatusCompleted,
		Reply:         reply,
		Title:         title,
		Finished:      1,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorProgress builds the terminal failure record.
func ErrorProgress(correlationID, errMsg string) ProgressRecord {
	return ProgressRecord{
		CorrelationID: correlationID,
		Status:        StatusError,
		Error:         errMsg,
		Finished:      1,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// RetryingProgress tells pollers a transient failure is being retried.
func RetryingProgress(correlationID string, retryCount, maxRetry int, nextDelay time.Duration, lastErr string) ProgressRecord {
	return ProgressRecord{
		CorrelationID: correlationID,
		Status:        StatusRetrying,
		Error:         clipRunes(lastErr, maxProgressError),
		Finished:      0,
		RetryCount:    retryCount,
		MaxRetry:      maxRetry,
		NextRetryIn:   nextDelay.Seconds(),
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// StreamingProgress carries the partial reply accumulated so far. Only chat
// jobs stream, so the type is fixed.
func StreamingProgress(correlationID, partial string, chunkCount int) ProgressRecord {
	return ProgressRecord{
		CorrelationID: correlationID,
		Status:        StatusStreaming,
		Type:          JobTypeChat,
		Reply:         partial,
		Finished:      0,
		ChunkCount:    chunkCount,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// clipRunes caps s at n runes without splitting a multi-byte sequence.
func clipRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
