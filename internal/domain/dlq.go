package domain

import "time"

// DLQStatus enumerates the operator workflow on dead-lettered jobs.
type DLQStatus string

// DLQ statuses.
const (
	DLQPending  DLQStatus = "pending"
	DLQRetried  DLQStatus = "retried"
	DLQResolved DLQStatus = "resolved"
)

// DLQError is one entry in a record's failure history.
type DLQError struct {
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
	RetryCount int       `json:"retry_count"`
}

// DLQRecord is an exhausted job parked for operator review. The original
// payload is kept verbatim so a manual retry republishes exactly what first
// entered the bus.
type DLQRecord struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	OriginalTopic string         `json:"original_topic"`
	Payload       map[string]any `json:"payload"`
	LastError     string         `json:"last_error"`
	RetryCount    int            `json:"retry_count"`
	ErrorHistory  []DLQError     `json:"error_history"`
	Status        DLQStatus      `json:"status"`
	FirstFailedAt time.Time      `json:"first_failed_at"`
	LastFailedAt  time.Time      `json:"last_failed_at"`
	RetriedAt     *time.Time     `json:"retried_at,omitempty"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
}

// DLQStats summarizes queue health for the admin API.
type DLQStats struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	PendingByTopic map[string]int `json:"pending_by_topic"`
}
