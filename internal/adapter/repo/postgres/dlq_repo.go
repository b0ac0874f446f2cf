package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// DLQRepo stores exhausted jobs. Saves are idempotent on correlation id: a
// repeat failure of the same job appends to its error history in one upsert
// instead of inserting a duplicate row.
type DLQRepo struct{ Pool PgxPool }

// NewDLQRepo constructs a DLQRepo with the given pool.
func NewDLQRepo(p PgxPool) *DLQRepo { return &DLQRepo{Pool: p} }

// Save inserts or refreshes a dead-lettered job. On conflict the record goes
// back to pending, the retry count and last error are refreshed, and the new
// failure is appended to the history.
func (r *DLQRepo) Save(ctx domain.Context, rec domain.DLQRecord) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Save")
	defer span.End()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = domain.DLQPending
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("op=dlq.save: payload: %w", err)
	}
	history := rec.ErrorHistory
	if history == nil {
		history = []domain.DLQError{}
	}
	historyB, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("op=dlq.save: history: %w", err)
	}
	q := `INSERT INTO dead_letter_queue
	        (id, correlation_id, original_topic, payload, last_error, retry_count, error_history, status, first_failed_at, last_failed_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	      ON CONFLICT (correlation_id) DO UPDATE SET
	        last_error     = EXCLUDED.last_error,
	        retry_count    = EXCLUDED.retry_count,
	        last_failed_at = EXCLUDED.last_failed_at,
	        error_history  = dead_letter_queue.error_history || EXCLUDED.error_history,
	        status         = 'pending',
	        retried_at     = NULL,
	        resolved_at    = NULL`
	if _, err := r.Pool.Exec(ctx, q,
		rec.ID, rec.CorrelationID, rec.OriginalTopic, payload, rec.LastError,
		rec.RetryCount, historyB, string(rec.Status), rec.FirstFailedAt, rec.LastFailedAt); err != nil {
		return fmt.Errorf("op=dlq.save: %w", err)
	}
	return nil
}

const dlqColumns = `id, correlation_id, original_topic, payload, last_error, retry_count,
	error_history, status, first_failed_at, last_failed_at, retried_at, resolved_at`

func scanDLQ(row pgx.Row) (domain.DLQRecord, error) {
	var (
		rec     domain.DLQRecord
		payload []byte
		history []byte
		status  string
	)
	if err := row.Scan(&rec.ID, &rec.CorrelationID, &rec.OriginalTopic, &payload, &rec.LastError,
		&rec.RetryCount, &history, &status, &rec.FirstFailedAt, &rec.LastFailedAt,
		&rec.RetriedAt, &rec.ResolvedAt); err != nil {
		return domain.DLQRecord{}, err
	}
	rec.Status = domain.DLQStatus(status)
	if err := json.Unmarshal(payload, &rec.Payload); err != nil {
		return domain.DLQRecord{}, fmt.Errorf("payload: %w", err)
	}
	if err := json.Unmarshal(history, &rec.ErrorHistory); err != nil {
		return domain.DLQRecord{}, fmt.Errorf("history: %w", err)
	}
	return rec, nil
}

// Get loads one record by id.
func (r *DLQRepo) Get(ctx domain.Context, id string) (domain.DLQRecord, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Get")
	defer span.End()
	q := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE id=$1`
	rec, err := scanDLQ(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.DLQRecord{}, fmt.Errorf("op=dlq.get: %w", domain.ErrNotFound)
		}
		return domain.DLQRecord{}, fmt.Errorf("op=dlq.get: %w", err)
	}
	return rec, nil
}

// List returns records newest-first, optionally filtered by status.
func (r *DLQRepo) List(ctx domain.Context, status string, limit, offset int) ([]domain.DLQRecord, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.List")
	defer span.End()
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		q := `SELECT ` + dlqColumns + ` FROM dead_letter_queue WHERE status=$1
		      ORDER BY last_failed_at DESC LIMIT $2 OFFSET $3`
		rows, err = r.Pool.Query(ctx, q, status, limit, offset)
	} else {
		q := `SELECT ` + dlqColumns + ` FROM dead_letter_queue
		      ORDER BY last_failed_at DESC LIMIT $1 OFFSET $2`
		rows, err = r.Pool.Query(ctx, q, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("op=dlq.list: %w", err)
	}
	defer rows.Close()
	var out []domain.DLQRecord
	for rows.Next() {
		rec, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("op=dlq.list: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=dlq.list: %w", err)
	}
	return out, nil
}

// SetStatus transitions a record through the operator workflow.
func (r *DLQRepo) SetStatus(ctx domain.Context, id string, status domain.DLQStatus, at time.Time) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.SetStatus")
	defer span.End()
	var q string
	switch status {
	case domain.DLQRetried:
		q = `UPDATE dead_letter_queue SET status=$2, retried_at=$3 WHERE id=$1`
	case domain.DLQResolved:
		q = `UPDATE dead_letter_queue SET status=$2, resolved_at=$3 WHERE id=$1`
	default:
		q = `UPDATE dead_letter_queue SET status=$2, retried_at=NULL, resolved_at=NULL, last_failed_at=$3 WHERE id=$1`
	}
	tag, err := r.Pool.Exec(ctx, q, id, string(status), at)
	if err != nil {
		return fmt.Errorf("op=dlq.set_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=dlq.set_status: %w", domain.ErrNotFound)
	}
	return nil
}

// Stats summarizes counts by status plus a pending by-topic breakdown.
func (r *DLQRepo) Stats(ctx domain.Context) (domain.DLQStats, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Stats")
	defer span.End()
	stats := domain.DLQStats{
		ByStatus:       map[string]int{},
		PendingByTopic: map[string]int{},
	}
	rows, err := r.Pool.Query(ctx, `SELECT status, COUNT(*) FROM dead_letter_queue GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("op=dlq.stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("op=dlq.stats: %w", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("op=dlq.stats: %w", err)
	}

	topicRows, err := r.Pool.Query(ctx,
		`SELECT original_topic, COUNT(*) FROM dead_letter_queue WHERE status='pending' GROUP BY original_topic`)
	if err != nil {
		return stats, fmt.Errorf("op=dlq.stats: %w", err)
	}
	defer topicRows.Close()
	for topicRows.Next() {
		var topic string
		var n int
		if err := topicRows.Scan(&topic, &n); err != nil {
			return stats, fmt.Errorf("op=dlq.stats: %w", err)
		}
		stats.PendingByTopic[topic] = n
	}
	if err := topicRows.Err(); err != nil {
		return stats, fmt.Errorf("op=dlq.stats: %w", err)
	}
	return stats, nil
}

// PendingIDs lists ids of all pending records, oldest first, for retry-all.
func (r *DLQRepo) PendingIDs(ctx domain.Context) ([]string, error) {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.PendingIDs")
	defer span.End()
	rows, err := r.Pool.Query(ctx,
		`SELECT id FROM dead_letter_queue WHERE status='pending' ORDER BY first_failed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("op=dlq.pending_ids: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=dlq.pending_ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=dlq.pending_ids: %w", err)
	}
	return ids, nil
}

// Remove deletes a record outright.
func (r *DLQRepo) Remove(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.dlq")
	ctx, span := tracer.Start(ctx, "dlq.Remove")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=dlq.remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=dlq.remove: %w", domain.ErrNotFound)
	}
	return nil
}
