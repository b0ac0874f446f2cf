package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// DLQService implements the operator workflow on dead-lettered jobs: inspect,
// retry, resolve, delete.
type DLQService struct {
	repo      domain.DLQRepo
	publisher domain.Publisher
	results   domain.ResultChannel
}

// NewDLQService wires a DLQService.
func NewDLQService(repo domain.DLQRepo, publisher domain.Publisher, results domain.ResultChannel) *DLQService {
	return &DLQService{repo: repo, publisher: publisher, results: results}
}

// Stats summarizes queue health.
func (s *DLQService) Stats(ctx domain.Context) (domain.DLQStats, error) {
	return s.repo.Stats(ctx)
}

// List returns records filtered by status. An empty status matches all.
func (s *DLQService) List(ctx domain.Context, status string, limit, offset int) ([]domain.DLQRecord, error) {
	return s.repo.List(ctx, status, limit, offset)
}

// Get loads one record with its full payload and error history.
func (s *DLQService) Get(ctx domain.Context, id string) (domain.DLQRecord, error) {
	return s.repo.Get(ctx, id)
}

// Retry republishes a record's original payload on its original topic with a
// fresh retry budget, and marks the record retried. Pollers of the original
// correlation id see the job processing again.
func (s *DLQService) Retry(ctx domain.Context, id string) (domain.DLQRecord, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.DLQRecord{}, err
	}
	if rec.Status == domain.DLQResolved {
		return domain.DLQRecord{}, fmt.Errorf("%w: record %s is resolved", domain.ErrConflict, id)
	}

	payload := make(map[string]any, len(rec.Payload))
	for k, v := range rec.Payload {
		payload[k] = v
	}
	// Strip retry bookkeeping so the replay starts with a clean budget.
	delete(payload, domain.RetryMetaKey)

	// The dead-lettered attempt left a terminal error record; it must go
	// before the reset, or the no-downgrade guard keeps serving it.
	if err := s.results.Delete(ctx, rec.CorrelationID); err != nil {
		slog.Warn("failed to clear stale result on dlq retry",
			slog.String("correlation_id", rec.CorrelationID),
			slog.Any("error", err))
	}

	if err := s.publisher.Publish(ctx, rec.OriginalTopic, rec.CorrelationID, payload); err != nil {
		return domain.DLQRecord{}, fmt.Errorf("op=dlq.retry: publish: %w", err)
	}
	if err := s.results.Write(ctx, domain.NewProgress(rec.CorrelationID, domain.StatusProcessing)); err != nil {
		slog.Warn("failed to reset result channel on dlq retry",
			slog.String("correlation_id", rec.CorrelationID),
			slog.Any("error", err))
	}
	if err := s.repo.SetStatus(ctx, id, domain.DLQRetried, time.Now().UTC()); err != nil {
		return domain.DLQRecord{}, fmt.Errorf("op=dlq.retry: status: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// RetryAllResult reports the outcome of a bulk retry.
type RetryAllResult struct {
	Retried int      `json:"retried"`
	Failed  []string `json:"failed,omitempty"`
}

// RetryAll retries every pending record. Individual failures are collected,
// not fatal, so one bad record cannot block the rest of the queue.
func (s *DLQService) RetryAll(ctx domain.Context) (RetryAllResult, error) {
	ids, err := s.repo.PendingIDs(ctx)
	if err != nil {
		return RetryAllResult{}, err
	}
	var out RetryAllResult
	for _, id := range ids {
		if _, err := s.Retry(ctx, id); err != nil {
			slog.Warn("dlq bulk retry item failed", slog.String("id", id), slog.Any("error", err))
			out.Failed = append(out.Failed, id)
			continue
		}
		out.Retried++
	}
	return out, nil
}

// Resolve marks a record as manually handled.
func (s *DLQService) Resolve(ctx domain.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.SetStatus(ctx, id, domain.DLQResolved, time.Now().UTC())
}

// Delete removes a record permanently.
func (s *DLQService) Delete(ctx domain.Context, id string) error {
	return s.repo.Remove(ctx, id)
}
