// Package resultchannel stores job progress records in Redis so the gateway
// can poll for results written by the workers.
package resultchannel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
)

const keyPrefix = "result:"

// Store implements domain.ResultChannel on Redis. Every write refreshes the
// record TTL so abandoned jobs expire on their own.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Store. ttl bounds how long a record outlives its last write.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(correlationID string) string { return keyPrefix + correlationID }

// Write persists a progress record. A terminal record is never downgraded: a
// late non-terminal write against a finished job is dropped.
func (s *Store) Write(ctx domain.Context, rec domain.ProgressRecord) error {
	if rec.CorrelationID == "" {
		return fmt.Errorf("%w: missing correlation id", domain.ErrInvalidArgument)
	}
	if !rec.Terminal() {
		existing, err := s.Read(ctx, rec.CorrelationID)
		if err == nil && existing.Terminal() {
			slog.Debug("dropping progress write against terminal record",
				slog.String("correlation_id", rec.CorrelationID),
				slog.String("status", string(rec.Status)))
			return nil
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("op=resultchannel.Write: %w", err)
	}
	if err := s.rdb.Set(ctx, key(rec.CorrelationID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("op=resultchannel.Write: %w", err)
	}
	observability.ProgressWritesTotal.WithLabelValues(string(rec.Status)).Inc()
	return nil
}

// Read fetches the record for a correlation id. A missing key maps to
// domain.ErrNotFound; pollers treat that as still-processing or expired.
func (s *Store) Read(ctx domain.Context, correlationID string) (domain.ProgressRecord, error) {
	b, err := s.rdb.Get(ctx, key(correlationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ProgressRecord{}, fmt.Errorf("%w: result %s", domain.ErrNotFound, correlationID)
		}
		return domain.ProgressRecord{}, fmt.Errorf("op=resultchannel.Read: %w", err)
	}
	var rec domain.ProgressRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return domain.ProgressRecord{}, fmt.Errorf("op=resultchannel.Read: %w", err)
	}
	return rec, nil
}

// Delete removes a record after the gateway has handed the final result to
// the client.
func (s *Store) Delete(ctx domain.Context, correlationID string) error {
	if err := s.rdb.Del(ctx, key(correlationID)).Err(); err != nil {
		return fmt.Errorf("op=resultchannel.Delete: %w", err)
	}
	return nil
}
