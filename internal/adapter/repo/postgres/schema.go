package postgres

import (
	"context"
	"fmt"
)

// schema is applied idempotently at startup. JSONB columns carry the
// document-shaped parts (message arrays, error histories, sample arrays) so
// increments and appends stay single-statement upserts.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		messages    JSONB NOT NULL DEFAULT '[]',
		file_ids    JSONB NOT NULL DEFAULT '[]',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at DESC)`,

	`CREATE TABLE IF NOT EXISTS prompts (
		key                 TEXT PRIMARY KEY,
		system_prompt       TEXT NOT NULL DEFAULT '',
		rag_prompt_template TEXT NOT NULL DEFAULT '',
		title_prompt        TEXT NOT NULL DEFAULT '',
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS files (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL,
		name        TEXT NOT NULL,
		type        TEXT NOT NULL DEFAULT '',
		collection  TEXT NOT NULL DEFAULT '',
		chunk_count INT NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS kb_documents (
		id          UUID PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		chunk_count INT NOT NULL DEFAULT 0,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS dead_letter_queue (
		id              UUID PRIMARY KEY,
		correlation_id  TEXT NOT NULL UNIQUE,
		original_topic  TEXT NOT NULL,
		payload         JSONB NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		retry_count     INT NOT NULL DEFAULT 0,
		error_history   JSONB NOT NULL DEFAULT '[]',
		status          TEXT NOT NULL DEFAULT 'pending',
		first_failed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_failed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		retried_at      TIMESTAMPTZ,
		resolved_at     TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dlq_status ON dead_letter_queue (status, last_failed_at DESC)`,

	`CREATE TABLE IF NOT EXISTS ip_messages (
		id         BIGSERIAL PRIMARY KEY,
		ip         TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		endpoint   TEXT NOT NULL,
		preview    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ip_messages_ip ON ip_messages (ip, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS analytics_events (
		id           BIGSERIAL PRIMARY KEY,
		event_type   TEXT NOT NULL,
		ts           TIMESTAMPTZ NOT NULL,
		user_id_hash TEXT NOT NULL DEFAULT '',
		doc          JSONB NOT NULL,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_analytics_events_type_ts ON analytics_events (event_type, ts DESC)`,

	`CREATE TABLE IF NOT EXISTS analytics_metrics (
		metric       TEXT NOT NULL,
		dimension    TEXT NOT NULL,
		time_bucket  TIMESTAMPTZ NOT NULL,
		value        DOUBLE PRECISION NOT NULL DEFAULT 0,
		total        BIGINT NOT NULL DEFAULT 0,
		prompt       BIGINT NOT NULL DEFAULT 0,
		completion   BIGINT NOT NULL DEFAULT 0,
		total_size   BIGINT NOT NULL DEFAULT 0,
		total_chunks BIGINT NOT NULL DEFAULT 0,
		samples      JSONB NOT NULL DEFAULT '[]',
		stats        JSONB,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (metric, dimension, time_bucket)
	)`,

	`CREATE TABLE IF NOT EXISTS time_series (
		series     TEXT NOT NULL,
		dimension  TEXT NOT NULL,
		ts         TIMESTAMPTZ NOT NULL,
		count      BIGINT NOT NULL DEFAULT 0,
		sum        DOUBLE PRECISION NOT NULL DEFAULT 0,
		total      BIGINT NOT NULL DEFAULT 0,
		prompt     BIGINT NOT NULL DEFAULT 0,
		completion BIGINT NOT NULL DEFAULT 0,
		total_size BIGINT NOT NULL DEFAULT 0,
		vals       JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (series, dimension, ts)
	)`,
}

// EnsureSchema applies the schema statements. Safe to run on every start.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=postgres.EnsureSchema: %w", err)
		}
	}
	return nil
}
