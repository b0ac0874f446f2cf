package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/chat-orchestrator/internal/dataflow"
	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// AnalyticsRepo implements dataflow.Store on Postgres. Windowed aggregates
// live in analytics_metrics keyed by (metric, dimension, time_bucket);
// per-minute points live in time_series. Increments and sample appends are
// single-statement upserts so concurrent dataflow replicas never clobber each
// other.
type AnalyticsRepo struct{ Pool PgxPool }

// NewAnalyticsRepo constructs an AnalyticsRepo with the given pool.
func NewAnalyticsRepo(p PgxPool) *AnalyticsRepo { return &AnalyticsRepo{Pool: p} }

// InsertEvent stores the transformed event document.
func (r *AnalyticsRepo) InsertEvent(ctx domain.Context, eventType string, ts time.Time, userIDHash string, doc map[string]any) error {
	tracer := otel.Tracer("repo.analytics")
	ctx, span := tracer.Start(ctx, "analytics.InsertEvent")
	defer span.End()
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("op=analytics.insert_event: %w", err)
	}
	q := `INSERT INTO analytics_events (event_type, ts, user_id_hash, doc) VALUES ($1,$2,$3,$4)`
	if _, err := r.Pool.Exec(ctx, q, eventType, ts, userIDHash, b); err != nil {
		return fmt.Errorf("op=analytics.insert_event: %w", err)
	}
	return nil
}

// IncrementWindow upserts counters into a windowed metric row.
func (r *AnalyticsRepo) IncrementWindow(ctx domain.Context, metric, dimension string, bucket time.Time, inc dataflow.MetricIncrement) error {
	tracer := otel.Tracer("repo.analytics")
	ctx, span := tracer.Start(ctx, "analytics.IncrementWindow")
	defer span.End()
	q := `INSERT INTO analytics_metrics (metric, dimension, time_bucket, value, total, prompt, completion, total_size, total_chunks)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (metric, dimension, time_bucket) DO UPDATE SET
	        value        = analytics_metrics.value + EXCLUDED.value,
	        total        = analytics_metrics.total + EXCLUDED.total,
	        prompt       = analytics_metrics.prompt + EXCLUDED.prompt,
	        completion   = analytics_metrics.completion + EXCLUDED.completion,
	        total_size   = analytics_metrics.total_size + EXCLUDED.total_size,
	        total_chunks = analytics_metrics.total_chunks + EXCLUDED.total_chunks,
	        updated_at   = now()`
	if _, err := r.Pool.Exec(ctx, q, metric, dimension, bucket,
		inc.Value, inc.Total, inc.Prompt, inc.Completion, inc.TotalSize, inc.TotalChunks); err != nil {
		return fmt.Errorf("op=analytics.increment_window: %w", err)
	}
	return nil
}

// AppendSample pushes one latency sample onto a windowed metric row.
func (r *AnalyticsRepo) AppendSample(ctx domain.Context, metric, dimension string, bucket time.Time, sample float64) error {
	tracer := otel.Tracer("repo.analytics")
	ctx, span := tracer.Start(ctx, "analytics.AppendSample")
	defer span.End()
	q := `INSERT INTO analytics_metrics (metric, dimension, time_bucket, samples)
	      VALUES ($1,$2,$3, jsonb_build_array($4::double precision))
	      ON CONFLICT (metric, dimension, time_bucket) DO UPDATE SET
	        samples    = analytics_metrics.samples || jsonb_build_array($4::double precision),
	        updated_at = now()`
	if _, err := r.Pool.Exec(ctx, q, metric, dimension, bucket, sample); err != nil {
		return fmt.Errorf("op=analytics.append_sample: %w", err)
	}
	return nil
}

// SampleWindows returns all sample rows for a metric with buckets at or after
// the cutoff, feeding the percentile pass.
func (r *AnalyticsRepo) SampleWindows(ctx domain.Context, metric string, cutoff time.Time) ([]dataflow.SampleWindow, error) {
	tracer := otel.Tracer("repo.analytics")
	ctx, span := tracer.Start(ctx, "analytics.SampleWindows")
	defer span.End()
	q := `SELECT dimension, time_bucket, samples FROM analytics_metrics
	      WHERE metric=$1 AND time_bucket >= $2`
	rows, err := r.Pool.Query(ctx, q, metric, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op=analytics.sample_windows: %w", err)
	}
	defer rows.Close()
	var out []dataflow.SampleWindow
	for rows.Next() {
		var (
			w       dataflow.SampleWindow
			samples []byte
		)
		if err := rows.Scan(&w.Dimension, &w.Bucket, &samples); err != nil {
			return nil, fmt.Errorf("op=analytics.sample_windows: %w", err)
		}
		if err := json.Unmarshal(samples, &w.Samples); err != nil {
			return nil, fmt.Errorf("op=analytics.sample_windows: samples: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analytics.sample_windows: %w", err)
	}
	return out, nil
}

// UpsertStats writes the computed percentile block for a window.
func (r *AnalyticsRepo) UpsertStats(ctx domain.Context, metric, dimension string, bucket time.Time, stats dataflow.LatencyStats) error {
	tracer := otel.Tracer("repo.analytics")
	ctx, span := tracer.Start(ctx, "analytics.UpsertStats")
	defer span.End()
	b, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("op=analytics.upsert_stats: %w", err)
	}
	q := `INSERT INTO analytics_metrics (metric, dimension, time_bucket, stats)
	      VALUES ($1,$2,$3,$4)
	      ON CONFLICT (metric, dimension, time_bucket) DO UPDATE SET
	        stats      = EXCLUDED.stats,
	        updated_at = now()`
	if _, err := r.Pool.Exec(ctx, q, metric, dimension, bucket, b); err != nil {
		return fmt.Errorf("op=analytics.upsert_stats: %w", err)
	}
	return nil
}

// IncrementSeries upserts counters into a per-minute time-series point,
// optionally pushing a raw value onto the point's value array.
func (r *AnalyticsRepo) IncrementSeries(ctx domain.Context, series, dimension string, minute time.Time, inc dataflow.SeriesIncrement) error {
	tracer := otel.Tracer("repo.analytics")
	ctx, span := tracer.Start(ctx, "analytics.IncrementSeries")
	defer span.End()
	if inc.PushValue != nil {
		q := `INSERT INTO time_series (series, dimension, ts, count, sum, total, prompt, completion, total_size, vals)
		      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, jsonb_build_array($10::double precision))
		      ON CONFLICT (series, dimension, ts) DO UPDATE SET
		        count      = time_series.count + EXCLUDED.count,
		        sum        = time_series.sum + EXCLUDED.sum,
		        total      = time_series.total + EXCLUDED.total,
		        prompt     = time_series.prompt + EXCLUDED.prompt,
		        completion = time_series.completion + EXCLUDED.completion,
		        total_size = time_series.total_size + EXCLUDED.total_size,
		        vals       = time_series.vals || jsonb_build_array($10::double precision),
		        updated_at = now()`
		if _, err := r.Pool.Exec(ctx, q, series, dimension, minute,
			inc.Count, inc.Sum, inc.Total, inc.Prompt, inc.Completion, inc.TotalSize, *inc.PushValue); err != nil {
			return fmt.Errorf("op=analytics.increment_series: %w", err)
		}
		return nil
	}
	q := `INSERT INTO time_series (series, dimension, ts, count, sum, total, prompt, completion, total_size)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	      ON CONFLICT (series, dimension, ts) DO UPDATE SET
	        count      = time_series.count + EXCLUDED.count,
	        sum        = time_series.sum + EXCLUDED.sum,
	        total      = time_series.total + EXCLUDED.total,
	        prompt     = time_series.prompt + EXCLUDED.prompt,
	        completion = time_series.completion + EXCLUDED.completion,
	        total_size = time_series.total_size + EXCLUDED.total_size,
	        updated_at = now()`
	if _, err := r.Pool.Exec(ctx, q, series, dimension, minute,
		inc.Count, inc.Sum, inc.Total, inc.Prompt, inc.Completion, inc.TotalSize); err != nil {
		return fmt.Errorf("op=analytics.increment_series: %w", err)
	}
	return nil
}
