package dataflow

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
)

// Groq-style rough pricing per token, used for cost estimates only.
const (
	costPerPromptToken     = 0.00000059
	costPerCompletionToken = 0.00000079
)

// MetricIncrement carries the counter deltas for one windowed-metric upsert.
type MetricIncrement struct {
	Value       float64
	Total       int64
	Prompt      int64
	Completion  int64
	TotalSize   int64
	TotalChunks int64
}

// SeriesIncrement carries the deltas for one time-series point. PushValue,
// when set, is appended to the point's raw value array.
type SeriesIncrement struct {
	Count      int64
	Sum        float64
	Total      int64
	Prompt     int64
	Completion int64
	TotalSize  int64
	PushValue  *float64
}

// SampleWindow is one latency-sample row read back for the percentile pass.
type SampleWindow struct {
	Dimension string
	Bucket    time.Time
	Samples   []float64
}

// Store is the persistence surface the aggregator writes to.
type Store interface {
	InsertEvent(ctx domain.Context, eventType string, ts time.Time, userIDHash string, doc map[string]any) error
	IncrementWindow(ctx domain.Context, metric, dimension string, bucket time.Time, inc MetricIncrement) error
	AppendSample(ctx domain.Context, metric, dimension string, bucket time.Time, sample float64) error
	SampleWindows(ctx domain.Context, metric string, cutoff time.Time) ([]SampleWindow, error)
	UpsertStats(ctx domain.Context, metric, dimension string, bucket time.Time, stats LatencyStats) error
	IncrementSeries(ctx domain.Context, series, dimension string, minute time.Time, inc SeriesIncrement) error
}

// Processor consumes raw analytics events: transform, persist, aggregate.
// Per-event failures are recorded as PROCESSING_ERROR documents and swallowed
// so one poison event never stalls the stream.
type Processor struct {
	store         Store
	topicLLM      string
	topicFile     string
	windowMinutes int
	statsEvery    int64
	eventCount    atomic.Int64
}

// NewProcessor creates a Processor. statsEvery controls how many LLM events
// pass between percentile recomputations; values below 1 mean every event.
func NewProcessor(store Store, topicLLM, topicFile string, windowMinutes, statsEvery int) *Processor {
	if statsEvery < 1 {
		statsEvery = 1
	}
	return &Processor{
		store:         store,
		topicLLM:      topicLLM,
		topicFile:     topicFile,
		windowMinutes: windowMinutes,
		statsEvery:    int64(statsEvery),
	}
}

// Process handles one raw event from the given topic.
func (p *Processor) Process(ctx domain.Context, topic string, value []byte) {
	raw, err := domain.DecodeEnvelope(value)
	if err != nil {
		p.recordError(ctx, topic, err, string(value))
		return
	}
	switch topic {
	case p.topicLLM:
		doc := TransformLLMEvent(raw)
		if err := p.persistAndAggregateLLM(ctx, doc); err != nil {
			p.recordError(ctx, topic, err, "")
			return
		}
		if p.eventCount.Add(1)%p.statsEvery == 0 {
			if err := p.CalculateStatistics(ctx); err != nil {
				slog.Warn("statistics pass failed", slog.Any("error", err))
			}
		}
		observability.AnalyticsEventsTotal.WithLabelValues(EventLLMResponse).Inc()
	case p.topicFile:
		doc := TransformFileEvent(raw)
		if err := p.persistAndAggregateFile(ctx, doc); err != nil {
			p.recordError(ctx, topic, err, "")
			return
		}
		observability.AnalyticsEventsTotal.WithLabelValues(EventFileProcessed).Inc()
	default:
		doc := TransformGenericEvent(raw)
		eventType := str(doc["event_type"])
		ts := doc["timestamp"].(time.Time)
		if err := p.store.InsertEvent(ctx, eventType, ts, str(doc["user_id_hash"]), doc); err != nil {
			p.recordError(ctx, topic, err, "")
			return
		}
		observability.AnalyticsEventsTotal.WithLabelValues(eventType).Inc()
	}
}

func (p *Processor) persistAndAggregateLLM(ctx domain.Context, doc map[string]any) error {
	ts := doc["timestamp"].(time.Time)
	if err := p.store.InsertEvent(ctx, EventLLMResponse, ts, str(doc["user_id_hash"]), doc); err != nil {
		return err
	}

	model := str(doc["model"])
	latency := num(doc["latency_ms"])
	tokenTotal := int64(num(doc["token_total"]))
	tokenPrompt := int64(num(doc["token_prompt"]))
	tokenCompletion := int64(num(doc["token_completion"]))
	success := boolOr(doc["success"], true)

	bucket := TimeBucket(ts, p.windowMinutes)
	minute := TimeBucket(ts, 1)

	if err := p.store.IncrementWindow(ctx, "request_count", model, bucket, MetricIncrement{Value: 1}); err != nil {
		return err
	}
	statusMetric := "success_count"
	if !success {
		statusMetric = "error_count"
	}
	if err := p.store.IncrementWindow(ctx, statusMetric, model, bucket, MetricIncrement{Value: 1}); err != nil {
		return err
	}
	if err := p.store.AppendSample(ctx, "latency_samples", model, bucket, latency); err != nil {
		return err
	}
	if err := p.store.IncrementWindow(ctx, "token_usage", model, bucket, MetricIncrement{
		Total: tokenTotal, Prompt: tokenPrompt, Completion: tokenCompletion,
	}); err != nil {
		return err
	}
	cost := float64(tokenPrompt)*costPerPromptToken + float64(tokenCompletion)*costPerCompletionToken
	if err := p.store.IncrementWindow(ctx, "cost_estimate", model, bucket, MetricIncrement{Value: cost}); err != nil {
		return err
	}

	if err := p.store.IncrementSeries(ctx, "requests_per_minute", model, minute, SeriesIncrement{Count: 1}); err != nil {
		return err
	}
	if err := p.store.IncrementSeries(ctx, "latency_per_minute", model, minute, SeriesIncrement{
		Count: 1, Sum: latency, PushValue: &latency,
	}); err != nil {
		return err
	}
	if err := p.store.IncrementSeries(ctx, "tokens_per_minute", model, minute, SeriesIncrement{
		Total: tokenTotal, Prompt: tokenPrompt, Completion: tokenCompletion,
	}); err != nil {
		return err
	}
	if !success {
		if err := p.store.IncrementSeries(ctx, "errors_per_minute", model, minute, SeriesIncrement{Count: 1}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) persistAndAggregateFile(ctx domain.Context, doc map[string]any) error {
	ts := doc["timestamp"].(time.Time)
	if err := p.store.InsertEvent(ctx, EventFileProcessed, ts, str(doc["user_id_hash"]), doc); err != nil {
		return err
	}

	fileType := strOr(doc["file_type"], "unknown")
	latency := num(doc["latency_ms"])
	size := int64(num(doc["file_size"]))
	chunks := int64(num(doc["chunk_count"]))

	bucket := TimeBucket(ts, p.windowMinutes)
	minute := TimeBucket(ts, 1)

	if err := p.store.IncrementWindow(ctx, "file_processed_count", fileType, bucket, MetricIncrement{
		Value: 1, TotalSize: size, TotalChunks: chunks,
	}); err != nil {
		return err
	}
	if err := p.store.AppendSample(ctx, "file_latency_samples", fileType, bucket, latency); err != nil {
		return err
	}
	if err := p.store.IncrementSeries(ctx, "files_per_minute", fileType, minute, SeriesIncrement{
		Count: 1, TotalSize: size,
	}); err != nil {
		return err
	}
	return nil
}

// CalculateStatistics recomputes percentile blocks for latency windows seen
// in the last two aggregation windows.
func (p *Processor) CalculateStatistics(ctx domain.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(2*p.windowMinutes) * time.Minute)
	windows, err := p.store.SampleWindows(ctx, "latency_samples", cutoff)
	if err != nil {
		return fmt.Errorf("op=dataflow.CalculateStatistics: %w", err)
	}
	for _, w := range windows {
		stats, ok := Percentiles(w.Samples)
		if !ok {
			continue
		}
		dim := w.Dimension
		if dim == "" {
			dim = "unknown"
		}
		if err := p.store.UpsertStats(ctx, "latency_stats", dim, w.Bucket, stats); err != nil {
			return fmt.Errorf("op=dataflow.CalculateStatistics: %w", err)
		}
	}
	return nil
}

func (p *Processor) recordError(ctx domain.Context, topic string, cause error, rawValue string) {
	slog.Error("analytics event processing failed",
		slog.String("topic", topic),
		slog.Any("error", cause))
	doc := map[string]any{
		"event_type": EventProcessingError,
		"topic":      topic,
		"error":      cause.Error(),
	}
	if rawValue != "" {
		if len(rawValue) > 2000 {
			rawValue = rawValue[:2000]
		}
		doc["raw"] = rawValue
	}
	if err := p.store.InsertEvent(ctx, EventProcessingError, time.Now().UTC(), "", doc); err != nil {
		slog.Error("failed to record processing error", slog.Any("error", err))
	}
	observability.AnalyticsEventsTotal.WithLabelValues(EventProcessingError).Inc()
}
