package kafka

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
	"github.com/fairyhunter13/chat-orchestrator/internal/usecase"
)

// HandlerFunc processes one decoded job payload. A nil return commits the
// record; errors feed the retry machinery.
type HandlerFunc func(ctx domain.Context, payload map[string]any) error

// WorkerConfig configures the consumer worker pool.
type WorkerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	RetryTopic string
	MaxWorkers int
	Policy     domain.RetryPolicy
}

// Worker consumes the primary bus with bounded concurrency. Failed jobs are
// republished to the retry topic with backoff metadata; once the retry budget
// is spent (or the error is permanent) the job is dead-lettered and the
// poller sees a terminal error record.
type Worker struct {
	cfg       WorkerConfig
	handlers  map[string]HandlerFunc
	publisher domain.Publisher
	dlq       domain.DLQRepo
	results   domain.ResultChannel

	client *kgo.Client
	sem    chan struct{}
	wg     sync.WaitGroup
}

// NewWorker connects a consumer-group client over the configured topics.
// handlers is keyed by primary topic; retry-topic records dispatch to the
// handler of their original topic.
func NewWorker(cfg WorkerConfig, handlers map[string]HandlerFunc,
	publisher domain.Publisher, dlq domain.DLQRepo, results domain.ResultChannel) (*Worker, error) {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	instr := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer()))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.WithHooks(instr.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.NewWorker: %w", err)
	}
	return &Worker{
		cfg:       cfg,
		handlers:  handlers,
		publisher: publisher,
		dlq:       dlq,
		results:   results,
		client:    client,
		sem:       make(chan struct{}, cfg.MaxWorkers),
	}, nil
}

// Run polls until ctx is cancelled, then waits for in-flight jobs.
func (w *Worker) Run(ctx domain.Context) error {
	slog.Info("worker started",
		"group", w.cfg.GroupID, "topics", w.cfg.Topics, "max_workers", w.cfg.MaxWorkers)
	for {
		fetches := w.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			w.sem <- struct{}{}
			w.wg.Add(1)
			go func(rec *kgo.Record) {
				defer w.wg.Done()
				defer func() { <-w.sem }()
				w.process(ctx, rec.Topic, rec.Value)
				w.client.MarkCommitRecords(rec)
			}(rec)
		})
	}
	w.wg.Wait()
	slog.Info("worker stopped", "group", w.cfg.GroupID)
	return ctx.Err()
}

// Close leaves the consumer group and closes the client.
func (w *Worker) Close() {
	w.client.Close()
}

// process runs one record through its handler and owns the failure path.
// Malformed records are logged and dropped: republishing them could never
// succeed.
func (w *Worker) process(ctx domain.Context, topic string, value []byte) {
	payload, err := domain.DecodeEnvelope(value)
	if err != nil {
		slog.Error("dropping malformed record", "topic", topic, "error", err)
		observability.JobsProcessedTotal.WithLabelValues(topic, "malformed").Inc()
		return
	}

	meta, hadMeta := domain.ExtractRetryMeta(payload)
	originalTopic := topic
	if topic == w.cfg.RetryTopic {
		if !hadMeta || meta.OriginalTopic == "" {
			slog.Error("dropping retry record without metadata",
				"correlation_id", domain.PayloadCorrelationID(payload))
			observability.JobsProcessedTotal.WithLabelValues(topic, "malformed").Inc()
			return
		}
		originalTopic = meta.OriginalTopic
		w.waitBackoff(ctx, meta)
		if ctx.Err() != nil {
			// Shutting down mid-wait: the uncommitted record is redelivered.
			return
		}
	}

	handler, ok := w.handlers[originalTopic]
	if !ok {
		slog.Error("no handler for topic", "topic", originalTopic)
		observability.JobsProcessedTotal.WithLabelValues(originalTopic, "unroutable").Inc()
		return
	}

	observability.JobsProcessing.WithLabelValues(originalTopic).Inc()
	start := time.Now()
	err = handler(ctx, payload)
	observability.JobsProcessing.WithLabelValues(originalTopic).Dec()

	if err == nil {
		observability.JobsProcessedTotal.WithLabelValues(originalTopic, "success").Inc()
		slog.Info("job processed",
			"topic", originalTopic,
			"correlation_id", domain.PayloadCorrelationID(payload),
			"attempt", meta.RetryCount,
			"duration_ms", time.Since(start).Milliseconds())
		return
	}
	w.fail(ctx, originalTopic, payload, meta, err)
}

// fail schedules another attempt when the error is transient and budget
// remains, otherwise dead-letters the job.
func (w *Worker) fail(ctx domain.Context, originalTopic string, payload map[string]any, meta domain.RetryMeta, cause error) {
	correlationID := domain.PayloadCorrelationID(payload)
	if !w.cfg.Policy.ShouldRetry(cause, meta.RetryCount) {
		w.deadLetter(ctx, originalTopic, payload, meta.RetryCount, cause)
		return
	}

	attempt := meta.RetryCount + 1
	delay := w.cfg.Policy.Delay(attempt)
	next := domain.NewRetryMeta(originalTopic, attempt, w.cfg.Policy.MaxRetries, cause, delay)
	domain.AttachRetryMeta(payload, next)
	if err := w.publisher.Publish(ctx, w.cfg.RetryTopic, correlationID, payload); err != nil {
		slog.Error("retry publish failed, dead-lettering",
			"topic", originalTopic, "correlation_id", correlationID, "error", err)
		domain.ExtractRetryMeta(payload)
		w.deadLetter(ctx, originalTopic, payload, meta.RetryCount, cause)
		return
	}

	slog.Warn("job retry scheduled",
		"topic", originalTopic, "correlation_id", correlationID,
		"attempt", attempt, "max", w.cfg.Policy.MaxRetries,
		"delay_s", delay.Seconds(), "error", cause)
	if correlationID != "" {
		rec := domain.RetryingProgress(correlationID, attempt, w.cfg.Policy.MaxRetries, delay, cause.Error())
		if err := w.results.Write(ctx, rec); err != nil {
			slog.Warn("retrying progress write failed", "correlation_id", correlationID, "error", err)
		}
	}
	observability.JobRetriesTotal.WithLabelValues(originalTopic).Inc()
	observability.JobsProcessedTotal.WithLabelValues(originalTopic, "retrying").Inc()
}

func (w *Worker) deadLetter(ctx domain.Context, originalTopic string, payload map[string]any, retryCount int, cause error) {
	correlationID := domain.PayloadCorrelationID(payload)
	terminal := cause.Error()
	if retryCount >= w.cfg.Policy.MaxRetries {
		terminal = w.cfg.Policy.ExhaustedError(cause)
	}

	now := time.Now().UTC()
	rec := domain.DLQRecord{
		CorrelationID: correlationID,
		OriginalTopic: originalTopic,
		Payload:       payload,
		LastError:     terminal,
		RetryCount:    retryCount,
		ErrorHistory: []domain.DLQError{
			{Error: terminal, FailedAt: now, RetryCount: retryCount},
		},
		Status:        domain.DLQPending,
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	if err := w.dlq.Save(ctx, rec); err != nil {
		slog.Error("dlq save failed", "correlation_id", correlationID, "error", err)
	}
	slog.Error("job dead-lettered",
		"topic", originalTopic, "correlation_id", correlationID,
		"retry_count", retryCount, "error", terminal)

	if correlationID != "" {
		prog := domain.ErrorProgress(correlationID, usecase.FriendlyErrorMessage(terminal))
		if err := w.results.Write(ctx, prog); err != nil {
			slog.Warn("error progress write failed", "correlation_id", correlationID, "error", err)
		}
	}
	observability.DLQSavedTotal.WithLabelValues(originalTopic).Inc()
	observability.JobsProcessedTotal.WithLabelValues(originalTopic, "dead_letter").Inc()
}

// waitBackoff sleeps out whatever remains of the backoff for this attempt.
// The delay comes from the policy, not from the record's next_delay field,
// so capping and jitter always reflect current configuration. A record that
// sat in the topic past its delay is processed immediately.
func (w *Worker) waitBackoff(ctx domain.Context, meta domain.RetryMeta) {
	delay := w.cfg.Policy.Delay(meta.RetryCount)
	if at, err := time.Parse(time.RFC3339, meta.LastAttempt); err == nil {
		if remaining := time.Until(at.Add(delay)); remaining < delay {
			delay = remaining
		}
	}
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
