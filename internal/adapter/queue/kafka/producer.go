// Package kafka wires the primary job bus and the secondary analytics bus:
// producer, fire-and-forget event emitter, consumer worker pool with
// retry/DLQ handling, and topic bootstrap.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
)

// Producer publishes job payloads keyed by correlation id so every attempt of
// one job lands on the same partition.
type Producer struct {
	client *kgo.Client
}

var _ domain.Publisher = (*Producer)(nil)

// NewProducer connects a producer client and verifies broker reachability with
// exponential backoff before returning.
func NewProducer(ctx domain.Context, brokers []string) (*Producer, error) {
	instr := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer()))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(instr.Hooks()...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(5*time.Millisecond),
		kgo.DialTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.NewProducer: %w", err)
	}
	if err := pingBrokers(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("op=kafka.NewProducer: ping: %w", err)
	}
	return &Producer{client: client}, nil
}

// pingBrokers retries the initial broker handshake so a booting broker does
// not fail the whole process.
func pingBrokers(ctx domain.Context, client *kgo.Client) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxElapsedTime = 60 * time.Second
	return backoff.Retry(func() error {
		return client.Ping(ctx)
	}, backoff.WithContext(bo, ctx))
}

// Publish encodes the payload and produces it synchronously.
func (p *Producer) Publish(ctx domain.Context, topic, correlationID string, payload map[string]any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=kafka.Publish topic=%s: encode: %w", topic, err)
	}
	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(correlationID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("op=kafka.Publish topic=%s: %w", topic, err)
	}
	observability.JobsEnqueuedTotal.WithLabelValues(topic).Inc()
	return nil
}

// Client exposes the underlying client for topic bootstrap and the emitter.
func (p *Producer) Client() *kgo.Client { return p.client }

// Close flushes buffered records and closes the client.
func (p *Producer) Close() {
	p.client.Close()
}
