package kafka

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"

	"github.com/fairyhunter13/chat-orchestrator/internal/dataflow"
	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// DataflowConsumer feeds the analytics bus into the aggregation pipeline.
// Processing is sequential: aggregation is cheap and per-window updates rely
// on in-order application within a partition.
type DataflowConsumer struct {
	client *kgo.Client
	proc   *dataflow.Processor
}

// NewDataflowConsumer connects a consumer group over the analytics topics.
func NewDataflowConsumer(brokers []string, groupID string, topics []string, proc *dataflow.Processor) (*DataflowConsumer, error) {
	instr := kotel.NewKotel(kotel.WithTracer(kotel.NewTracer()))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.WithHooks(instr.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.FetchMaxWait(time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.NewDataflowConsumer: %w", err)
	}
	return &DataflowConsumer{client: client, proc: proc}, nil
}

// Run polls until ctx is cancelled.
func (c *DataflowConsumer) Run(ctx domain.Context) error {
	slog.Info("dataflow consumer started")
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			slog.Info("dataflow consumer stopped")
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			c.proc.Process(ctx, rec.Topic, rec.Value)
			c.client.MarkCommitRecords(rec)
		})
	}
}

// Close leaves the consumer group and closes the client.
func (c *DataflowConsumer) Close() {
	c.client.Close()
}
