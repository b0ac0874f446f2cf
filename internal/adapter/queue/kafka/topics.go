package kafka

import (
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
)

// topicAlreadyExists is the Kafka protocol error code returned when a create
// request races another process bootstrapping the same topic.
const topicAlreadyExists = 36

// EnsureTopics creates the given topics, tolerating ones that already exist.
// Every binary runs this at startup so ordering between services does not
// matter.
func EnsureTopics(ctx domain.Context, client *kgo.Client, partitions, replication int, topics ...string) error {
	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000
	for _, topic := range topics {
		t := kmsg.NewCreateTopicsRequestTopic()
		t.Topic = topic
		t.NumPartitions = int32(partitions)
		t.ReplicationFactor = int16(replication)
		req.Topics = append(req.Topics, t)
	}

	resp, err := req.RequestWith(ctx, client)
	if err != nil {
		return fmt.Errorf("op=kafka.EnsureTopics: %w", err)
	}
	for _, t := range resp.Topics {
		switch t.ErrorCode {
		case 0:
			slog.Info("topic created", "topic", t.Topic, "partitions", partitions)
		case topicAlreadyExists:
			slog.Debug("topic exists", "topic", t.Topic)
		default:
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("op=kafka.EnsureTopics topic=%s code=%d: %s", t.Topic, t.ErrorCode, msg)
		}
	}
	return nil
}
