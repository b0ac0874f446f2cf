package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/chat-orchestrator/internal/domain"
	"github.com/fairyhunter13/chat-orchestrator/internal/observability"
)

// Emitter publishes analytics events without ever blocking or failing the
// request path. Events queue into a bounded buffer drained by one goroutine;
// when the buffer is full the event is dropped and counted.
type Emitter struct {
	client *kgo.Client
	ch     chan emittedEvent

	closeOnce sync.Once
	done      chan struct{}
}

type emittedEvent struct {
	topic string
	value []byte
}

var _ domain.EventEmitter = (*Emitter)(nil)

// NewEmitter starts the drain goroutine on the given producer client.
func NewEmitter(p *Producer, buffer int) *Emitter {
	if buffer <= 0 {
		buffer = 1000
	}
	e := &Emitter{
		client: p.Client(),
		ch:     make(chan emittedEvent, buffer),
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

// Emit queues one event. Encoding failures and full buffers drop the event.
func (e *Emitter) Emit(topic string, event map[string]any) {
	value, err := json.Marshal(event)
	if err != nil {
		slog.Warn("event encode failed", "topic", topic, "error", err)
		return
	}
	select {
	case e.ch <- emittedEvent{topic: topic, value: value}:
	default:
		observability.EventsDroppedTotal.Inc()
		slog.Warn("event buffer full, dropping", "topic", topic)
	}
}

func (e *Emitter) drain() {
	defer close(e.done)
	for ev := range e.ch {
		rec := &kgo.Record{Topic: ev.topic, Value: ev.value}
		e.client.Produce(context.Background(), rec, func(r *kgo.Record, err error) {
			if err != nil {
				slog.Warn("event produce failed", "topic", r.Topic, "error", err)
				return
			}
			observability.EventsEmittedTotal.WithLabelValues(r.Topic).Inc()
		})
	}
}

// Close stops accepting events and waits for the buffer to drain. The
// underlying client is owned by the Producer and stays open.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() { close(e.ch) })
	<-e.done
}
