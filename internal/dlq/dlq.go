// Package dlq publishes failure envelopes to the dead-letter topic,
// following the publish-and-swallow shape of the kafka-go DLQ writer
// pattern used across the retrieved corpus's consumer implementations.
package dlq

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/pilot-net/analytics-forwarder/internal/model"
	"github.com/pilot-net/analytics-forwarder/internal/telemetry"
)

// messageWriter is the subset of *kafka.Writer that Publisher needs,
// narrowed so tests can substitute a fake without a real broker.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes DLQEnvelope messages to the configured DLQ topic.
type Publisher struct {
	writer messageWriter
	topic  string
	tel    *telemetry.Telemetry
	logger *slog.Logger
}

// New constructs a Publisher writing to dlqTopic on the given brokers.
func New(brokers []string, dlqTopic string, tel *telemetry.Telemetry, logger *slog.Logger) *Publisher {
	return newWithWriter(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    dlqTopic,
		Balancer: &kafka.LeastBytes{},
	}, dlqTopic, tel, logger)
}

func newWithWriter(w messageWriter, topic string, tel *telemetry.Telemetry, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: w,
		topic:  topic,
		tel:    tel,
		logger: logger.With("component", "dlq_publisher"),
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Publish marshals envelope and writes it to the DLQ topic, keyed by
// key when non-empty. A publish failure is logged at error level and
// swallowed: it is never returned to the caller, so the consumer loop
// never stalls because the DLQ itself is unavailable.
func (p *Publisher) Publish(ctx context.Context, envelope model.DLQEnvelope, key string) {
	body, err := envelope.Marshal()
	if err != nil {
		p.logger.Error("marshaling dlq envelope", "error", err)
		return
	}

	msg := kafka.Message{Value: body}
	if key != "" {
		msg.Key = []byte(key)
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("dlq publish failed", "error", err, "topic", p.topic)
		return
	}

	if p.tel != nil {
		p.tel.DLQTotal.Inc()
	}
}
