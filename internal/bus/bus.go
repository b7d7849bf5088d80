// Package bus wires up the Kafka-compatible readers the forwarder
// consumes from: one reader per input topic, fanned into a single
// channel. The fan-in shape follows the per-topic-reader-goroutine
// pattern used across the retrieved corpus's multi-topic consumers.
// The DLQ writer is owned separately by internal/dlq.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Message is one fetched record, tagged with the topic it came from so
// the consumer loop can route it to the right enrichment path.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Bus owns the per-topic readers for one forwarder instance.
type Bus struct {
	readers []*kafka.Reader
	out     chan Message
	errs    chan error
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Config describes the topics and brokers to connect to.
type Config struct {
	Brokers        []string
	ConsumerGroup  string
	CustomerTopic  string
	InventoryTopic string
}

// New constructs readers for the customer and inventory topics sharing
// ConsumerGroup. It does not start consuming until Start is called.
func New(cfg Config, logger *slog.Logger) *Bus {
	logger = logger.With("component", "bus")

	newReader := func(topic string) *kafka.Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.Brokers,
			GroupID: cfg.ConsumerGroup,
			Topic:   topic,
		})
	}

	return &Bus{
		readers: []*kafka.Reader{
			newReader(cfg.CustomerTopic),
			newReader(cfg.InventoryTopic),
		},
		out:    make(chan Message),
		errs:   make(chan error, 1),
		logger: logger,
	}
}

// Start launches one fetch goroutine per input topic, each publishing
// fetched messages onto the shared output channel. Per-partition order
// within a topic is preserved because each reader is fetched from
// sequentially by its own goroutine; no ordering guarantee is made
// across topics.
func (b *Bus) Start(ctx context.Context) {
	for _, r := range b.readers {
		b.wg.Add(1)
		go b.consume(ctx, r)
	}
}

// Messages returns the channel the consumer loop should select on.
func (b *Bus) Messages() <-chan Message {
	return b.out
}

func (b *Bus) consume(ctx context.Context, r *kafka.Reader) {
	defer b.wg.Done()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			select {
			case b.errs <- fmt.Errorf("fetching from %s: %w", r.Config().Topic, err):
			default:
			}
			return
		}

		select {
		case b.out <- Message{Topic: r.Config().Topic, Key: string(m.Key), Value: m.Value}:
			if err := r.CommitMessages(ctx, m); err != nil {
				b.logger.Warn("commit failed", "topic", r.Config().Topic, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Errs surfaces fatal reader errors (other than context cancellation).
func (b *Bus) Errs() <-chan error {
	return b.errs
}

// Close closes every reader, waiting for consume goroutines to exit.
func (b *Bus) Close() error {
	var firstErr error
	for _, r := range b.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	return firstErr
}
