// Package consumer implements the main orchestration loop: read a
// message off the bus, dedup, enrich, deliver, and divert failures to
// the dead-letter queue. The select-over-channel-and-ticker shape
// follows the teacher's agent.Agent.Run and the assignment worker's
// loop in control-plane/internal/worker.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/analytics-forwarder/internal/batch"
	"github.com/pilot-net/analytics-forwarder/internal/bus"
	"github.com/pilot-net/analytics-forwarder/internal/config"
	"github.com/pilot-net/analytics-forwarder/internal/enrich"
	"github.com/pilot-net/analytics-forwarder/internal/idempotency"
	"github.com/pilot-net/analytics-forwarder/internal/model"
	"github.com/pilot-net/analytics-forwarder/internal/sink"
	"github.com/pilot-net/analytics-forwarder/internal/telemetry"
)

// minFlushCheckInterval floors how often the loop re-checks the
// time-based CSV flush trigger while idle between messages, so a
// pathologically small configured flush interval can't spin the
// ticker.
const minFlushCheckInterval = 10 * time.Millisecond

// Source is the subset of bus.Bus the loop drives. Narrowed to an
// interface, following the teacher's RolloutStore-style dependency
// seams (control-plane/internal/rollout), so the loop can be exercised
// with an in-memory fake instead of a live Kafka cluster.
type Source interface {
	Start(ctx context.Context)
	Messages() <-chan bus.Message
	Errs() <-chan error
}

// Deduper is the idempotency check the loop depends on.
type Deduper interface {
	CheckAndMark(ctx context.Context, topic, key string, payload []byte) idempotency.Outcome
}

// DLQPublisher is the failure sink the loop depends on.
type DLQPublisher interface {
	Publish(ctx context.Context, envelope model.DLQEnvelope, key string)
}

// Loop owns every component wired into the per-message pipeline.
type Loop struct {
	bus      Source
	idemp    Deduper
	enricher *enrich.Enricher
	batcher  *batch.Batcher
	dlq      DLQPublisher
	tel      *telemetry.Telemetry
	logger   *slog.Logger

	mode       config.Mode
	jsonSender sink.Sender
	csvSender  sink.Sender

	flushCheckInterval time.Duration
}

// Deps bundles the already-constructed components a Loop needs. It
// exists so cmd/forwarder owns construction order and error handling
// for things that can fail at startup (Redis ping, bus dial), while
// Loop itself only orchestrates.
type Deps struct {
	Bus        Source
	Idemp      Deduper
	Enricher   *enrich.Enricher
	Batcher    *batch.Batcher
	DLQ        DLQPublisher
	Telemetry  *telemetry.Telemetry
	Logger     *slog.Logger
	Mode       config.Mode
	JSONSender sink.Sender
	CSVSender  sink.Sender

	// FlushInterval is the configured CSV batch time trigger
	// (cfg.Batch.FlushInterval). The idle re-check ticker runs at a
	// fraction of it so the time trigger is noticed promptly even when
	// FlushInterval is sub-second (spec.md §8 S6).
	FlushInterval time.Duration
}

// flushCheckFraction is how much finer-grained than the configured
// flush interval the idle re-check ticker runs, so the trigger fires
// close to its deadline rather than up to a full interval late.
const flushCheckFraction = 5

// New assembles a Loop from Deps.
func New(d Deps) *Loop {
	interval := d.FlushInterval / flushCheckFraction
	if interval < minFlushCheckInterval {
		interval = minFlushCheckInterval
	}

	return &Loop{
		bus:                d.Bus,
		idemp:              d.Idemp,
		enricher:           d.Enricher,
		batcher:            d.Batcher,
		dlq:                d.DLQ,
		tel:                d.Telemetry,
		logger:             d.Logger.With("component", "consumer_loop"),
		mode:               d.Mode,
		jsonSender:         d.JSONSender,
		csvSender:          d.CSVSender,
		flushCheckInterval: interval,
	}
}

// Run drives the loop until ctx is cancelled, then performs a
// best-effort final flush and returns.
func (l *Loop) Run(ctx context.Context) error {
	l.bus.Start(ctx)

	ticker := time.NewTicker(l.flushCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.shutdownFlush()
			return nil
		case err := <-l.bus.Errs():
			l.shutdownFlush()
			return fmt.Errorf("bus reader failed: %w", err)
		case msg := <-l.bus.Messages():
			l.handle(ctx, msg)
			l.checkTimeFlush(ctx)
		case <-ticker.C:
			l.checkTimeFlush(ctx)
		}
	}
}

// handle implements spec.md §4.7 steps 1-7 for a single message.
func (l *Loop) handle(ctx context.Context, msg bus.Message) {
	outcome := l.idemp.CheckAndMark(ctx, msg.Topic, msg.Key, msg.Value)
	if outcome == idempotency.Skip {
		if l.tel != nil {
			l.tel.DedupSkippedTotal.WithLabelValues(msg.Topic).Inc()
		}
		return
	}
	if l.tel != nil {
		l.tel.MessagesTotal.WithLabelValues(msg.Topic).Inc()
	}

	var payload model.RawEvent
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		l.logger.Warn("malformed payload, dropping", "topic", msg.Topic, "key", msg.Key, "error", err)
		payload = nil
	}

	merged, ok := l.enricher.Enrich(msg.Topic, msg.Key, payload)
	if !ok {
		return
	}

	switch l.mode {
	case config.ModeJSON:
		l.deliverJSON(ctx, msg, *merged)
	case config.ModeCSV:
		l.deliverCSV(ctx, *merged)
	}
}

func (l *Loop) deliverJSON(ctx context.Context, msg bus.Message, merged model.MergedEvent) {
	ok, err := l.jsonSender.Send(ctx, []model.MergedEvent{merged})
	if ok && err == nil {
		return
	}

	envelope := model.DLQEnvelope{
		Error:       sinkErrorReason(err),
		SourceTopic: msg.Topic,
		Key:         msg.Key,
		Payload:     &merged,
	}
	l.dlq.Publish(ctx, envelope, msg.Key)
}

func (l *Loop) deliverCSV(ctx context.Context, merged model.MergedEvent) {
	if !l.batcher.Add(merged) {
		return
	}
	l.flushCSV(ctx, false)
}

// checkTimeFlush re-checks the time-based trigger independent of
// message arrival (spec.md §4.7 step 8), so low-volume streams still
// flush within FLUSH_INTERVAL_SECS.
func (l *Loop) checkTimeFlush(ctx context.Context) {
	if l.mode != config.ModeCSV {
		return
	}
	if l.batcher.ShouldFlush() {
		l.flushCSV(ctx, false)
	}
}

func (l *Loop) flushCSV(ctx context.Context, force bool) {
	events := l.batcher.Flush(force)
	if len(events) == 0 {
		return
	}

	if l.tel != nil {
		l.tel.BatchesTotal.Inc()
		l.tel.BatchRowsTotal.Add(float64(len(events)))
	}

	ok, err := l.csvSender.Send(ctx, events)
	if ok && err == nil {
		return
	}

	envelope := model.DLQEnvelope{
		Error:       sinkErrorReason(err),
		SourceMode:  "csv",
		PayloadRows: len(events),
	}
	l.dlq.Publish(ctx, envelope, "")
}

// shutdownFlush performs the best-effort final CSV flush documented in
// spec.md §4.7 ("drain a final forced flush ... on a best-effort
// basis"). A short bounded context keeps shutdown from hanging on a
// wedged sink.
func (l *Loop) shutdownFlush() {
	if l.mode != config.ModeCSV {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l.flushCSV(ctx, true)
}

func sinkErrorReason(err error) string {
	if err == nil {
		return "analytics_send_failed: unknown"
	}
	return err.Error()
}
