// Command forwarder runs the stream-merge analytics forwarder: it
// consumes customer and inventory update topics, deduplicates and
// enriches them, and delivers merged events to an analytics HTTP sink.
//
// # Configuration
//
// The forwarder is configured via environment variables, with an
// optional FORWARDER_CONFIG_FILE YAML overlay supplying defaults. See
// internal/config for the full variable list.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/analytics-forwarder/internal/batch"
	"github.com/pilot-net/analytics-forwarder/internal/bus"
	"github.com/pilot-net/analytics-forwarder/internal/config"
	"github.com/pilot-net/analytics-forwarder/internal/consumer"
	"github.com/pilot-net/analytics-forwarder/internal/dlq"
	"github.com/pilot-net/analytics-forwarder/internal/enrich"
	"github.com/pilot-net/analytics-forwarder/internal/idempotency"
	"github.com/pilot-net/analytics-forwarder/internal/sink"
	"github.com/pilot-net/analytics-forwarder/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	instanceID := uuid.New().String()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("instance_id", instanceID)

	logger.Info("starting forwarder",
		"mode", cfg.Sink.Mode,
		"customer_topic", cfg.Bus.CustomerTopic,
		"inventory_topic", cfg.Bus.InventoryTopic,
		"consumer_group", cfg.Bus.ConsumerGroup,
	)

	tel := telemetry.New(prometheus.DefaultRegisterer, logger)
	tel.Serve(cfg.MetricsPort)

	idemp, err := idempotency.New(cfg.Redis.URL, cfg.Redis.IdempTTL, logger)
	if err != nil {
		logger.Error("failed to construct idempotency store", "error", err)
		os.Exit(1)
	}
	defer idemp.Close()

	b := bus.New(bus.Config{
		Brokers:        cfg.Bus.BootstrapServers,
		ConsumerGroup:  cfg.Bus.ConsumerGroup,
		CustomerTopic:  cfg.Bus.CustomerTopic,
		InventoryTopic: cfg.Bus.InventoryTopic,
	}, logger)
	defer b.Close()

	dlqPub := dlq.New(cfg.Bus.BootstrapServers, cfg.Bus.DLQTopic, tel, logger)
	defer dlqPub.Close()

	enricher := enrich.New(cfg.Bus.CustomerTopic, cfg.Bus.InventoryTopic, logger)
	batcher := batch.New(cfg.Batch.MaxSize, cfg.Batch.FlushInterval)

	loop := consumer.New(consumer.Deps{
		Bus:           b,
		Idemp:         idemp,
		Enricher:      enricher,
		Batcher:       batcher,
		DLQ:           dlqPub,
		Telemetry:     tel,
		Logger:        logger,
		Mode:          cfg.Sink.Mode,
		JSONSender:    sink.NewJSONSender(cfg.Sink.URL, cfg.Sink.RateLimitPerSec, tel),
		CSVSender:     sink.NewCSVSender(cfg.Sink.URL, cfg.Sink.RateLimitPerSec, tel),
		FlushInterval: cfg.Batch.FlushInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- loop.Run(ctx)
	}()

	select {
	case err := <-runErr:
		if err != nil {
			logger.Error("consumer loop exited with error", "error", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		<-runErr
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
