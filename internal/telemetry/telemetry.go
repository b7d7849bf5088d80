// Package telemetry registers the forwarder's Prometheus metric
// families and serves them over HTTP, following the promauto
// registration style used throughout the retrieved corpus (e.g.
// estuary-flow's network/bindings metrics packages).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Telemetry holds every metric family spec.md §6 requires plus a
// handful of process resource gauges for operational visibility.
type Telemetry struct {
	MessagesTotal      *prometheus.CounterVec
	DedupSkippedTotal  *prometheus.CounterVec
	PostSuccessTotal   prometheus.Counter
	PostFailTotal      prometheus.Counter
	DLQTotal           prometheus.Counter
	PostLatencySeconds prometheus.Histogram
	BatchRowsTotal     prometheus.Counter
	BatchesTotal       prometheus.Counter

	goroutines prometheus.GaugeFunc
	rssBytes   prometheus.GaugeFunc

	server *http.Server
	logger *slog.Logger
}

// New registers all metric families against reg. Pass
// prometheus.DefaultRegisterer in production; tests should pass a
// fresh prometheus.NewRegistry() so repeated calls don't collide.
func New(reg prometheus.Registerer, logger *slog.Logger) *Telemetry {
	factory := promauto.With(reg)

	t := &Telemetry{
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Messages consumed, by topic.",
		}, []string{"topic"}),
		DedupSkippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_dedup_skipped_total",
			Help: "Messages skipped due to idempotency, by topic.",
		}, []string{"topic"}),
		PostSuccessTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_post_success_total",
			Help: "Successful analytics sink POSTs.",
		}),
		PostFailTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_post_fail_total",
			Help: "Failed analytics sink POSTs.",
		}),
		DLQTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_dlq_total",
			Help: "Messages published to the analytics dead-letter topic.",
		}),
		PostLatencySeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "analytics_post_latency_seconds",
			Help:    "Latency of analytics sink POSTs.",
			Buckets: prometheus.DefBuckets,
		}),
		BatchRowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_batch_rows_total",
			Help: "Total rows included in analytics CSV batches.",
		}),
		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_batches_total",
			Help: "Total analytics CSV batches sent.",
		}),
		logger: logger,
	}

	t.goroutines = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "forwarder_goroutines",
		Help: "Current number of goroutines.",
	}, func() float64 { return float64(runtime.NumGoroutine()) })

	t.rssBytes = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "forwarder_process_resident_memory_bytes",
		Help: "Resident memory of the forwarder process, in bytes.",
	}, func() float64 { return float64(rssBytes()) })

	return t
}

// Serve starts the /metrics HTTP endpoint in the background and
// returns immediately. Call Shutdown during graceful shutdown.
func (t *Telemetry) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		t.logger.Info("telemetry server listening", "port", port)
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("telemetry server error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the /metrics server.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

// rssBytes reports the current process's resident set size, or 0 if
// it cannot be determined.
func rssBytes() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}
