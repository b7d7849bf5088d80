package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRegistersAgainstGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := New(reg, testLogger())

	tel.MessagesTotal.WithLabelValues("customer_data").Inc()
	tel.PostSuccessTotal.Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestNewTwiceAgainstSeparateRegistriesDoesNotPanic(t *testing.T) {
	New(prometheus.NewRegistry(), testLogger())
	New(prometheus.NewRegistry(), testLogger())
}

func TestMetricsExpositionIncludesRegisteredFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := New(reg, testLogger())
	tel.PostFailTotal.Inc()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "analytics_post_fail_total") {
		t.Fatalf("expected exposition to contain analytics_post_fail_total, got %q", body)
	}
}

func TestShutdownWithoutServeIsNoop(t *testing.T) {
	tel := New(prometheus.NewRegistry(), testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("expected nil error shutting down an unstarted server, got %v", err)
	}
}

func TestRssBytesDoesNotPanic(t *testing.T) {
	_ = rssBytes()
}
