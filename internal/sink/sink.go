// Package sink delivers merged events to the downstream analytics HTTP
// endpoint, either as a single JSON-encoded event or a batched CSV
// document, following the build-request/do/classify-status shape of
// the teacher's agent/internal/shipper.Shipper.ship.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/pilot-net/analytics-forwarder/internal/csvenc"
	"github.com/pilot-net/analytics-forwarder/internal/model"
	"github.com/pilot-net/analytics-forwarder/internal/telemetry"
)

const (
	jsonTimeout = 5 * time.Second
	csvTimeout  = 10 * time.Second
)

// StatusError reports a non-2xx response from the analytics sink. Its
// Error() text starts with "analytics_http_<code>", matching the DLQ
// envelope error convention documented in spec.md §8 (S3).
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analytics_http_%d", e.Code)
}

// Sender delivers events to the analytics sink.
type Sender interface {
	// Send posts the given events (a single event for JSON mode, a
	// batch for CSV mode) and reports whether delivery succeeded.
	// Latency is always recorded, even on failure.
	Send(ctx context.Context, events []model.MergedEvent) (ok bool, err error)
}

type baseSender struct {
	client      *http.Client
	url         string
	limiter     *rate.Limiter
	tel         *telemetry.Telemetry
	timeout     time.Duration
	contentType string
}

// newBase builds the shared HTTP plumbing for both sender modes. A
// zero or negative rate limit disables throttling.
func newBase(url string, timeout time.Duration, contentType string, ratePerSec float64, tel *telemetry.Telemetry) baseSender {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return baseSender{
		client:      &http.Client{Timeout: timeout},
		url:         url,
		limiter:     limiter,
		tel:         tel,
		timeout:     timeout,
		contentType: contentType,
	}
}

// post sends body with a per-request deadline bounded by timeout,
// classifies 2xx as success, and unconditionally records latency.
func (b baseSender) post(ctx context.Context, body []byte) (bool, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("rate limiter: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("building sink request: %w", err)
	}
	req.Header.Set("Content-Type", b.contentType)

	start := time.Now()
	resp, err := b.client.Do(req)
	elapsed := time.Since(start)
	if b.tel != nil {
		b.tel.PostLatencySeconds.Observe(elapsed.Seconds())
	}
	if err != nil {
		b.recordOutcome(false)
		return false, fmt.Errorf("posting to sink: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	b.recordOutcome(ok)
	if !ok {
		return false, &StatusError{Code: resp.StatusCode}
	}
	return true, nil
}

func (b baseSender) recordOutcome(ok bool) {
	if b.tel == nil {
		return
	}
	if ok {
		b.tel.PostSuccessTotal.Inc()
	} else {
		b.tel.PostFailTotal.Inc()
	}
}

// JSONSender posts one merged event per call as application/json.
type JSONSender struct {
	baseSender
}

// NewJSONSender constructs a sender for JSON delivery mode (spec.md §4.5).
func NewJSONSender(url string, ratePerSec float64, tel *telemetry.Telemetry) *JSONSender {
	return &JSONSender{newBase(url, jsonTimeout, "application/json", ratePerSec, tel)}
}

// Send posts the first event in events as a single JSON document. It
// is an error to call Send with anything other than exactly one event.
func (s *JSONSender) Send(ctx context.Context, events []model.MergedEvent) (bool, error) {
	if len(events) != 1 {
		return false, fmt.Errorf("json sender expects exactly one event, got %d", len(events))
	}
	body, err := json.Marshal(events[0])
	if err != nil {
		return false, fmt.Errorf("marshaling event: %w", err)
	}
	return s.post(ctx, body)
}

// CSVSender posts a batch of merged events as a single text/csv document.
type CSVSender struct {
	baseSender
}

// NewCSVSender constructs a sender for CSV delivery mode (spec.md §4.5).
func NewCSVSender(url string, ratePerSec float64, tel *telemetry.Telemetry) *CSVSender {
	return &CSVSender{newBase(url, csvTimeout, "text/csv", ratePerSec, tel)}
}

// Send encodes events as CSV and posts the whole batch in one request.
func (s *CSVSender) Send(ctx context.Context, events []model.MergedEvent) (bool, error) {
	body := csvenc.Encode(events)
	return s.post(ctx, body)
}
