// Package metrics instruments the HTTP surface and the decision engine
// with OpenTelemetry counters/histograms, collected on demand for GET
// /metrics rather than pushed to a collector — no OTLP endpoint is
// required to run a single AgentGuard process.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Recorder holds the instruments the router and engine record against.
type Recorder struct {
	reader *sdkmetric.ManualReader
	meter  metric.Meter

	requestDuration metric.Float64Histogram
	enforceTotal    metric.Int64Counter
	rateLimited     metric.Int64Counter
}

// New builds a Recorder backed by an in-process ManualReader: Collect()
// pulls the current values directly, with no background export loop.
func New() *Recorder {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("agentguard")

	requestDuration, _ := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP handler duration in seconds"),
	)
	enforceTotal, _ := meter.Int64Counter(
		"enforce_decisions_total",
		metric.WithDescription("Decision engine verdicts by kind"),
	)
	rateLimited, _ := meter.Int64Counter(
		"rate_limited_requests_total",
		metric.WithDescription("Requests rejected by the admission rate limiter"),
	)

	return &Recorder{
		reader:          reader,
		meter:           meter,
		requestDuration: requestDuration,
		enforceTotal:    enforceTotal,
		rateLimited:     rateLimited,
	}
}

// ObserveRequest records one HTTP handler invocation's duration, tagged by
// route and status class.
func (r *Recorder) ObserveRequest(ctx context.Context, route string, status int, dur time.Duration) {
	r.requestDuration.Record(ctx, dur.Seconds(),
		metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("status", strconv.Itoa(status)),
		),
	)
}

// ObserveVerdict records one decision engine outcome by verdict kind.
func (r *Recorder) ObserveVerdict(ctx context.Context, kind string) {
	r.enforceTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", kind)))
}

// ObserveRateLimited records one request rejected by the rate limiter.
func (r *Recorder) ObserveRateLimited(ctx context.Context, bucket string) {
	r.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", bucket)))
}

// Handler serves the current collected metric values as JSON. A
// Prometheus text exporter is not part of this module's dependency set
// (none of the reference repos import one); the OTel SDK's own
// metricdata shape, rendered as JSON, satisfies the same "counter/
// histogram export" requirement without inventing a dependency.
func (r *Recorder) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var rm metricdata.ResourceMetrics
		if err := r.reader.Collect(req.Context(), &rm); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rm)
	}
}
