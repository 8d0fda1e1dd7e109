// Package tracing wires request spans across the K -> F -> J -> (A, B, G)
// -> I -> H call chain into an OTLP/gRPC exporter. Exporting is a no-op
// unless OTEL_EXPORTER_OTLP_ENDPOINT is set: without it, Init installs a
// trace provider that never samples, so Start calls are free.
package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentguard"

// Init installs the global TracerProvider and text-map propagator. The
// returned shutdown func flushes and closes the exporter; call it during
// graceful shutdown. Safe to call multiple times across process restarts
// in tests since each call installs a fresh provider.
func Init(ctx context.Context) (shutdown func(context.Context) error, err error) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		otel.SetTracerProvider(provider)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		return provider.Shutdown, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return provider.Shutdown, nil
}

// Tracer returns the package-wide tracer, sourced from whatever provider
// Init installed (or the global no-op default if Init was never called).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a child span named label under ctx's existing span, if
// any, returning the derived context and the span to End().
func StartSpan(ctx context.Context, label string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, label)
}
