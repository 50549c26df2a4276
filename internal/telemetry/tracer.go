// Package telemetry sets up OpenTelemetry tracing for the engine. Every
// fiber is a span, and when telemetry is enabled the spans are exported to an
// OTLP HTTP collector, otherwise they go to a no-op provider.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"domainop/internal/config"
	"domainop/pkg/logging"
)

// TracerName is the instrumentation scope of fiber spans.
const TracerName = "domainop/internal/work"

// NewTracerProvider creates the tracer provider described by cfg and installs
// it as the global provider. Returns a no-op provider if telemetry is disabled.
// The caller is responsible for calling Shutdown on the returned provider.
func NewTracerProvider(ctx context.Context, cfg config.TelemetryConfig, version string) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		logging.Debug("Telemetry", "Tracing disabled, using no-op tracer provider")
		return noop.NewTracerProvider(), nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "domainop"
	}
	if version == "" {
		version = "unknown"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg.Endpoint, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Sampling))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.Insecure {
		logging.Warn("Telemetry", "Tracing uses an insecure connection to %s", cfg.Endpoint)
	}
	logging.Info("Telemetry", "Tracing initialized: endpoint=%s sampling=%.2f", cfg.Endpoint, cfg.Sampling)
	return tp, nil
}

func newExporter(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptracehttp.New(ctx, opts...)
}

// Shutdown flushes pending spans of an SDK provider. Other providers are left
// alone.
func Shutdown(ctx context.Context, tp trace.TracerProvider) error {
	sdk, ok := tp.(*sdktrace.TracerProvider)
	if !ok {
		return nil
	}
	if err := sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	logging.Debug("Telemetry", "Tracer provider shutdown complete")
	return nil
}
