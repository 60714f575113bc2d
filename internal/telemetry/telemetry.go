// Package telemetry installs the process-wide OpenTelemetry tracer
// provider and propagator.
package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xraph/backlog/internal/config"
)

// Shutdown flushes and stops the provider.
type Shutdown func(ctx context.Context) error

// Setup installs a W3C trace-context propagator and, when an OTLP
// endpoint is configured, a batching OTLP/HTTP tracer provider. Without
// an endpoint a no-op provider is installed.
func Setup(ctx context.Context, cfg config.OtelConfig, log *slog.Logger) (trace.TracerProvider, Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled() {
		log.Debug("OTel tracing disabled (OTEL_EXPORTER_OTLP_ENDPOINT not set)")
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.ExporterEndpoint),
	)
	if err != nil {
		return nil, nil, err
	}

	tp := NewProvider(ctx, cfg, log, sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)

	log.Info("OTel tracing enabled",
		slog.String("endpoint", cfg.ExporterEndpoint),
		slog.String("service", cfg.ServiceName),
		slog.Float64("sampling_rate", cfg.SamplingRate),
	)
	return tp, tp.Shutdown, nil
}

// NewProvider builds an SDK tracer provider with the service resource and
// ratio sampler from cfg. Span processors are passed as options.
func NewProvider(ctx context.Context, cfg config.OtelConfig, log *slog.Logger, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
		resource.WithFromEnv(),
		resource.WithProcess(),
	)
	switch {
	case err == nil:
	case errors.Is(err, resource.ErrPartialResource) && res != nil:
		log.Warn("OTel resource partially detected", slog.String("error", err.Error()))
	default:
		log.Warn("OTel resource detection failed; using service name only", slog.String("error", err.Error()))
		res = resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(cfg.ServiceName))
	}

	var sampler sdktrace.Sampler
	if cfg.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	}, opts...)
	return sdktrace.NewTracerProvider(opts...)
}
