// Package telemetry initializes OpenTelemetry tracing and metrics exporters.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cypher/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when the settings leave it empty.
const DefaultServiceName = "cypher"

// Shutdown flushes and stops the exporters.
type Shutdown func(ctx context.Context) error

// Init configures the global tracer and meter providers from settings.
// With no endpoint the global no-op providers stay in place.
func Init(ctx context.Context, settings config.TelemetrySettings, version string) (Shutdown, error) {
	if settings.Endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	serviceName := settings.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceExp, err := otlptracehttp.New(ctx, traceOptions(settings)...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	metricExp, err := otlpmetrichttp.New(ctx, metricOptions(settings)...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(15*time.Second),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// hasScheme reports whether endpoint is a full URL rather than host:port.
// OTEL_EXPORTER_OTLP_ENDPOINT is usually set as a URL.
func hasScheme(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

func traceOptions(settings config.TelemetrySettings) []otlptracehttp.Option {
	var opts []otlptracehttp.Option
	if hasScheme(settings.Endpoint) {
		opts = append(opts, otlptracehttp.WithEndpointURL(settings.Endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(settings.Endpoint))
	}
	if settings.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func metricOptions(settings config.TelemetrySettings) []otlpmetrichttp.Option {
	var opts []otlpmetrichttp.Option
	if hasScheme(settings.Endpoint) {
		opts = append(opts, otlpmetrichttp.WithEndpointURL(settings.Endpoint))
	} else {
		opts = append(opts, otlpmetrichttp.WithEndpoint(settings.Endpoint))
	}
	if settings.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}
