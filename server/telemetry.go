package server

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// TelemetryConfig selects where run spans are exported.
type TelemetryConfig struct {
	Enabled  bool   `env:"EXECUE_OTEL_ENABLED" envDefault:"true"`
	Endpoint string `env:"EXECUE_OTEL_ENDPOINT"`
}

// SetupTelemetry initialises OpenTelemetry tracing for serviceName.
//
// Tracing is opt-in: when EXECUE_OTEL_ENDPOINT is empty or
// EXECUE_OTEL_ENABLED is false, SetupTelemetry returns a no-op shutdown
// function and no global provider is registered.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func SetupTelemetry(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	var cfg TelemetryConfig
	if err := env.Parse(&cfg); err != nil {
		return noop, fmt.Errorf("parse env: %w", err)
	}
	if !cfg.Enabled || cfg.Endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Infof("exporting run spans to %s", cfg.Endpoint)
	return tp.Shutdown, nil
}
