// Package telemetry bootstraps the relay's OpenTelemetry tracer provider, as
// referenced by the teacher's cmd/server/main.go ("telemetry.InitTracer()").
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// InitTracer installs a global TracerProvider that exports spans as
// newline-delimited JSON to stdout, suitable for local development and for
// piping into a log-based trace collector in production. It returns a
// shutdown func to flush and detach the provider on exit.
func InitTracer(serviceName string) (shutdown func(context.Context) error, err error) {
	exporter, err := stdouttrace.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Disabled reports whether tracing has been turned off via
// RELAY_TRACING_DISABLED, letting operators skip the stdout exporter noise
// outside development.
func Disabled() bool {
	return os.Getenv("RELAY_TRACING_DISABLED") == "true"
}
