// Package telemetry sets up OpenTelemetry tracing and exposes the
// Prometheus registry over HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Trace exporters accepted by Init.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned by Init for an unrecognized exporter.
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Config controls tracing.
type Config struct {
	// ServiceName identifies this process in exported spans.
	ServiceName string

	// ServiceVersion is recorded as service.version.
	ServiceVersion string

	// TraceExporter is ExporterNone or ExporterStdout.
	TraceExporter string

	// Writer receives stdout spans. Default: os.Stdout.
	Writer io.Writer
}

// Shutdown flushes and stops whatever Init started.
type Shutdown func(context.Context) error

// Init installs a global TracerProvider for the configured exporter. With
// ExporterNone the global no-op provider stays in place and spans cost
// nothing. The returned Shutdown must be called on exit.
func Init(_ context.Context, cfg Config) (Shutdown, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	switch cfg.TraceExporter {
	case ExporterNone, "":
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// MetricsHandler serves the default Prometheus registry, which every
// promauto metric in this module registers with.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
