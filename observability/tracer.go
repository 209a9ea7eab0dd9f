package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracing exporters.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracerConfig configures the global tracer provider.
type TracerConfig struct {
	Exporter     string
	Endpoint     string
	SamplingRate float64
	ServiceName  string
	// Output receives stdout exporter spans (default os.Stdout).
	Output io.Writer
}

// ShutdownFunc flushes and stops a provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer installs the global tracer provider. The none exporter installs
// a no-op provider.
func InitTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, ShutdownFunc, error) {
	var exporter sdktrace.SpanExporter

	switch cfg.Exporter {
	case "", ExporterNone:
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)

		return tp, func(context.Context) error { return nil }, nil
	case ExporterStdout:
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}

		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}

		exporter = exp
	case ExporterOTLP:
		exp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

		exporter = exp
	default:
		return nil, nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "supportmesh"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)

	return tp, tp.Shutdown, nil
}
