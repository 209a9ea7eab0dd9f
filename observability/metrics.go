package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/hupe1980/supportmesh/core"
)

// Recorder receives the measurements of the runner and the HTTP surface.
type Recorder interface {
	RecordTurn(ctx context.Context, agent string, status core.TurnStatus, kind core.ErrorKind, d time.Duration)
	RecordDelegation(ctx context.Context, from, to string)
	RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration)
}

// NoopRecorder discards every measurement.
type NoopRecorder struct{}

func (NoopRecorder) RecordTurn(context.Context, string, core.TurnStatus, core.ErrorKind, time.Duration) {}

func (NoopRecorder) RecordDelegation(context.Context, string, string) {}

func (NoopRecorder) RecordHTTPRequest(context.Context, string, string, int, time.Duration) {}

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*Metrics)(nil)
)

// Metrics records measurements through otel instruments exported to a
// dedicated Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	turns         metric.Int64Counter
	turnDuration  metric.Float64Histogram
	delegations   metric.Int64Counter
	httpRequests  metric.Int64Counter
	httpDurations metric.Float64Histogram
}

// NewMetrics creates the instruments and the registry backing Handler.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("github.com/hupe1980/supportmesh")

	m := &Metrics{registry: registry, provider: provider}

	if m.turns, err = meter.Int64Counter("supportmesh.turns",
		metric.WithDescription("Completed turns by terminal status")); err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	if m.turnDuration, err = meter.Float64Histogram("supportmesh.turn.duration",
		metric.WithDescription("Turn duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	if m.delegations, err = meter.Int64Counter("supportmesh.delegations",
		metric.WithDescription("Agent to agent delegations")); err != nil {
		return nil, fmt.Errorf("failed to create delegations counter: %w", err)
	}

	if m.httpRequests, err = meter.Int64Counter("supportmesh.http.requests",
		metric.WithDescription("HTTP requests by route and status")); err != nil {
		return nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	if m.httpDurations, err = meter.Float64Histogram("supportmesh.http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// RecordTurn implements Recorder.
func (m *Metrics) RecordTurn(ctx context.Context, agent string, status core.TurnStatus, kind core.ErrorKind, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("status", string(status)),
		attribute.String("error_kind", string(kind)),
	)

	m.turns.Add(ctx, 1, attrs)
	m.turnDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", string(status))))
}

// RecordDelegation implements Recorder.
func (m *Metrics) RecordDelegation(ctx context.Context, from, to string) {
	m.delegations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordHTTPRequest implements Recorder.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", strconv.Itoa(status)),
	)

	m.httpRequests.Add(ctx, 1, attrs)
	m.httpDurations.Record(ctx, d.Seconds(), attrs)
}
