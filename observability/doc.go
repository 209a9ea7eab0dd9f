// Package observability wires OpenTelemetry tracing and metrics for the
// runner and the HTTP surface. Metrics are exported in the Prometheus text
// format through the otel Prometheus exporter.
package observability
