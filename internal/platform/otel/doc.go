// Package otel wires opt-in OpenTelemetry tracing for lifecycle binaries.
package otel
