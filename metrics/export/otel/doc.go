// Package otel exposes pipeline metrics as OpenTelemetry observable
// instruments on a caller-provided meter.
package otel
