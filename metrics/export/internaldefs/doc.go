// Package internaldefs holds the metric name and bucket tables shared by
// the Prometheus and OpenTelemetry exporters. It is not part of the public
// API surface.
package internaldefs
