// Package prometheus renders pipeline metrics in Prometheus text
// exposition format, without registering anything in a global registry.
package prometheus
