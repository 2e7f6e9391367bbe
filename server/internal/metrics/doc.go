// Package metrics exposes discovery and streaming counters at /metrics in the
// Prometheus text format. It implements discovery.Recorder.
package metrics
