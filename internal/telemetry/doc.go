// Package telemetry periodically samples counters from the pipeline
// components and emits a consolidated snapshot: a structured log line plus
// Prometheus metrics. It is read-only; it never mutates component state.
package telemetry
