// Package progress provides the audit lifecycle events, a non-blocking hub and
// the sink interface the pipeline uses to report what happened to each audit.
// Events are batched on a background goroutine and fanned out to pluggable
// sinks such as structured logs or Prometheus metrics.
package progress
