// Package progress provides the event primitives, non-blocking hub, and emitter
// interface the crawler uses to report what it fetched. Events are batched on a
// background goroutine and fanned out to sinks such as structured logs or
// Prometheus metrics.
package progress
