// Package observability provides the OpenTelemetry-based metrics
// extension. It implements the ext lifecycle hooks to record
// system-wide counters and histograms for enqueues, dequeue wait
// latency, completions, retries, deferrals, dead letters, backpressure
// rejections, and circuit breaker transitions.
//
// For per-execution tracing and metrics around the handler itself, see
// the middleware package: middleware.Tracing() and middleware.Metrics().
package observability
