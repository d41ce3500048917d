package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/leftonspace/conduit/breaker"
	"github.com/leftonspace/conduit/ext"
	"github.com/leftonspace/conduit/job"
)

// meterName is the instrumentation scope name for conduit metrics.
const meterName = "github.com/leftonspace/conduit/observability"

// Compile-time interface checks.
var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.JobEnqueued          = (*MetricsExtension)(nil)
	_ ext.JobDequeued          = (*MetricsExtension)(nil)
	_ ext.JobCompleted         = (*MetricsExtension)(nil)
	_ ext.JobRetrying          = (*MetricsExtension)(nil)
	_ ext.JobDeferred          = (*MetricsExtension)(nil)
	_ ext.JobDLQ               = (*MetricsExtension)(nil)
	_ ext.BackpressureRejected = (*MetricsExtension)(nil)
	_ ext.BreakerTransition    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via
// OpenTelemetry. Register it on the engine to track enqueue rates,
// queue wait latency, completion and retry counts, deferrals, dead
// letters, backpressure rejections, and breaker state changes.
type MetricsExtension struct {
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	retried      metric.Int64Counter
	deferred     metric.Int64Counter
	deadLettered metric.Int64Counter
	rejected     metric.Int64Counter
	transitions  metric.Int64Counter
	waitSeconds  metric.Float64Histogram
	procSeconds  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noop.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a MeterProvider for
// testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.enqueued, _ = meter.Int64Counter("conduit.job.enqueued",
		metric.WithDescription("Jobs admitted by the scheduler"),
		metric.WithUnit("{job}"))
	m.completed, _ = meter.Int64Counter("conduit.job.completed",
		metric.WithDescription("Jobs completed successfully"),
		metric.WithUnit("{job}"))
	m.retried, _ = meter.Int64Counter("conduit.job.retried",
		metric.WithDescription("Transient failures scheduled for retry"),
		metric.WithUnit("{job}"))
	m.deferred, _ = meter.Int64Counter("conduit.job.deferred",
		metric.WithDescription("Jobs deferred without consuming an attempt"),
		metric.WithUnit("{job}"))
	m.deadLettered, _ = meter.Int64Counter("conduit.job.dead_lettered",
		metric.WithDescription("Jobs moved to the dead letter store"),
		metric.WithUnit("{job}"))
	m.rejected, _ = meter.Int64Counter("conduit.backpressure.rejections",
		metric.WithDescription("Enqueues rejected by admission control"),
		metric.WithUnit("{rejection}"))
	m.transitions, _ = meter.Int64Counter("conduit.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"))
	m.waitSeconds, _ = meter.Float64Histogram("conduit.job.wait",
		metric.WithDescription("Time from enqueue to dequeue in seconds"),
		metric.WithUnit("s"))
	m.procSeconds, _ = meter.Float64Histogram("conduit.job.processing",
		metric.WithDescription("Handler processing time in seconds"),
		metric.WithUnit("s"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("queue", j.Queue),
		attribute.String("tenant", j.TenantID),
		attribute.String("dependency", j.Dependency),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDequeued implements ext.JobDequeued.
func (m *MetricsExtension) OnJobDequeued(ctx context.Context, j *job.Job, wait time.Duration) error {
	m.waitSeconds.Record(ctx, wait.Seconds(), jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.completed.Add(ctx, 1, jobAttrs(j))
	m.procSeconds.Record(ctx, elapsed.Seconds(), jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDeferred implements ext.JobDeferred.
func (m *MetricsExtension) OnJobDeferred(ctx context.Context, j *job.Job, reason string) error {
	m.deferred.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", j.Queue),
		attribute.String("tenant", j.TenantID),
		attribute.String("dependency", j.Dependency),
		attribute.String("reason", reason),
	))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.deadLettered.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnBackpressureRejected implements ext.BackpressureRejected.
func (m *MetricsExtension) OnBackpressureRejected(ctx context.Context, queue, tenantID string) error {
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("tenant", tenantID),
	))
	return nil
}

// OnBreakerTransition implements ext.BreakerTransition.
func (m *MetricsExtension) OnBreakerTransition(ctx context.Context, dependency string, from, to breaker.State) error {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dependency", dependency),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	))
	return nil
}
