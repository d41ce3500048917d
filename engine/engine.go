// Package engine wires all conduit subsystems together: the fair
// scheduler, breaker registry, override registry, degradation manager,
// idempotency and dead letter services, extension registry, middleware
// chain and worker pool. It provides the producer API (Enqueue,
// handler registration) and the admin facade.
//
// This package exists to break the import cycle: the root conduit
// package defines Entity and the failure taxonomy (imported by job,
// dlq, etc.) and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/backoff"
	"github.com/leftonspace/conduit/breaker"
	"github.com/leftonspace/conduit/degrade"
	"github.com/leftonspace/conduit/dlq"
	"github.com/leftonspace/conduit/ext"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/idempotency"
	"github.com/leftonspace/conduit/job"
	mw "github.com/leftonspace/conduit/middleware"
	"github.com/leftonspace/conduit/observability"
	"github.com/leftonspace/conduit/override"
	"github.com/leftonspace/conduit/sched"
	"github.com/leftonspace/conduit/worker"
)

// Engine wraps a Core with typed subsystem access.
// Use Build() to create one from a Core.
type Engine struct {
	core       *conduit.Core
	extensions *ext.Registry
	registry   *job.Registry
	scheduler  *sched.Scheduler
	breakers   *breaker.Registry
	overrides  *override.Registry
	degrader   *degrade.Manager
	keys       *idempotency.Service
	dlqService *dlq.Service
	pool       *worker.Pool
	logger     *slog.Logger

	// Build-time configuration collected from options.
	mws            []mw.Middleware
	policy         backoff.Policy
	queueConfigs   []sched.QueueConfig
	tenantConfigs  []sched.TenantConfig
	breakerOpts    []breaker.RegistryOption
	rules          map[string]degrade.Rule
	fallback       worker.FallbackFunc
	pendingExts    []ext.Extension
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware appends middleware after the engine's default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry policy for transient failures.
// If not set, backoff.Default() (exponential with jitter) is used.
func WithBackoff(p backoff.Policy) Option {
	return func(eng *Engine) { eng.policy = p }
}

// WithQueueConfig sets admission ceilings, burst buckets and default
// weights for queues. Queues not listed get zero-value config.
func WithQueueConfig(configs ...sched.QueueConfig) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTenantConfig sets per-tenant weights, concurrency caps and burst
// buckets applied at build time. Further changes go through
// SetTenantConfig at runtime.
func WithTenantConfig(configs ...sched.TenantConfig) Option {
	return func(eng *Engine) { eng.tenantConfigs = append(eng.tenantConfigs, configs...) }
}

// WithBreakerDefaults sets the breaker config for dependencies without
// a specific one.
func WithBreakerDefaults(cfg breaker.Config) Option {
	return func(eng *Engine) {
		eng.breakerOpts = append(eng.breakerOpts, breaker.WithDefaults(cfg))
	}
}

// WithBreakerConfig sets the breaker config for one dependency.
func WithBreakerConfig(dependency string, cfg breaker.Config) Option {
	return func(eng *Engine) {
		eng.breakerOpts = append(eng.breakerOpts, breaker.WithDependencyConfig(dependency, cfg))
	}
}

// WithDegradeRule sets the degraded behavior for a capability.
func WithDegradeRule(capability string, rule degrade.Rule) Option {
	return func(eng *Engine) { eng.rules[capability] = rule }
}

// WithFallback sets the function run when a degrade rule decides
// Fallback.
func WithFallback(f worker.FallbackFunc) Option {
	return func(eng *Engine) { eng.fallback = f }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from a Core. The Core's store must implement
// the dlq, idempotency and override store interfaces; store.Store
// (and every backend under store/) satisfies all of them.
func Build(c *conduit.Core, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	st := c.Store()
	if st == nil {
		return nil, conduit.ErrNoStore
	}

	ds, ok := st.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("conduit: store does not implement dlq.Store")
	}
	is, ok := st.(idempotency.Store)
	if !ok {
		return nil, fmt.Errorf("conduit: store does not implement idempotency.Store")
	}
	os, ok := st.(override.Store)
	if !ok {
		return nil, fmt.Errorf("conduit: store does not implement override.Store")
	}

	eng := &Engine{
		core:       c,
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		degrader:   degrade.NewManager(),
		policy:     backoff.Default(),
		rules:      make(map[string]degrade.Rule),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(eng)
	}
	for capability, rule := range eng.rules {
		eng.degrader.SetRule(capability, rule)
	}

	config := c.Config()
	// The scheduler must know every queue the pool will consume, not
	// just those with an explicit QueueConfig, so admin stats can tell
	// an idle queue from an unknown one.
	queueConfigs := eng.queueConfigs
	configured := make(map[string]bool, len(queueConfigs))
	for _, qc := range queueConfigs {
		configured[qc.Name] = true
	}
	for _, q := range config.Queues {
		if !configured[q] {
			queueConfigs = append(queueConfigs, sched.QueueConfig{Name: q})
		}
	}
	eng.scheduler = sched.New(queueConfigs...)
	for _, tc := range eng.tenantConfigs {
		eng.scheduler.SetTenantConfig(tc)
	}

	// Breaker transitions flow into the extension registry so the
	// observability extension sees every state change.
	breakerOpts := append(eng.breakerOpts, breaker.WithTransitionHook(
		func(dependency string, from, to breaker.State) {
			eng.extensions.EmitBreakerTransition(context.Background(), dependency, from, to)
		}))
	eng.breakers = breaker.NewRegistry(breakerOpts...)

	eng.overrides = override.NewRegistry(os)
	eng.keys = idempotency.NewService(is, config.IdempotencyTTL)
	eng.dlqService = dlq.NewService(ds, replayEnqueuer{eng})

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/leftonspace/conduit"))
	} else {
		tracingMw = mw.Tracing()
	}
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/leftonspace/conduit"))
	} else {
		metricsMw = mw.Metrics()
	}
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/leftonspace/conduit/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// timeout, then caller-supplied middleware innermost.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.MaxProcessing),
	}
	allMws = append(allMws, eng.mws...)

	execOpts := []worker.Option{
		worker.WithMiddleware(allMws...),
		worker.WithBackoff(eng.policy),
		worker.WithLogger(logger),
		worker.WithRecheckInterval(config.RecheckInterval),
		worker.WithClaimRetryDelay(config.ClaimRetryDelay),
	}
	if eng.fallback != nil {
		execOpts = append(execOpts, worker.WithFallback(eng.fallback))
	}
	executor := worker.NewExecutor(worker.Deps{
		Handlers:  eng.registry,
		Scheduler: eng.scheduler,
		Breakers:  eng.breakers,
		Overrides: eng.overrides,
		Degrade:   eng.degrader,
		Keys:      eng.keys,
		DLQ:       eng.dlqService,
		Hooks:     eng.extensions,
	}, execOpts...)

	eng.pool = worker.NewPool(executor,
		worker.WithPoolQueues(config.Queues...),
		worker.WithPoolConcurrency(config.Concurrency),
	)

	c.AddPool(eng.pool)
	c.SetHooks(eng.extensions)

	return eng, nil
}

// replayEnqueuer routes replayed dead letters through the same
// admission control and lifecycle hooks as fresh enqueues.
type replayEnqueuer struct {
	eng *Engine
}

func (r replayEnqueuer) Enqueue(ctx context.Context, j *job.Job) error {
	if err := r.eng.scheduler.Enqueue(j); err != nil {
		if errors.Is(err, conduit.ErrBackpressure) {
			r.eng.extensions.EmitBackpressureRejected(ctx, j.Queue, j.TenantID)
		}
		return err
	}
	r.eng.extensions.EmitJobEnqueued(ctx, j)
	return nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterHandler binds an untyped handler to a queue.
func (eng *Engine) RegisterHandler(queue string, h job.HandlerFunc) {
	eng.registry.Register(queue, h)
}

// Enqueue marshals a typed payload and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, queue, tenantID, dependency string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for queue %q: %w", queue, err)
	}
	return eng.EnqueueRaw(ctx, queue, tenantID, dependency, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. It returns
// [conduit.ErrBackpressure] (wrapped) when the tenant's burst bucket is
// empty and the queue is at its ceiling.
func (eng *Engine) EnqueueRaw(ctx context.Context, queue, tenantID, dependency string, payload []byte, opts ...job.Option) (*job.Job, error) {
	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	j := &job.Job{
		Entity:         conduit.NewEntity(),
		ID:             id.NewJobID(),
		Queue:          queue,
		TenantID:       tenantID,
		Dependency:     dependency,
		Payload:        payload,
		Priority:       jobOpts.Priority,
		MaxAttempts:    jobOpts.MaxAttempts,
		IdempotencyKey: jobOpts.IdempotencyKey,
		NotBefore:      jobOpts.NotBefore,
		Timeout:        jobOpts.Timeout,
		Status:         job.StatusPending,
	}

	if err := eng.scheduler.Enqueue(j); err != nil {
		if errors.Is(err, conduit.ErrBackpressure) {
			eng.extensions.EmitBackpressureRejected(ctx, queue, tenantID)
		}
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.core.Start(ctx)
}

// Stop gracefully shuts down the engine: the pool drains within ctx,
// the shutdown hook fires, and the store closes.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.core.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Core returns the underlying Core.
func (eng *Engine) Core() *conduit.Core { return eng.core }

// DLQ returns the dead letter service for triage, replay and purge.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Overrides returns the capability override registry.
func (eng *Engine) Overrides() *override.Registry { return eng.overrides }

// Keys returns the idempotency service.
func (eng *Engine) Keys() *idempotency.Service { return eng.keys }

// BreakerStatuses returns a snapshot of every circuit breaker, sorted
// by dependency.
func (eng *Engine) BreakerStatuses() []breaker.Status { return eng.breakers.Statuses() }

// Depth returns the number of queued (not in-flight) jobs on a queue.
func (eng *Engine) Depth(queue string) int { return eng.scheduler.Depth(queue) }

// InFlight returns the number of active jobs on a queue.
func (eng *Engine) InFlight(queue string) int { return eng.scheduler.InFlight(queue) }

// QueueStats returns a queue's depth and in-flight count in one
// snapshot, or [conduit.ErrQueueNotFound] (wrapped) for a queue the
// scheduler does not know.
func (eng *Engine) QueueStats(queue string) (depth, inFlight int, err error) {
	return eng.scheduler.Stats(queue)
}

// TenantInFlight returns the number of active jobs for one tenant on a
// queue.
func (eng *Engine) TenantInFlight(queue, tenantID string) int {
	return eng.scheduler.TenantInFlight(queue, tenantID)
}

// SetTenantConfig adjusts a tenant's weight, concurrency cap and burst
// bucket at runtime.
func (eng *Engine) SetTenantConfig(cfg sched.TenantConfig) {
	eng.scheduler.SetTenantConfig(cfg)
}

// DisableCapability force-disables a capability for the given scope
// (override.ScopeGlobal or a tenant id) until expiresAt; zero expiresAt
// means until cleared.
func (eng *Engine) DisableCapability(ctx context.Context, capability, scope, reason, setBy string, expiresAt time.Time) (*override.Override, error) {
	return eng.overrides.SetOverride(ctx, capability, scope, true, reason, setBy, expiresAt)
}

// EnableCapability clears a capability override for the given scope.
func (eng *Engine) EnableCapability(ctx context.Context, capability, scope string) error {
	return eng.overrides.ClearOverride(ctx, capability, scope)
}
