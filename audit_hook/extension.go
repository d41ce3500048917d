package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leftonspace/conduit/breaker"
	"github.com/leftonspace/conduit/ext"
	"github.com/leftonspace/conduit/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension            = (*Extension)(nil)
	_ ext.JobEnqueued          = (*Extension)(nil)
	_ ext.JobCompleted         = (*Extension)(nil)
	_ ext.JobRetrying          = (*Extension)(nil)
	_ ext.JobDeferred          = (*Extension)(nil)
	_ ext.JobDLQ               = (*Extension)(nil)
	_ ext.BackpressureRejected = (*Extension)(nil)
	_ ext.BreakerTransition    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that audithook does not depend on any
// specific audit system — callers inject their concrete backend at
// wiring time, usually through a [RecorderFunc] adapter.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the structured record emitted for each lifecycle event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges conduit lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Queue,
		"tenant_id", j.TenantID,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Queue,
		"tenant_id", j.TenantID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Queue,
		"tenant_id", j.TenantID,
		"attempt", attempt,
		"max_attempts", j.MaxAttempts,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobDeferred implements ext.JobDeferred. Deferrals do not consume a
// retry attempt, so they audit as warnings, not failures of the job.
func (e *Extension) OnJobDeferred(ctx context.Context, j *job.Job, reason string) error {
	return e.record(ctx, ActionJobDeferred, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"queue", j.Queue,
		"tenant_id", j.TenantID,
		"dependency", j.Dependency,
		"reason", reason,
	)
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, jobErr,
		"queue", j.Queue,
		"tenant_id", j.TenantID,
		"attempts", j.Attempts,
		"max_attempts", j.MaxAttempts,
	)
}

// ── Scheduler hooks ─────────────────────────────────

// OnBackpressureRejected implements ext.BackpressureRejected.
func (e *Extension) OnBackpressureRejected(ctx context.Context, queue, tenantID string) error {
	return e.record(ctx, ActionBackpressureRejected, SeverityWarning, OutcomeFailure,
		ResourceQueue, queue, CategoryScheduler, nil,
		"tenant_id", tenantID,
	)
}

// ── Breaker hooks ───────────────────────────────────

// OnBreakerTransition implements ext.BreakerTransition. A transition to
// OPEN is critical; recovery transitions are informational.
func (e *Extension) OnBreakerTransition(ctx context.Context, dependency string, from, to breaker.State) error {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if to == breaker.Open {
		severity = SeverityCritical
		outcome = OutcomeFailure
	}
	return e.record(ctx, ActionBreakerTransition, severity, outcome,
		ResourceDependency, dependency, CategoryBreaker, nil,
		"from", from.String(),
		"to", to.String(),
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
