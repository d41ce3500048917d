package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobEnqueued          = "job.enqueued"
	ActionJobCompleted         = "job.completed"
	ActionJobRetrying          = "job.retrying"
	ActionJobDeferred          = "job.deferred"
	ActionJobDLQ               = "job.dlq"
	ActionBackpressureRejected = "scheduler.backpressure_rejected"
	ActionBreakerTransition    = "breaker.transition"
)

// Audit event categories group related actions.
const (
	CategoryJob       = "conduit.job"
	CategoryScheduler = "conduit.scheduler"
	CategoryBreaker   = "conduit.breaker"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob        = "job"
	ResourceQueue      = "queue"
	ResourceDependency = "dependency"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobDeferred,
		ActionJobDLQ,
		ActionBackpressureRejected,
		ActionBreakerTransition,
	}
}
