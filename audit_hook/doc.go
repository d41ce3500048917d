// Package audithook is a conduit extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every job, scheduler, and breaker lifecycle hook emits a structured
// audit event through the [Recorder] interface. The extension assigns
// appropriate severity levels (info for normal operations, warning for
// retries and deferrals, critical for terminal failures) and rich
// metadata (queue, tenant, dependency, elapsed time, errors).
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobDLQ,
//	        audithook.ActionBackpressureRejected,
//	        audithook.ActionBreakerTransition,
//	    ),
//	)
package audithook
