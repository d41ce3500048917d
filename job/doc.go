// Package job defines the unit of work processed by conduit: the Job
// model with its lifecycle states and failure history, enqueue options,
// and the per-queue handler registry.
//
// A job names the queue it belongs to, the tenant that owns it, and the
// external dependency that governs it (which circuit breaker and
// capability apply). Handlers are registered per queue:
//
//	reg := job.NewRegistry()
//	job.RegisterDefinition(reg, job.NewDefinition("invoices",
//	    func(ctx context.Context, j *job.Job, p InvoicePayload) ([]byte, error) {
//	        ...
//	    }))
//
// Handlers classify their failures with conduit.Transient and
// conduit.Permanent; untagged errors are treated as transient.
package job
