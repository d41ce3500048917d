package conduit

import "errors"

var (
	// Lifecycle errors.
	ErrNoStore     = errors.New("conduit: no store configured")
	ErrStoreClosed = errors.New("conduit: store closed")
	ErrNotBuilt    = errors.New("conduit: core has no worker pools, build the engine before starting")

	// Not found errors.
	ErrJobNotFound      = errors.New("conduit: job not found")
	ErrQueueNotFound    = errors.New("conduit: queue not found")
	ErrDLQNotFound      = errors.New("conduit: dead letter entry not found")
	ErrOverrideNotFound = errors.New("conduit: capability override not found")

	// Admission errors. Backpressure tells the producer to slow down;
	// it is not a job failure and consumes no retry budget.
	ErrBackpressure = errors.New("conduit: enqueue rejected, tenant out of burst tokens and queue at capacity")

	// Defer errors. Both are invisible to the retry counter.
	ErrCapabilityDisabled = errors.New("conduit: capability disabled by operator override")
	ErrCircuitOpen        = errors.New("conduit: circuit breaker open for dependency")

	// Idempotency errors.
	ErrKeyInProgress = errors.New("conduit: idempotency key claimed by another executor")
	ErrKeyNotFound   = errors.New("conduit: idempotency key not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conduit: job already exists")
	ErrAlreadyReplayed  = errors.New("conduit: dead letter entry already replayed")

	// Registration errors.
	ErrNoHandler = errors.New("conduit: no handler registered for queue")
)
