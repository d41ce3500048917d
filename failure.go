package conduit

import (
	"context"
	"errors"
	"fmt"
)

// Class partitions handler failures by retryability.
type Class int

const (
	// ClassTransient failures are retryable: network timeouts, rate
	// limits, dependency 5xx. They consume one retry attempt each.
	ClassTransient Class = iota + 1

	// ClassPermanent failures can never succeed: validation errors,
	// malformed payloads, business-rule rejections. They go straight to
	// the dead letter store regardless of remaining attempts.
	ClassPermanent
)

// String returns the lowercase class name.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Kind labels the concrete error category for failure history and triage.
type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindRateLimited      Kind = "rate_limited"
	KindUnavailable      Kind = "dependency_unavailable"
	KindValidation       Kind = "validation"
	KindMalformedPayload Kind = "malformed_payload"
	KindBusinessRule     Kind = "business_rule"
	KindPanic            Kind = "panic"
	KindUnknown          Kind = "unknown"
)

// Failure is a classified handler error. Handlers tag their errors with
// Transient or Permanent; the executor uses the tag to route the job to
// retry or the dead letter store, and DependencyFault to decide whether
// the failure counts against the dependency's circuit breaker.
type Failure struct {
	Class Class
	Kind  Kind

	// DependencyFault marks failures caused by the external dependency
	// itself. Only these are recorded by the circuit breaker; validation
	// errors must not trip a breaker.
	DependencyFault bool

	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure (%s): %v", f.Class, f.Kind, f.Err)
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error { return f.Err }

// Transient tags err as a retryable, dependency-caused failure.
func Transient(kind Kind, err error) error {
	return &Failure{Class: ClassTransient, Kind: kind, DependencyFault: true, Err: err}
}

// Permanent tags err as a non-retryable failure that is the job's own
// fault (bad payload, business rule), not the dependency's.
func Permanent(kind Kind, err error) error {
	return &Failure{Class: ClassPermanent, Kind: kind, Err: err}
}

// Classify resolves any handler error into a Failure. Tagged errors are
// returned as-is; a deadline exceeded becomes a transient timeout; every
// other untagged error classifies as transient and dependency-caused,
// the conservative default for unknown failures.
func Classify(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Class: ClassTransient, Kind: KindTimeout, DependencyFault: true, Err: err}
	}
	return &Failure{Class: ClassTransient, Kind: KindUnknown, DependencyFault: true, Err: err}
}
