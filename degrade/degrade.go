// Package degrade is the degradation manager: the single decision
// point, consulted before every dependency-bound job executes, for what
// to do when a capability is force-disabled or its circuit is open.
//
// The decision is a pure function of (capability, disabled, circuit
// state) and a static per-capability policy table. The concrete
// fallback action (queue for manual handling, serve a cached value) is
// defined by the calling integration; this package only guarantees the
// decision point exists and is checked in one place, never as scattered
// conditionals inside business handlers.
package degrade

import (
	"github.com/leftonspace/conduit/breaker"
)

// Decision is what the execution harness does with a job whose
// capability is degraded.
type Decision int

const (
	// Proceed means nothing blocks the capability; execute normally.
	Proceed Decision = iota
	// Defer means nack the job to retry after a re-check interval
	// without consuming an attempt.
	Defer
	// Fallback means run the integration-defined degraded action
	// carried in Outcome.Action instead of the normal handler path.
	Fallback
	// FailFast means fail the job permanently right away. Reserved for
	// capabilities where deferral is worse than failure.
	FailFast
)

// String returns the lowercase decision name.
func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Defer:
		return "defer"
	case Fallback:
		return "fallback"
	case FailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

// Outcome is a decision plus, for Fallback, the action to take.
type Outcome struct {
	Decision Decision
	// Action names the integration-defined degraded behavior, e.g.
	// "queue-for-manual-handling" or "serve-last-known-good".
	Action string
}

// Rule is the configured behavior for one degraded capability.
type Rule struct {
	Decision Decision
	Action   string
}

// Manager holds the per-capability policy table. Build it once at
// wiring time; Decide performs only map reads and is safe for
// concurrent use.
type Manager struct {
	rules map[string]Rule
}

// NewManager creates a degradation manager. Capabilities without a rule
// default to Defer when degraded.
func NewManager() *Manager {
	return &Manager{rules: make(map[string]Rule)}
}

// SetRule configures the degraded behavior for a capability.
func (m *Manager) SetRule(capability string, rule Rule) *Manager {
	m.rules[capability] = rule
	return m
}

// Decide returns the action for a job governed by the capability, given
// whether an operator disabled it and the current circuit state. Pure:
// no I/O, no mutation.
func (m *Manager) Decide(capability string, disabled bool, circuit breaker.State) Outcome {
	if !disabled && circuit != breaker.Open {
		return Outcome{Decision: Proceed}
	}
	if rule, ok := m.rules[capability]; ok {
		return Outcome{Decision: rule.Decision, Action: rule.Action}
	}
	return Outcome{Decision: Defer}
}
