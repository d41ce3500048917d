package job

import (
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting in the scheduler, eligible
	// or delayed until NotBefore.
	StatusPending Status = "pending"
	// StatusActive means exactly one executor owns the job right now.
	StatusActive Status = "active"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusRetryable means the job failed transiently and is waiting
	// out its backoff before the next attempt.
	StatusRetryable Status = "failed_retryable"
	// StatusDead means the job exhausted its retries or failed
	// permanently and was moved to the dead letter store.
	StatusDead Status = "dead"
)

// FailureRecord is one entry in a job's failure history: which attempt
// failed, how, and when. The full history travels with the job into the
// dead letter store so an operator can always explain a dead job.
type FailureRecord struct {
	Attempt int       `json:"attempt"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Job represents a unit of work to be processed by an executor.
type Job struct {
	conduit.Entity

	ID             id.JobID        `json:"id"`
	Queue          string          `json:"queue"`
	TenantID       string          `json:"tenant_id"`
	Dependency     string          `json:"dependency"`
	Payload        []byte          `json:"payload"`
	Priority       int             `json:"priority"` // lower runs sooner
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	NotBefore      time.Time       `json:"not_before"`
	Status         Status          `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	FailureHistory []FailureRecord `json:"failure_history,omitempty"`
	Timeout        time.Duration   `json:"timeout,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// RecordFailure appends a history entry for the current attempt and
// updates LastError. Attempts must already be incremented by the caller;
// the history entry carries that attempt number.
func (j *Job) RecordFailure(f *conduit.Failure, at time.Time) {
	j.LastError = f.Error()
	j.FailureHistory = append(j.FailureHistory, FailureRecord{
		Attempt: j.Attempts,
		Kind:    string(f.Kind),
		Message: f.Err.Error(),
		At:      at,
	})
}

// Exhausted reports whether the job has used up its retry budget.
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
