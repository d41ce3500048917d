package dlq

import (
	"time"

	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
)

// Entry is an immutable snapshot of a job at the moment it was declared
// undeliverable, plus the ordered failure history accumulated across its
// attempts. Created once; the only later mutation is setting ReplayedAt.
type Entry struct {
	ID             id.DLQID            `json:"id"`
	JobID          id.JobID            `json:"job_id"`
	Queue          string              `json:"queue"`
	TenantID       string              `json:"tenant_id"`
	Dependency     string              `json:"dependency"`
	Payload        []byte              `json:"payload"`
	Priority       int                 `json:"priority"`
	Attempts       int                 `json:"attempts"`
	MaxAttempts    int                 `json:"max_attempts"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	LastError      string              `json:"last_error"`
	FailureHistory []job.FailureRecord `json:"failure_history"`
	FinalizedAt    time.Time           `json:"finalized_at"`
	ReplayedAt     *time.Time          `json:"replayed_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}
