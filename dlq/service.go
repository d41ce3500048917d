package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
)

// Enqueuer re-admits a replayed job into the scheduler. The engine
// satisfies this with its producer path so replayed jobs go through the
// same admission control and lifecycle hooks as fresh ones.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job) error
}

// Service provides high-level dead letter operations over a Store.
type Service struct {
	store    Store
	enqueuer Enqueuer
}

// NewService creates a DLQ service. The enqueuer may be nil when replay
// is not needed (read-only triage tooling).
func NewService(store Store, enqueuer Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// Record snapshots a terminally failed job into the dead letter store.
// Called by the executor on retry exhaustion or permanent failure.
func (s *Service) Record(ctx context.Context, j *job.Job) (*Entry, error) {
	now := time.Now().UTC()

	history := make([]job.FailureRecord, len(j.FailureHistory))
	copy(history, j.FailureHistory)

	entry := &Entry{
		ID:             id.NewDLQID(),
		JobID:          j.ID,
		Queue:          j.Queue,
		TenantID:       j.TenantID,
		Dependency:     j.Dependency,
		Payload:        j.Payload,
		Priority:       j.Priority,
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		IdempotencyKey: j.IdempotencyKey,
		LastError:      j.LastError,
		FailureHistory: history,
		FinalizedAt:    now,
		CreatedAt:      now,
	}
	if err := s.store.PushDLQ(ctx, entry); err != nil {
		return nil, fmt.Errorf("record dead letter for job %s: %w", j.ID, err)
	}
	return entry, nil
}

// Get retrieves one entry by ID.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// List returns entries matching the options, newest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Count returns the total number of entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Purge removes a single entry.
func (s *Service) Purge(ctx context.Context, entryID id.DLQID) error {
	return s.store.PurgeDLQ(ctx, entryID)
}

// PurgeBefore removes all entries finalized before the given time and
// returns how many were removed. Operator bulk cleanup.
func (s *Service) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQBefore(ctx, before)
}
