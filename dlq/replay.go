package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
)

// Replay converts a dead letter entry back into a brand-new job with a
// fresh ID and zero attempts, so it re-enters the normal retry budget,
// and enqueues it through the normal admission path. The entry is
// marked replayed first; replaying the same entry twice returns
// [conduit.ErrAlreadyReplayed].
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	if s.enqueuer == nil {
		return nil, fmt.Errorf("replay %s: service has no enqueuer", entryID)
	}

	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	// Mark before enqueueing: the mark is the atomic double-replay
	// guard, and a replayed-but-rejected job is recoverable by the
	// operator while a double execution is not.
	if err := s.store.MarkReplayedDLQ(ctx, entryID, now); err != nil {
		return nil, err
	}

	j := &job.Job{
		Entity:         conduit.NewEntity(),
		ID:             id.NewJobID(),
		Queue:          entry.Queue,
		TenantID:       entry.TenantID,
		Dependency:     entry.Dependency,
		Payload:        entry.Payload,
		Priority:       entry.Priority,
		MaxAttempts:    entry.MaxAttempts,
		IdempotencyKey: entry.IdempotencyKey,
		Status:         job.StatusPending,
	}

	if err := s.enqueuer.Enqueue(ctx, j); err != nil {
		return nil, fmt.Errorf("replay %s: enqueue: %w", entryID, err)
	}
	return j, nil
}
