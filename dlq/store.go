package dlq

import (
	"context"
	"time"

	"github.com/leftonspace/conduit/id"
)

// ListOpts controls filtering and pagination for dead letter listings.
// Zero-value fields match everything.
type ListOpts struct {
	// TenantID filters by tenant.
	TenantID string
	// Dependency filters by the job's governing dependency.
	Dependency string
	// Queue filters by queue name.
	Queue string
	// Since includes only entries finalized at or after this time.
	Since time.Time
	// Until includes only entries finalized before this time.
	Until time.Time
	// Limit is the maximum number of entries to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of matching entries to skip.
	Offset int
}

// Matches reports whether an entry passes the filter (pagination aside).
// Store implementations that filter in the database need not use it.
func (o ListOpts) Matches(e *Entry) bool {
	if o.TenantID != "" && e.TenantID != o.TenantID {
		return false
	}
	if o.Dependency != "" && e.Dependency != o.Dependency {
		return false
	}
	if o.Queue != "" && e.Queue != o.Queue {
		return false
	}
	if !o.Since.IsZero() && e.FinalizedAt.Before(o.Since) {
		return false
	}
	if !o.Until.IsZero() && !e.FinalizedAt.Before(o.Until) {
		return false
	}
	return true
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ persists a new dead letter entry.
	PushDLQ(ctx context.Context, entry *Entry) error

	// GetDLQ retrieves an entry by ID. Returns conduit.ErrDLQNotFound
	// when absent.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ListDLQ returns entries matching the options, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// MarkReplayedDLQ atomically sets ReplayedAt on an unreplayed entry.
	// Returns conduit.ErrAlreadyReplayed if it was already set and
	// conduit.ErrDLQNotFound when the entry is absent.
	MarkReplayedDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error

	// PurgeDLQ removes a single entry by ID.
	PurgeDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQBefore removes entries finalized before the given time and
	// returns how many were removed.
	PurgeDLQBefore(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
