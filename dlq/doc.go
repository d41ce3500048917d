// Package dlq provides the dead letter store for jobs that exhausted
// their retry budget or failed permanently. It supports operator triage
// (filtered listing), replay, and purging.
//
// A job reaching its terminal failure is recorded as an immutable
// [Entry]: a snapshot of the job at the moment it was declared
// undeliverable plus the full ordered failure history, one record per
// consumed attempt. Entries are append-only; nothing ever mutates the
// historical record.
//
// # Replay
//
// Replaying an entry builds a brand-new job with a fresh ID and zero
// attempts, so it re-enters the normal retry budget:
//
//	j, err := svc.Replay(ctx, entryID)
//	if errors.Is(err, conduit.ErrAlreadyReplayed) {
//	    // the entry was replayed before; replaying twice is an
//	    // operator error, not a retry
//	}
//
// The entry itself is only marked with ReplayedAt; its history stays
// intact as an audit trail.
//
// # Triage
//
// Listing filters by tenant, dependency, and finalization time range:
//
//	entries, _ := svc.List(ctx, dlq.ListOpts{
//	    TenantID:   "acme",
//	    Dependency: "payment-gateway",
//	    Since:      time.Now().Add(-24 * time.Hour),
//	})
package dlq
