// Package sched implements the multi-tenant fair scheduler: per-queue
// admission control and dequeue ordering across tenants.
//
// Admission uses a per-tenant burst token bucket (golang.org/x/time/rate).
// Enqueue rejects with [conduit.ErrBackpressure] when the tenant's bucket
// is empty and the queue is at its outstanding-job ceiling, so a noisy
// tenant signals its producers to slow down instead of buffering
// unboundedly.
//
// Dequeue ordering is deficit round-robin across tenants with eligible
// jobs: each tenant earns a quantum equal to its weight per round and is
// served while its deficit is positive and it has in-flight capacity.
// Within a tenant, jobs order by priority (lower runs sooner) then
// enqueue order. No tenant is starved indefinitely regardless of another
// tenant's arrival pattern.
//
// All quota and deficit bookkeeping lives behind one mutex with O(1)
// critical sections per operation. Executors never touch tenant state
// directly; they call Next, Ack and Nack.
//
//	s := sched.New(sched.QueueConfig{Name: "invoices", Ceiling: 1000})
//	if err := s.Enqueue(j); errors.Is(err, conduit.ErrBackpressure) {
//	    // tell the producer to back off
//	}
//	j, err := s.Next(ctx, "invoices") // blocks until a job is eligible
//	// ... execute ...
//	s.Ack(j.ID.String())
package sched
