package sched

import (
	"container/heap"
	"time"

	"golang.org/x/time/rate"

	"github.com/leftonspace/conduit/job"
)

// TenantConfig sets scheduling parameters for one tenant on one queue.
// Calling SetTenantConfig repeatedly for the same pair replaces the
// previous configuration; in-flight counts are preserved.
type TenantConfig struct {
	// Queue is the queue this config applies to.
	Queue string

	// TenantID identifies the tenant.
	TenantID string

	// Weight is the deficit round-robin quantum earned per round.
	// Higher weight means a proportionally larger share of dequeues
	// under saturation. Defaults to 1.
	Weight int

	// MaxInFlight caps simultaneous active jobs for this tenant on this
	// queue. Zero means no tenant-specific cap.
	MaxInFlight int

	// BurstRate is the token refill rate (tokens per second) for the
	// tenant's admission bucket. Zero inherits the queue default.
	BurstRate float64

	// BurstSize is the bucket capacity. Zero inherits the queue default.
	BurstSize int
}

// tenantState is all scheduling state for one tenant on one queue.
// Mutated only under the scheduler's mutex.
type tenantState struct {
	id           string
	weight       int
	deficit      int
	inFlight     int
	maxInFlight  int
	bucket       *rate.Limiter
	ready        readyHeap
	delayed      delayedHeap
	lastServedAt time.Time
}

func (t *tenantState) hasCapacity() bool {
	return t.maxInFlight == 0 || t.inFlight < t.maxInFlight
}

// promote moves delayed jobs whose NotBefore has passed into the ready
// heap. A NotBefore in the past counts as immediately eligible.
func (t *tenantState) promote(now time.Time) {
	for len(t.delayed) > 0 && !t.delayed[0].j.NotBefore.After(now) {
		it := heap.Pop(&t.delayed).(*item)
		heap.Push(&t.ready, it)
	}
}

// pending returns the total queued (not in-flight) jobs for the tenant.
func (t *tenantState) pending() int {
	return len(t.ready) + len(t.delayed)
}

// nextWake returns the earliest NotBefore among delayed jobs, or zero
// time when none are delayed.
func (t *tenantState) nextWake() time.Time {
	if len(t.delayed) == 0 {
		return time.Time{}
	}
	return t.delayed[0].j.NotBefore
}

func heapPushReady(t *tenantState, it *item)   { heap.Push(&t.ready, it) }
func heapPushDelayed(t *tenantState, it *item) { heap.Push(&t.delayed, it) }
func heapPopReady(t *tenantState) *job.Job     { return heap.Pop(&t.ready).(*item).j }

// item is a heap entry. seq breaks ties between jobs enqueued in the
// same instant so ordering stays strictly FIFO.
type item struct {
	j   *job.Job
	seq uint64
}

// readyHeap orders eligible jobs by priority (lower first), then
// enqueue sequence (FIFO).
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, k int) bool {
	if h[i].j.Priority != h[k].j.Priority {
		return h[i].j.Priority < h[k].j.Priority
	}
	return h[i].seq < h[k].seq
}
func (h readyHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// delayedHeap orders not-yet-eligible jobs by NotBefore.
type delayedHeap []*item

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, k int) bool {
	return h[i].j.NotBefore.Before(h[k].j.NotBefore)
}
func (h delayedHeap) Swap(i, k int) { h[i], h[k] = h[k], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
