package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/job"
)

// QueueConfig defines admission and fairness behaviour for one queue.
type QueueConfig struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// Ceiling is the maximum outstanding jobs (queued plus in-flight)
	// before empty-bucket enqueues are rejected with backpressure.
	// Zero disables the ceiling; the queue never rejects.
	Ceiling int

	// BurstRate is the default token refill rate (tokens per second)
	// for each tenant's admission bucket. Zero disables burst
	// accounting for tenants without their own config.
	BurstRate float64

	// BurstSize is the default bucket capacity. Defaults to 1 when
	// BurstRate is set and BurstSize is zero.
	BurstSize int

	// DefaultWeight is the round-robin quantum for tenants without a
	// TenantConfig. Defaults to 1.
	DefaultWeight int
}

// active tracks an in-flight job so Ack and Nack can find its tenant.
type active struct {
	j      *job.Job
	tenant string
}

// queueState holds all scheduling state for one queue.
// Mutated only under the scheduler's mutex.
type queueState struct {
	cfg     QueueConfig
	tenants map[string]*tenantState
	ring    []string
	cursor  int
	active  map[string]*active
	wake    chan struct{}
}

func (qs *queueState) outstanding() int {
	n := len(qs.active)
	for _, t := range qs.tenants {
		n += t.pending()
	}
	return n
}

func (qs *queueState) signal() {
	select {
	case qs.wake <- struct{}{}:
	default:
	}
}

// Scheduler is the multi-tenant fair scheduler. One instance serves all
// queues. It is safe for concurrent use; every operation holds the
// mutex for a bounded critical section.
type Scheduler struct {
	mu     sync.Mutex
	queues map[string]*queueState
	seq    uint64

	// now is the clock, swappable in tests.
	now func() time.Time
}

// New creates a scheduler with the given queue configurations. Queues
// not listed are created on first use with zero-value config (no
// ceiling, no burst accounting).
func New(configs ...QueueConfig) *Scheduler {
	s := &Scheduler{
		queues: make(map[string]*queueState, len(configs)),
		now:    time.Now,
	}
	for _, cfg := range configs {
		s.queues[cfg.Name] = newQueueState(cfg)
	}
	return s
}

func newQueueState(cfg QueueConfig) *queueState {
	if cfg.DefaultWeight <= 0 {
		cfg.DefaultWeight = 1
	}
	if cfg.BurstRate > 0 && cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	return &queueState{
		cfg:     cfg,
		tenants: make(map[string]*tenantState),
		active:  make(map[string]*active),
		wake:    make(chan struct{}, 1),
	}
}

// ensureQueue returns the queue state, creating it on first use.
// Caller holds s.mu.
func (s *Scheduler) ensureQueue(name string) *queueState {
	qs, ok := s.queues[name]
	if !ok {
		qs = newQueueState(QueueConfig{Name: name})
		s.queues[name] = qs
	}
	return qs
}

// ensureTenant returns the tenant state, creating it on first use with
// the queue's defaults. Caller holds s.mu.
func (s *Scheduler) ensureTenant(qs *queueState, tenantID string) *tenantState {
	t, ok := qs.tenants[tenantID]
	if !ok {
		t = &tenantState{
			id:     tenantID,
			weight: qs.cfg.DefaultWeight,
		}
		if qs.cfg.BurstRate > 0 {
			t.bucket = rate.NewLimiter(rate.Limit(qs.cfg.BurstRate), qs.cfg.BurstSize)
		}
		qs.tenants[tenantID] = t
		qs.ring = append(qs.ring, tenantID)
	}
	return t
}

// Enqueue admits a job into its queue, or rejects it with
// [conduit.ErrBackpressure] when the tenant's burst bucket is empty and
// the queue is at its outstanding-job ceiling. An admitted job becomes
// PENDING; one with a future NotBefore stays delayed until eligible.
func (s *Scheduler) Enqueue(j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.ensureQueue(j.Queue)
	if _, inFlight := qs.active[j.ID.String()]; inFlight {
		// Re-admitting a job an executor still owns would corrupt the
		// in-flight accounting; the owner must Ack or Nack it first.
		return fmt.Errorf("enqueue %s: %w", j.ID, conduit.ErrJobAlreadyExists)
	}
	t := s.ensureTenant(qs, j.TenantID)

	hasToken := t.bucket == nil || t.bucket.Allow()
	atCeiling := qs.cfg.Ceiling > 0 && qs.outstanding() >= qs.cfg.Ceiling
	if !hasToken && atCeiling {
		return fmt.Errorf("enqueue %s for tenant %s: %w", j.Queue, j.TenantID, conduit.ErrBackpressure)
	}

	j.Status = job.StatusPending
	s.push(t, j)
	qs.signal()
	return nil
}

// push places a job on the tenant's ready or delayed heap.
// Caller holds s.mu.
func (s *Scheduler) push(t *tenantState, j *job.Job) {
	s.seq++
	it := &item{j: j, seq: s.seq}
	if j.NotBefore.After(s.now()) {
		heapPushDelayed(t, it)
	} else {
		heapPushReady(t, it)
	}
}

// DequeueNext returns the next job the fairness policy selects for the
// queue, or false when no job is currently eligible. It never blocks.
// The returned job is ACTIVE and owned by the caller until Ack or Nack.
func (s *Scheduler) DequeueNext(queue string) (*job.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, ok := s.queues[queue]
	if !ok {
		return nil, false
	}

	now := s.now()
	for _, t := range qs.tenants {
		t.promote(now)
	}

	// Deficit round-robin: visit tenants in ring order starting at the
	// cursor. A tenant with no eligible work forfeits its deficit so it
	// cannot hoard credit while idle.
	n := len(qs.ring)
	for scanned := 0; scanned < n; scanned++ {
		t := qs.tenants[qs.ring[qs.cursor]]
		if len(t.ready) == 0 || !t.hasCapacity() {
			t.deficit = 0
			qs.cursor = (qs.cursor + 1) % n
			continue
		}
		if t.deficit <= 0 {
			t.deficit += t.weight
		}
		t.deficit--
		j := heapPopReady(t)
		t.inFlight++
		t.lastServedAt = now
		if t.deficit <= 0 {
			qs.cursor = (qs.cursor + 1) % n
		}
		j.Status = job.StatusActive
		qs.active[j.ID.String()] = &active{j: j, tenant: t.id}
		// The wake channel holds at most one signal, so a burst of
		// enqueues can collapse into a single wakeup. Re-arm it while
		// eligible work remains so no blocked Next is stranded.
		for _, rest := range qs.tenants {
			if len(rest.ready) > 0 && rest.hasCapacity() {
				qs.signal()
				break
			}
		}
		return j, true
	}
	return nil, false
}

// Next blocks until a job is eligible on the queue or the context is
// done. Waiting is event-driven: enqueues, acks and nacks wake it, and
// a timer covers the earliest delayed job. It never busy-spins.
func (s *Scheduler) Next(ctx context.Context, queue string) (*job.Job, error) {
	for {
		if j, ok := s.DequeueNext(queue); ok {
			return j, nil
		}

		wake, wakeAt := s.waitTargets(queue)

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if !wakeAt.IsZero() {
			d := time.Until(wakeAt)
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// waitTargets returns the queue's wake channel and the earliest delayed
// NotBefore (zero when nothing is delayed).
func (s *Scheduler) waitTargets(queue string) (chan struct{}, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.ensureQueue(queue)
	var earliest time.Time
	for _, t := range qs.tenants {
		if w := t.nextWake(); !w.IsZero() && (earliest.IsZero() || w.Before(earliest)) {
			earliest = w
		}
	}
	return qs.wake, earliest
}

// Ack releases an in-flight job, freeing the tenant's slot. The job's
// final status is the caller's concern; Ack only ends its ownership.
func (s *Scheduler) Ack(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, qs := range s.queues {
		a, ok := qs.active[jobID]
		if !ok {
			continue
		}
		delete(qs.active, jobID)
		if t := qs.tenants[a.tenant]; t != nil && t.inFlight > 0 {
			t.inFlight--
		}
		qs.signal()
		return nil
	}
	return fmt.Errorf("ack %s: %w", jobID, conduit.ErrJobNotFound)
}

// Nack returns an in-flight job to its queue, eligible again at
// notBefore. A notBefore in the past makes it immediately eligible.
// The nacked job does not re-enter admission control; it was already
// admitted once.
func (s *Scheduler) Nack(jobID string, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, qs := range s.queues {
		a, ok := qs.active[jobID]
		if !ok {
			continue
		}
		delete(qs.active, jobID)
		t := qs.tenants[a.tenant]
		if t == nil {
			return fmt.Errorf("nack %s: tenant %s gone from queue", jobID, a.tenant)
		}
		if t.inFlight > 0 {
			t.inFlight--
		}
		// A caller that already marked the job, RETRYABLE while it waits
		// out a backoff for instance, keeps that status; an untouched
		// ACTIVE job reverts to PENDING.
		if a.j.Status == job.StatusActive {
			a.j.Status = job.StatusPending
		}
		a.j.NotBefore = notBefore
		s.push(t, a.j)
		qs.signal()
		return nil
	}
	return fmt.Errorf("nack %s: %w", jobID, conduit.ErrJobNotFound)
}

// SetTenantConfig sets weight, concurrency and burst parameters for a
// tenant on a queue. It may be called at runtime; pending jobs and
// in-flight counts carry over.
func (s *Scheduler) SetTenantConfig(cfg TenantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs := s.ensureQueue(cfg.Queue)
	t := s.ensureTenant(qs, cfg.TenantID)

	if cfg.Weight > 0 {
		t.weight = cfg.Weight
	}
	t.maxInFlight = cfg.MaxInFlight
	if cfg.BurstRate > 0 {
		size := cfg.BurstSize
		if size <= 0 {
			size = 1
		}
		t.bucket = rate.NewLimiter(rate.Limit(cfg.BurstRate), size)
	}
	qs.signal()
}

// Depth returns the number of queued (not in-flight) jobs on a queue.
func (s *Scheduler) Depth(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, ok := s.queues[queue]
	if !ok {
		return 0
	}
	n := 0
	for _, t := range qs.tenants {
		n += t.pending()
	}
	return n
}

// Stats returns a queue's depth and in-flight count in one consistent
// snapshot, or [conduit.ErrQueueNotFound] for a queue the scheduler has
// never seen.
func (s *Scheduler) Stats(queue string) (depth, inFlight int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	qs, ok := s.queues[queue]
	if !ok {
		return 0, 0, fmt.Errorf("stats %s: %w", queue, conduit.ErrQueueNotFound)
	}
	for _, t := range qs.tenants {
		depth += t.pending()
	}
	return depth, len(qs.active), nil
}

// InFlight returns the number of ACTIVE jobs on a queue.
func (s *Scheduler) InFlight(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qs, ok := s.queues[queue]; ok {
		return len(qs.active)
	}
	return 0
}

// TenantInFlight returns the number of ACTIVE jobs for one tenant on a
// queue.
func (s *Scheduler) TenantInFlight(queue, tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if qs, ok := s.queues[queue]; ok {
		if t, ok := qs.tenants[tenantID]; ok {
			return t.inFlight
		}
	}
	return 0
}

// Queues returns the names of all queues the scheduler knows about.
func (s *Scheduler) Queues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.queues))
	for name := range s.queues {
		out = append(out, name)
	}
	return out
}
