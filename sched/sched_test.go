package sched_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
	"github.com/leftonspace/conduit/sched"
)

func newJob(queue, tenant string) *job.Job {
	return &job.Job{
		Entity:      conduit.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queue,
		TenantID:    tenant,
		MaxAttempts: 3,
	}
}

func TestScheduler_EmptyQueueReturnsWithoutBlocking(t *testing.T) {
	s := sched.New()
	if j, ok := s.DequeueNext("empty"); ok {
		t.Fatalf("DequeueNext on empty queue returned %v", j)
	}
}

func TestScheduler_PriorityThenFIFO(t *testing.T) {
	s := sched.New()

	low := newJob("q", "acme")
	low.Priority = 10
	first := newJob("q", "acme")
	first.Priority = 1
	second := newJob("q", "acme")
	second.Priority = 1

	for _, j := range []*job.Job{low, first, second} {
		if err := s.Enqueue(j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	want := []*job.Job{first, second, low}
	for i, w := range want {
		j, ok := s.DequeueNext("q")
		if !ok {
			t.Fatalf("dequeue %d: empty", i)
		}
		if j.ID != w.ID {
			t.Fatalf("dequeue %d = %s, want %s", i, j.ID, w.ID)
		}
		if j.Status != job.StatusActive {
			t.Errorf("dequeue %d status = %s, want active", i, j.Status)
		}
	}
}

func TestScheduler_DeficitRoundRobinHonorsWeights(t *testing.T) {
	s := sched.New(sched.QueueConfig{Name: "q"})
	s.SetTenantConfig(sched.TenantConfig{Queue: "q", TenantID: "heavy", Weight: 3})
	s.SetTenantConfig(sched.TenantConfig{Queue: "q", TenantID: "light", Weight: 1})

	for range 40 {
		if err := s.Enqueue(newJob("q", "heavy")); err != nil {
			t.Fatalf("enqueue heavy: %v", err)
		}
		if err := s.Enqueue(newJob("q", "light")); err != nil {
			t.Fatalf("enqueue light: %v", err)
		}
	}

	served := map[string]int{}
	for range 40 {
		j, ok := s.DequeueNext("q")
		if !ok {
			t.Fatal("queue drained early")
		}
		served[j.TenantID]++
	}

	// Weight 3:1 over 40 serves is 30:10; allow slack for ring start.
	if served["heavy"] < 27 || served["heavy"] > 33 {
		t.Errorf("heavy served %d of 40, want ~30 (weights 3:1)", served["heavy"])
	}
	if served["light"] < 7 || served["light"] > 13 {
		t.Errorf("light served %d of 40, want ~10 (weights 3:1)", served["light"])
	}
}

func TestScheduler_NoTenantStarvedUnderLoad(t *testing.T) {
	s := sched.New()

	// One noisy tenant, one that enqueues a single job.
	for range 100 {
		if err := s.Enqueue(newJob("q", "noisy")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	quiet := newJob("q", "quiet")
	if err := s.Enqueue(quiet); err != nil {
		t.Fatalf("enqueue quiet: %v", err)
	}

	// With equal weights the quiet tenant is served within one round.
	for range 3 {
		j, ok := s.DequeueNext("q")
		if !ok {
			t.Fatal("queue drained early")
		}
		if j.ID == quiet.ID {
			return
		}
	}
	t.Fatal("quiet tenant not served within 3 dequeues")
}

func TestScheduler_BackpressureWhenBucketEmptyAtCeiling(t *testing.T) {
	s := sched.New(sched.QueueConfig{
		Name:      "q",
		Ceiling:   3,
		BurstRate: 0.001, // effectively no refill during the test
		BurstSize: 3,
	})

	// The first three enqueues drain the burst bucket and fill the queue
	// to its ceiling.
	for i := range 3 {
		if err := s.Enqueue(newJob("q", "acme")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	err := s.Enqueue(newJob("q", "acme"))
	if !errors.Is(err, conduit.ErrBackpressure) {
		t.Fatalf("enqueue past ceiling = %v, want ErrBackpressure", err)
	}
}

func TestScheduler_NoBackpressureBelowCeiling(t *testing.T) {
	s := sched.New(sched.QueueConfig{
		Name:      "q",
		Ceiling:   100,
		BurstRate: 0.001,
		BurstSize: 1,
	})

	// Bucket drains after one enqueue but the queue is far below its
	// ceiling, so admission continues.
	for i := range 10 {
		if err := s.Enqueue(newJob("q", "acme")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
}

func TestScheduler_TenantMaxInFlight(t *testing.T) {
	s := sched.New()
	s.SetTenantConfig(sched.TenantConfig{Queue: "q", TenantID: "acme", MaxInFlight: 2})

	for range 4 {
		if err := s.Enqueue(newJob("q", "acme")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	a, _ := s.DequeueNext("q")
	b, _ := s.DequeueNext("q")
	if a == nil || b == nil {
		t.Fatal("expected two dequeues")
	}
	if _, ok := s.DequeueNext("q"); ok {
		t.Fatal("third dequeue should be blocked by MaxInFlight=2")
	}
	if got := s.TenantInFlight("q", "acme"); got != 2 {
		t.Fatalf("TenantInFlight = %d, want 2", got)
	}

	if err := s.Ack(a.ID.String()); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, ok := s.DequeueNext("q"); !ok {
		t.Fatal("dequeue should proceed after ack freed a slot")
	}
}

func TestScheduler_NackPastNotBeforeImmediatelyEligible(t *testing.T) {
	s := sched.New()
	j := newJob("q", "acme")
	if err := s.Enqueue(j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, _ := s.DequeueNext("q")
	if err := s.Nack(got.ID.String(), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again, ok := s.DequeueNext("q")
	if !ok || again.ID != j.ID {
		t.Fatalf("nacked job with past notBefore should be immediately eligible")
	}
}

func TestScheduler_NackFutureNotBeforeDelays(t *testing.T) {
	s := sched.New()
	j := newJob("q", "acme")
	if err := s.Enqueue(j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, _ := s.DequeueNext("q")
	if err := s.Nack(got.ID.String(), time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("nack: %v", err)
	}

	if _, ok := s.DequeueNext("q"); ok {
		t.Fatal("delayed job should not be eligible yet")
	}
	if got := s.Depth("q"); got != 1 {
		t.Fatalf("Depth = %d, want 1 (delayed job still queued)", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := s.Next(ctx, "q")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if again.ID != j.ID {
		t.Fatalf("Next = %s, want %s", again.ID, j.ID)
	}
}

func TestScheduler_NextWakesOnEnqueue(t *testing.T) {
	s := sched.New()

	done := make(chan *job.Job, 1)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() {
		j, err := s.Next(ctx, "q")
		if err != nil {
			t.Errorf("Next: %v", err)
			close(done)
			return
		}
		done <- j
	}()

	// Give the waiter time to block, then enqueue.
	time.Sleep(20 * time.Millisecond)
	j := newJob("q", "acme")
	if err := s.Enqueue(j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case got := <-done:
		if got == nil || got.ID != j.ID {
			t.Fatalf("Next returned %v, want %s", got, j.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on enqueue")
	}
}

// A burst of enqueues must wake every blocked waiter even though the
// wake channel buffers a single signal: each dequeue re-arms the signal
// while eligible work remains.
func TestScheduler_BurstEnqueueWakesAllWaiters(t *testing.T) {
	s := sched.New()
	const n = 4

	got := make(chan *job.Job, n)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for range n {
		go func() {
			j, err := s.Next(ctx, "q")
			if err != nil {
				return
			}
			got <- j
		}()
	}

	// Give the waiters time to block, then enqueue the whole burst.
	time.Sleep(20 * time.Millisecond)
	for i := range n {
		if err := s.Enqueue(newJob("q", "acme")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	for i := range n {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d waiters received a job; a wake signal was lost", i, n)
		}
	}
}

func TestScheduler_NackPreservesRetryableStatus(t *testing.T) {
	s := sched.New()
	j := newJob("q", "acme")
	if err := s.Enqueue(j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, _ := s.DequeueNext("q")
	got.Status = job.StatusRetryable
	if err := s.Nack(got.ID.String(), time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if got.Status != job.StatusRetryable {
		t.Fatalf("status after nack = %s, want %s", got.Status, job.StatusRetryable)
	}

	again, ok := s.DequeueNext("q")
	if !ok {
		t.Fatal("nacked job not eligible")
	}
	if again.Status != job.StatusActive {
		t.Fatalf("status after dequeue = %s, want %s", again.Status, job.StatusActive)
	}
}

func TestScheduler_EnqueueInFlightJobRejected(t *testing.T) {
	s := sched.New()
	j := newJob("q", "acme")
	if err := s.Enqueue(j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	got, _ := s.DequeueNext("q")

	if err := s.Enqueue(got); !errors.Is(err, conduit.ErrJobAlreadyExists) {
		t.Fatalf("re-enqueue in-flight job = %v, want ErrJobAlreadyExists", err)
	}
}

func TestScheduler_StatsUnknownQueue(t *testing.T) {
	s := sched.New(sched.QueueConfig{Name: "q"})
	if err := s.Enqueue(newJob("q", "acme")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, inFlight, err := s.Stats("q")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if depth != 1 || inFlight != 0 {
		t.Fatalf("stats = %d/%d, want 1/0", depth, inFlight)
	}

	if _, _, err := s.Stats("nope"); !errors.Is(err, conduit.ErrQueueNotFound) {
		t.Fatalf("stats on unknown queue = %v, want ErrQueueNotFound", err)
	}
}

func TestScheduler_NextHonorsContextCancel(t *testing.T) {
	s := sched.New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx, "q")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want DeadlineExceeded", err)
	}
}

func TestScheduler_AckUnknownJob(t *testing.T) {
	s := sched.New(sched.QueueConfig{Name: "q"})
	err := s.Ack(id.NewJobID().String())
	if !errors.Is(err, conduit.ErrJobNotFound) {
		t.Fatalf("Ack unknown = %v, want ErrJobNotFound", err)
	}
}

func TestScheduler_DepthAndInFlightAccounting(t *testing.T) {
	s := sched.New()
	for range 3 {
		if err := s.Enqueue(newJob("q", "acme")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if got := s.Depth("q"); got != 3 {
		t.Fatalf("Depth = %d, want 3", got)
	}

	j, _ := s.DequeueNext("q")
	if got := s.Depth("q"); got != 2 {
		t.Fatalf("Depth after dequeue = %d, want 2", got)
	}
	if got := s.InFlight("q"); got != 1 {
		t.Fatalf("InFlight = %d, want 1", got)
	}

	if err := s.Ack(j.ID.String()); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got := s.InFlight("q"); got != 0 {
		t.Fatalf("InFlight after ack = %d, want 0", got)
	}
}
