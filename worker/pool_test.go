package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leftonspace/conduit/job"
	"github.com/leftonspace/conduit/worker"
)

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPool_ProcessesEnqueuedJobs(t *testing.T) {
	f := newFixture(t)
	var done atomic.Int32
	f.handlers.Register(testQueue, func(_ context.Context, _ *job.Job) ([]byte, error) {
		done.Add(1)
		return []byte("ok"), nil
	})

	for i := range 5 {
		j := newJob(fmt.Sprintf("tenant-%d", i%2), "payment-gateway")
		if err := f.scheduler.Enqueue(j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	p := worker.NewPool(f.exec,
		worker.WithPoolQueues(testQueue),
		worker.WithPoolConcurrency(2))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	waitFor(t, 2*time.Second, func() bool { return done.Load() == 5 },
		"pool did not process all jobs")

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.scheduler.InFlight(testQueue) != 0 {
		t.Errorf("in-flight after stop = %d, want 0", f.scheduler.InFlight(testQueue))
	}
}

func TestPool_StartTwiceFails(t *testing.T) {
	f := newFixture(t)
	f.handlers.Register(testQueue, func(_ context.Context, _ *job.Job) ([]byte, error) {
		return nil, nil
	})
	p := worker.NewPool(f.exec, worker.WithPoolQueues(testQueue), worker.WithPoolConcurrency(1))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(context.Background()); err == nil {
		t.Error("second start should fail")
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stopping a stopped pool is a no-op.
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestPool_RejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	p := worker.NewPool(f.exec, worker.WithPoolQueues(), worker.WithPoolConcurrency(1))
	if err := p.Start(context.Background()); err == nil {
		t.Error("start with no queues should fail")
	}
	p = worker.NewPool(f.exec, worker.WithPoolQueues(testQueue), worker.WithPoolConcurrency(0))
	if err := p.Start(context.Background()); err == nil {
		t.Error("start with zero concurrency should fail")
	}
}

func TestPool_StopCancelsSlowJobsAtDeadline(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	f.handlers.Register(testQueue, func(ctx context.Context, _ *job.Job) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	if err := f.scheduler.Enqueue(newJob("acme", "payment-gateway")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	p := worker.NewPool(f.exec, worker.WithPoolQueues(testQueue), worker.WithPoolConcurrency(1))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Stop(stopCtx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("stop error = %v, want deadline exceeded", err)
	}
	// The cancelled job classifies as transient and is back in the
	// scheduler for the next pool to pick up.
	if f.scheduler.Depth(testQueue) != 1 {
		t.Errorf("depth after forced stop = %d, want 1", f.scheduler.Depth(testQueue))
	}
	if f.scheduler.InFlight(testQueue) != 0 {
		t.Errorf("in-flight after forced stop = %d, want 0", f.scheduler.InFlight(testQueue))
	}
}

func TestPool_BlocksUntilWorkArrives(t *testing.T) {
	f := newFixture(t)
	var done atomic.Int32
	f.handlers.Register(testQueue, func(_ context.Context, _ *job.Job) ([]byte, error) {
		done.Add(1)
		return nil, nil
	})
	p := worker.NewPool(f.exec, worker.WithPoolQueues(testQueue), worker.WithPoolConcurrency(1))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	// Enqueue after the pool is already waiting.
	time.Sleep(10 * time.Millisecond)
	if err := f.scheduler.Enqueue(newJob("acme", "payment-gateway")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(t, time.Second, func() bool { return done.Load() == 1 },
		"pool did not pick up late-arriving job")
}
