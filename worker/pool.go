package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leftonspace/conduit/ext"
	"github.com/leftonspace/conduit/job"
	"github.com/leftonspace/conduit/sched"
)

// Pool runs a fixed number of executor goroutines per queue. Each
// goroutine blocks on the scheduler for the next eligible job, runs it
// through the Executor pipeline, and loops. Stop drains gracefully
// within the caller's deadline, then cancels in-flight jobs.
type Pool struct {
	executor    *Executor
	scheduler   *sched.Scheduler
	hooks       *ext.Registry
	logger      *slog.Logger
	queues      []string
	concurrency int

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	running bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	now func() time.Time
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolQueues sets the queues this pool consumes.
func WithPoolQueues(queues ...string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPoolConcurrency sets the number of executor goroutines per queue.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolLogger sets the pool's logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool over the executor's scheduler and hooks.
func NewPool(e *Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:    e,
		scheduler:   e.deps.Scheduler,
		hooks:       e.deps.Hooks,
		logger:      e.logger,
		queues:      []string{"default"},
		concurrency: 10,
		active:      make(map[string]context.CancelFunc),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the executor goroutines. The pool runs until Stop;
// the passed context only bounds startup.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("worker pool already started")
	}
	if len(p.queues) == 0 {
		return errors.New("worker pool has no queues")
	}
	if p.concurrency <= 0 {
		return fmt.Errorf("worker pool concurrency must be positive, got %d", p.concurrency)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group = &errgroup.Group{}

	for _, queue := range p.queues {
		for range p.concurrency {
			p.group.Go(func() error {
				return p.run(runCtx, queue)
			})
		}
	}

	p.running = true
	p.logger.Info("worker pool started",
		"queues", p.queues, "concurrency", p.concurrency)
	return nil
}

// Stop shuts the pool down. It stops dequeuing immediately, then waits
// for in-flight jobs to finish until ctx expires, at which point the
// remaining jobs are cancelled and returned to the scheduler as
// transient failures.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	group := p.group
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		if err := group.Wait(); err != nil {
			p.logger.Error("worker pool exited with error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.cancelActiveJobs()
		<-done
		p.logger.Warn("worker pool stopped after cancelling in-flight jobs")
		return ctx.Err()
	}
}

// run is one executor goroutine's loop over a single queue.
func (p *Pool) run(ctx context.Context, queue string) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		j, err := p.scheduler.Next(ctx, queue)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("next on queue %s: %w", queue, err)
		}

		p.hooks.EmitJobDequeued(ctx, j, p.queueWait(j))

		// Each job gets its own cancel so Stop can abort in-flight work
		// past the drain deadline. The job context is detached from the
		// run context: cancelling dequeues must not kill running jobs.
		jobCtx, jobCancel := context.WithCancel(context.Background())
		p.trackJob(j.ID.String(), jobCancel)
		execErr := p.executor.Execute(jobCtx, j)
		p.untrackJob(j.ID.String())
		jobCancel()

		if execErr != nil {
			p.logger.Debug("job not completed",
				"job_id", j.ID, "queue", queue, "error", execErr)
		}
	}
}

// queueWait is the time the job spent eligible before being dequeued.
func (p *Pool) queueWait(j *job.Job) time.Duration {
	ready := j.CreatedAt
	if j.NotBefore.After(ready) {
		ready = j.NotBefore
	}
	wait := p.now().Sub(ready)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	p.active[jobID] = cancel
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	delete(p.active, jobID)
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for id, cancel := range p.active {
		p.logger.Warn("cancelling in-flight job at shutdown", "job_id", id)
		cancel()
	}
}
