package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
	"github.com/leftonspace/conduit/middleware"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Queue:      "invoices",
		TenantID:   "acme",
		Dependency: "tax-authority",
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw1-before")
		result, err := next(ctx)
		order = append(order, "mw1-after")
		return result, err
	}

	mw2 := func(ctx context.Context, _ *job.Job, next middleware.Handler) ([]byte, error) {
		order = append(order, "mw2-before")
		result, err := next(ctx)
		order = append(order, "mw2-after")
		return result, err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) ([]byte, error) {
		order = append(order, "handler")
		return []byte("out"), nil
	}

	result, err := chain(context.Background(), newTestJob(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "out" {
		t.Errorf("result = %q, want %q", result, "out")
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) ([]byte, error) {
		called = true
		return nil, nil
	}
	if _, err := chain(context.Background(), newTestJob(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called through empty chain")
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	blocked := func(_ context.Context, _ *job.Job, _ middleware.Handler) ([]byte, error) {
		return nil, errors.New("blocked")
	}
	chain := middleware.Chain(blocked)

	handlerRan := false
	_, err := chain(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
		handlerRan = true
		return nil, nil
	})
	if err == nil {
		t.Fatal("expected error from short-circuiting middleware")
	}
	if handlerRan {
		t.Fatal("handler must not run after a short-circuit")
	}
}

func TestRecover_ConvertsPanicToTransientFailure(t *testing.T) {
	rec := middleware.Recover(slog.Default())

	result, err := rec(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
		panic("boom")
	})
	if result != nil {
		t.Errorf("result = %v, want nil after panic", result)
	}
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}

	f := conduit.Classify(err)
	if f.Class != conduit.ClassTransient {
		t.Errorf("Class = %v, want transient", f.Class)
	}
	if f.Kind != conduit.KindPanic {
		t.Errorf("Kind = %v, want panic", f.Kind)
	}
	if f.DependencyFault {
		t.Error("a panic must not count as a dependency fault")
	}
}

func TestRecover_PassesThroughNormally(t *testing.T) {
	rec := middleware.Recover(slog.Default())
	result, err := rec(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
		return []byte("fine"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != "fine" {
		t.Errorf("result = %q, want fine", result)
	}
}

func TestTimeout_CancelsSlowHandler(t *testing.T) {
	mw := middleware.Timeout(20 * time.Millisecond)

	_, err := mw(context.Background(), newTestJob(), func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return []byte("too late"), nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}

	// A deadline classifies as a transient timeout.
	f := conduit.Classify(err)
	if f.Class != conduit.ClassTransient || f.Kind != conduit.KindTimeout {
		t.Errorf("Classify = %v/%v, want transient/timeout", f.Class, f.Kind)
	}
}

func TestTimeout_JobTimeoutWinsOverDefault(t *testing.T) {
	mw := middleware.Timeout(time.Hour)
	j := newTestJob()
	j.Timeout = 20 * time.Millisecond

	start := time.Now()
	_, err := mw(context.Background(), j, func(ctx context.Context) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Error("job-level timeout did not apply")
	}
}

func TestTimeout_ZeroIsUnbounded(t *testing.T) {
	mw := middleware.Timeout(0)
	_, err := mw(context.Background(), newTestJob(), func(ctx context.Context) ([]byte, error) {
		if _, ok := ctx.Deadline(); ok {
			return nil, errors.New("unexpected deadline")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
