package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/leftonspace/conduit/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, tp
}

func TestTracing_RecordsSpan(t *testing.T) {
	recorder, tp := setupTestTracer()
	mw := middleware.TracingWithTracer(tp.Tracer("test"))

	j := newTestJob()
	_, err := mw(context.Background(), j, func(_ context.Context) ([]byte, error) {
		return []byte("done"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "conduit.job.execute" {
		t.Errorf("span name = %q, want conduit.job.execute", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	attrs := map[string]string{}
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	if attrs["conduit.queue"] != "invoices" {
		t.Errorf("conduit.queue = %q, want invoices", attrs["conduit.queue"])
	}
	if attrs["conduit.dependency"] != "tax-authority" {
		t.Errorf("conduit.dependency = %q, want tax-authority", attrs["conduit.dependency"])
	}
	if attrs["conduit.job.id"] != j.ID.String() {
		t.Errorf("conduit.job.id = %q, want %s", attrs["conduit.job.id"], j.ID)
	}
}

func TestTracing_ErrorSetsSpanStatus(t *testing.T) {
	recorder, tp := setupTestTracer()
	mw := middleware.TracingWithTracer(tp.Tracer("test"))

	handlerErr := errors.New("gateway down")
	_, err := mw(context.Background(), newTestJob(), func(_ context.Context) ([]byte, error) {
		return nil, handlerErr
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("err = %v, want handler error passed through", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected a recorded error event on the span")
	}
}

func TestTracing_PropagatesContext(t *testing.T) {
	recorder, tp := setupTestTracer()
	mw := middleware.TracingWithTracer(tp.Tracer("test"))

	var sawDeadline bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _ = mw(ctx, newTestJob(), func(inner context.Context) ([]byte, error) {
		// The span context must derive from the caller's context.
		sawDeadline = inner.Done() != nil
		return nil, nil
	})
	if !sawDeadline {
		t.Error("handler context must derive from the caller's context")
	}
	if len(recorder.Ended()) != 1 {
		t.Fatal("expected one span")
	}
}
