package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/leftonspace/conduit/audit_hook"
	"github.com/leftonspace/conduit/breaker"
	"github.com/leftonspace/conduit/ext"
	"github.com/leftonspace/conduit/id"
	"github.com/leftonspace/conduit/job"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Queue:       "invoices",
		TenantID:    "tenant-a",
		Dependency:  "payment-gateway",
		MaxAttempts: 3,
		Attempts:    1,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_JobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, evt.Action)
	}
	if evt.Resource != ah.ResourceJob {
		t.Errorf("Resource: want %q, got %q", ah.ResourceJob, evt.Resource)
	}
	if evt.Category != ah.CategoryJob {
		t.Errorf("Category: want %q, got %q", ah.CategoryJob, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["queue"] != "invoices" {
		t.Errorf("Metadata[queue]: want %q, got %v", "invoices", evt.Metadata["queue"])
	}
	if evt.Metadata["tenant_id"] != "tenant-a" {
		t.Errorf("Metadata[tenant_id]: want %q, got %v", "tenant-a", evt.Metadata["tenant_id"])
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	elapsed := 150 * time.Millisecond

	if err := e.OnJobCompleted(context.Background(), j, elapsed); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobCompleted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobCompleted, evt.Action)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	nextRun := time.Now().Add(30 * time.Second)

	if err := e.OnJobRetrying(context.Background(), j, 2, nextRun); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobRetrying {
		t.Errorf("Action: want %q, got %q", ah.ActionJobRetrying, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want %d, got %v", 2, evt.Metadata["attempt"])
	}
}

func TestExtension_JobDeferred(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()

	if err := e.OnJobDeferred(context.Background(), j, "circuit_open"); err != nil {
		t.Fatalf("OnJobDeferred: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobDeferred {
		t.Errorf("Action: want %q, got %q", ah.ActionJobDeferred, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["reason"] != "circuit_open" {
		t.Errorf("Metadata[reason]: want %q, got %v", "circuit_open", evt.Metadata["reason"])
	}
	if evt.Metadata["dependency"] != "payment-gateway" {
		t.Errorf("Metadata[dependency]: want %q, got %v", "payment-gateway", evt.Metadata["dependency"])
	}
}

func TestExtension_JobDLQ(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	j.Attempts = 3
	jobErr := errors.New("retries exhausted")

	if err := e.OnJobDLQ(context.Background(), j, jobErr); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobDLQ {
		t.Errorf("Action: want %q, got %q", ah.ActionJobDLQ, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Reason != "retries exhausted" {
		t.Errorf("Reason: want %q, got %q", "retries exhausted", evt.Reason)
	}
	if evt.Metadata["error"] != "retries exhausted" {
		t.Errorf("Metadata[error]: want %q, got %v", "retries exhausted", evt.Metadata["error"])
	}
	if evt.Metadata["attempts"] != 3 {
		t.Errorf("Metadata[attempts]: want %d, got %v", 3, evt.Metadata["attempts"])
	}
}

func TestExtension_BackpressureRejected(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	if err := e.OnBackpressureRejected(context.Background(), "invoices", "tenant-b"); err != nil {
		t.Fatalf("OnBackpressureRejected: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionBackpressureRejected {
		t.Errorf("Action: want %q, got %q", ah.ActionBackpressureRejected, evt.Action)
	}
	if evt.Resource != ah.ResourceQueue {
		t.Errorf("Resource: want %q, got %q", ah.ResourceQueue, evt.Resource)
	}
	if evt.ResourceID != "invoices" {
		t.Errorf("ResourceID: want %q, got %q", "invoices", evt.ResourceID)
	}
	if evt.Metadata["tenant_id"] != "tenant-b" {
		t.Errorf("Metadata[tenant_id]: want %q, got %v", "tenant-b", evt.Metadata["tenant_id"])
	}
}

func TestExtension_BreakerTransition(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()

	if err := e.OnBreakerTransition(ctx, "payment-gateway", breaker.Closed, breaker.Open); err != nil {
		t.Fatalf("OnBreakerTransition: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionBreakerTransition {
		t.Errorf("Action: want %q, got %q", ah.ActionBreakerTransition, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("transition to open: Severity want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Metadata["from"] != "closed" || evt.Metadata["to"] != "open" {
		t.Errorf("Metadata from/to: got %v/%v", evt.Metadata["from"], evt.Metadata["to"])
	}

	if err := e.OnBreakerTransition(ctx, "payment-gateway", breaker.HalfOpen, breaker.Closed); err != nil {
		t.Fatalf("OnBreakerTransition: %v", err)
	}
	evt = rec.last()
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("recovery transition: Severity want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("recovery transition: Outcome want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobCompleted, ah.ActionJobDLQ))

	ctx := context.Background()
	j := newTestJob()

	// Enqueued is NOT enabled, silently skipped.
	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (enqueued disabled), got %d", rec.count())
	}

	// Completed IS enabled.
	if err := e.OnJobCompleted(ctx, j, 50*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (completed enabled), got %d", rec.count())
	}

	// DLQ IS enabled.
	if err := e.OnJobDLQ(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)
	j := newTestJob()

	// Hook must NOT return an error: audit failures never block the job
	// pipeline.
	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDeferred(ctx, j, "capability_disabled")
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))
	reg.EmitBackpressureRejected(ctx, "invoices", "tenant-a")
	reg.EmitBreakerTransition(ctx, "payment-gateway", breaker.Closed, breaker.Open)

	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 7 {
		t.Errorf("expected 7 actions, got %d", len(actions))
	}
}
