// Package ext defines the extension system: the surface through which
// the core emits its metrics events to an external observability
// collector without depending on one.
//
// Extensions are notified of lifecycle events (job enqueued, dequeued,
// completed, deferred, dead-lettered, backpressure rejections, breaker
// transitions, shutdown) and can react to them. Each lifecycle hook is
// a separate interface so extensions opt in only to the events they
// care about:
//
//	type depthLogger struct{}
//
//	func (depthLogger) Name() string { return "depth-logger" }
//
//	func (depthLogger) OnBackpressureRejected(ctx context.Context, queue, tenantID string) error {
//	    log.Printf("rejected: %s/%s", queue, tenantID)
//	    return nil
//	}
//
//	reg := ext.NewRegistry(slog.Default())
//	reg.Register(depthLogger{})
//
// Hook errors are logged and never propagated; an extension must not be
// able to block the pipeline.
package ext
