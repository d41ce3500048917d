package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/leftonspace/conduit"
	"github.com/leftonspace/conduit/job"
)

// Recover returns middleware that recovers from panics in the handler
// chain. A panic is logged with its stack trace and converted into a
// transient failure of kind panic, so a panicking handler consumes
// retry budget instead of killing its executor. The failure is not
// tagged as a dependency fault; a code bug must not trip the
// dependency's circuit breaker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result []byte, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_id", j.ID.String()),
					slog.String("queue", j.Queue),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				result = nil
				retErr = &conduit.Failure{
					Class: conduit.ClassTransient,
					Kind:  conduit.KindPanic,
					Err:   fmt.Errorf("panic in job %s: %v", j.ID, r),
				}
			}
		}()
		return next(ctx)
	}
}
