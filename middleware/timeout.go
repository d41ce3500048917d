package middleware

import (
	"context"
	"time"

	"github.com/leftonspace/conduit/job"
)

// Timeout returns middleware that enforces a per-job execution
// deadline. The job's own Timeout wins when set; otherwise the given
// default applies. When the deadline is exceeded the context is
// cancelled and the handler's context error classifies as a transient
// timeout.
func Timeout(defaultTimeout time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) ([]byte, error) {
		d := j.Timeout
		if d <= 0 {
			d = defaultTimeout
		}
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
