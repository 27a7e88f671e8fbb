package middleware

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// Timeout returns middleware that enforces a per-job execution
// deadline. If the job has a non-zero Timeout, a context.WithTimeout
// wraps the handler call; a handler that honors its context returns
// context.DeadlineExceeded when the deadline passes. Jobs without a
// Timeout run unbounded, matching the base contract.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (json.RawMessage, error) {
		if j.Timeout > 0 {
			logger.Debug("job deadline armed",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
