package job

import "context"

// progressKey is the context key under which the scheduler injects a
// progress reporter for the running job.
type progressKey struct{}

// Reporter receives handler-reported progress for the job bound to the
// execution context.
type Reporter func(percent int)

// WithReporter returns a context carrying a progress reporter. The
// dispatch loops attach one before invoking a handler.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, progressKey{}, r)
}

// ReportProgress records advisory progress (clamped to 0–100) for the
// job bound to ctx. It is a no-op outside a handler invocation.
func ReportProgress(ctx context.Context, percent int) {
	r, ok := ctx.Value(progressKey{}).(Reporter)
	if !ok {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	r(percent)
}
