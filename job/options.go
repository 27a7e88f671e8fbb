package job

import "time"

// Options configures per-job behavior at enqueue time.
type Options struct {
	// Priority determines claim ordering across tiers.
	Priority Priority

	// MaxAttempts is the execution budget before the job is failed or
	// dead-lettered. Zero means inherit the scheduler's configured
	// default.
	MaxAttempts int

	// Timeout bounds a single handler execution. Zero means no deadline.
	Timeout time.Duration

	// NotBefore delays the job's first claim eligibility. Zero means
	// immediate.
	NotBefore time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority: DefaultPriority,
	}
}

// Option is a functional option applied at enqueue time.
type Option func(*Options)

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts sets the execution budget for the job.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout bounds a single handler execution.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithNotBefore delays the job's first claim eligibility.
func WithNotBefore(t time.Time) Option {
	return func(o *Options) {
		o.NotBefore = t
	}
}
