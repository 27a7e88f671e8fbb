package queue

import "errors"

var (
	// Not found.
	ErrJobNotFound = errors.New("queue: job not found")

	// Validation.
	ErrInvalidPriority = errors.New("queue: invalid priority")
	ErrInvalidType     = errors.New("queue: invalid job type")
	ErrInvalidFilter   = errors.New("queue: invalid job filter")
	ErrInvalidConfig   = errors.New("queue: invalid configuration")

	// Handler registry.
	ErrNoHandler = errors.New("queue: no handler registered for job type")

	// Backend connectivity.
	ErrBackendUnavailable = errors.New("queue: backing store unavailable")

	// Lifecycle.
	ErrSchedulerClosed = errors.New("queue: scheduler closed")

	// Waiting.
	ErrWaitTimeout = errors.New("queue: timed out waiting for job")
)
