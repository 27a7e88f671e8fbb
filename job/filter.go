package job

import (
	"fmt"
	"time"

	queue "github.com/louiesdad/datacloak-workbench-sub000"
)

// Filter narrows job list queries. Zero values mean "any".
type Filter struct {
	// Status filters by lifecycle status.
	Status Status
	// Type filters by job type tag.
	Type string
	// From / To bound CreatedAt (inclusive from, exclusive to).
	From time.Time
	To   time.Time
	// Limit caps the number of jobs returned. Zero means no limit.
	Limit int
}

// Validate reports the first problem with the filter.
func (f Filter) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", queue.ErrInvalidFilter, f.Status)
	}
	if f.Limit < 0 {
		return fmt.Errorf("%w: negative limit", queue.ErrInvalidFilter)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return fmt.Errorf("%w: to precedes from", queue.ErrInvalidFilter)
	}
	return nil
}

// Match reports whether the job satisfies the filter. Limit is not
// applied here; callers apply it while collecting.
func (f Filter) Match(j *Job) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	// Dead-lettered jobs are outside the active failed view; they are
	// reachable through DeadLetters instead.
	if f.Status == StatusFailed && j.DeadLettered {
		return false
	}
	if f.Type != "" && j.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && j.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !j.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
