// Package archive preserves jobs evicted by Cleanup. The schedulers
// delete terminal jobs permanently; an optional Archiver receives each
// batch first so the host keeps an audit trail (the workbench stores
// scan history in Postgres).
package archive

import (
	"context"

	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// Archiver receives jobs about to be permanently removed.
type Archiver interface {
	// Archive persists the batch. Archiving is best-effort from the
	// scheduler's point of view: an error is logged and the eviction
	// proceeds.
	Archive(ctx context.Context, jobs []*job.Job) error
}

// Func adapts a function to the Archiver interface.
type Func func(ctx context.Context, jobs []*job.Job) error

// Archive implements Archiver.
func (f Func) Archive(ctx context.Context, jobs []*job.Job) error {
	return f(ctx, jobs)
}
