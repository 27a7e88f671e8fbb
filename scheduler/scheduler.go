// Package scheduler defines the contract shared by the in-memory and
// durable scheduler backends. Producers enqueue typed jobs, a dispatch
// loop claims them by priority and executes registered handlers, and
// consumers read or wait on job state. The engine package selects a
// backend from configuration and hands callers this interface.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/louiesdad/datacloak-workbench-sub000/id"
	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// Scheduler is the job life-cycle contract implemented by both
// backends. All methods are safe for concurrent use.
//
// Delivery is at-least-once: the durable backend may re-run a job whose
// process died between claim and commit, so handlers are expected to be
// idempotent.
type Scheduler interface {
	// Enqueue persists a new pending job and returns its ID without
	// waiting for execution. Options default from the type's registered
	// definition.
	Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts ...job.Option) (id.ID, error)

	// Job returns a snapshot of one job, or ErrJobNotFound.
	Job(ctx context.Context, jobID id.ID) (*job.Job, error)

	// Jobs returns snapshots matching the filter, newest first.
	Jobs(ctx context.Context, f job.Filter) ([]*job.Job, error)

	// Cancel cancels a job. Pending jobs leave the queue immediately;
	// running jobs have their handler context cancelled and their
	// eventual outcome discarded, with status fixed at cancelled.
	// Returns false if the job is already terminal or being cancelled.
	Cancel(ctx context.Context, jobID id.ID) (bool, error)

	// Retry re-enqueues a failed or cancelled job as pending with a
	// fresh attempt budget. Returns false for any other status.
	// Dead-lettered jobs go through RequeueDeadLetter instead.
	Retry(ctx context.Context, jobID id.ID) (bool, error)

	// UpdatePriority changes the priority of a pending job. Returns
	// false once the job has been claimed.
	UpdatePriority(ctx context.Context, jobID id.ID, p job.Priority) (bool, error)

	// UpdatePayload replaces the payload of a pending job. Returns
	// false once the job has been claimed.
	UpdatePayload(ctx context.Context, jobID id.ID, payload json.RawMessage) (bool, error)

	// Stats returns aggregate counts by status.
	Stats(ctx context.Context) (job.Stats, error)

	// Cleanup permanently removes completed, failed, and cancelled jobs
	// whose completion is older than olderThan, returning the count
	// removed. Dead-lettered jobs are retained.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// ClearCompleted removes all completed jobs regardless of age.
	ClearCompleted(ctx context.Context) (int, error)

	// DeadLetters returns the jobs parked in the dead-letter queue.
	DeadLetters(ctx context.Context) ([]*job.Job, error)

	// RequeueDeadLetter moves a dead-lettered job back to pending with
	// its attempt count reset. Returns false if the job is not in the
	// dead-letter queue.
	RequeueDeadLetter(ctx context.Context, jobID id.ID) (bool, error)

	// Wait blocks until the job reaches a terminal status and returns
	// its final snapshot, or ErrWaitTimeout after timeout (zero means
	// wait until ctx is done). Already-terminal jobs return immediately.
	Wait(ctx context.Context, jobID id.ID, timeout time.Duration) (*job.Job, error)

	// Start launches the dispatch loop. It returns immediately and is
	// idempotent.
	Start(ctx context.Context) error

	// StopProcessing halts the dispatch loop without losing queued
	// state. Safe to call repeatedly; Start may be called again after.
	StopProcessing()

	// Close stops processing and releases backend resources. The
	// scheduler is unusable afterwards.
	Close(ctx context.Context) error
}
