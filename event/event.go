// Package event carries job lifecycle notifications between the
// schedulers and observers. Every status transition publishes an Event;
// Wait callers subscribe instead of polling. Two Broadcaster variants
// exist: the in-process one here, used by the memory scheduler, and the
// Redis pub/sub one in scheduler/redis, which makes transitions visible
// across processes.
package event

import (
	"context"
	"time"

	"github.com/louiesdad/datacloak-workbench-sub000/id"
	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// Event is a job lifecycle notification.
type Event struct {
	ID        id.ID      `json:"id"`
	JobID     id.ID      `json:"job_id"`
	JobType   string     `json:"job_type,omitempty"`
	Status    job.Status `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// New builds an event for a job's transition to status.
func New(j *job.Job, status job.Status) Event {
	return Event{
		ID:        id.NewEventID(),
		JobID:     j.ID,
		JobType:   j.Type,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Broadcaster fans job lifecycle events out to subscribers.
type Broadcaster interface {
	// Publish delivers the event to every current subscriber of its
	// job ID. Delivery is best-effort: a subscriber that is not
	// draining its channel misses events (Wait callers re-check job
	// state on timeout, so this loses nothing).
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers interest in one job's events. The returned
	// cancel func must be called to release the subscription.
	Subscribe(jobID id.ID) (<-chan Event, func())

	// Close releases all subscriptions.
	Close() error
}
