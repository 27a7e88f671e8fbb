// Package job defines the unit of schedulable work shared by both
// scheduler backends: the Job entity and its status state machine, the
// typed handler registry, enqueue options, and list filtering.
package job

import (
	"encoding/json"
	"fmt"
	"time"

	queue "github.com/louiesdad/datacloak-workbench-sub000"
	"github.com/louiesdad/datacloak-workbench-sub000/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is queued (or delayed awaiting retry)
	// and has not been claimed.
	StatusPending Status = "pending"
	// StatusRunning means a dispatch loop has claimed the job and its
	// handler is executing.
	StatusRunning Status = "running"
	// StatusCompleted means the handler finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not run again on its
	// own (it may sit in the dead-letter queue if that is enabled).
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled by a caller.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition leaves this status
// without an explicit operator action (retry / dead-letter requeue).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the status state machine permits moving
// from s to next. Requeue paths (failed→pending, cancelled→pending) are
// included because retry and dead-letter requeue use them.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed ||
			next == StatusCancelled || next == StatusPending
	case StatusFailed, StatusCancelled:
		return next == StatusPending
	default:
		return false
	}
}

// Priority orders pending jobs at claim time. Higher weight always
// preempts lower weight; arrival order breaks ties within a tier.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// DefaultPriority is assigned when the caller does not choose one.
const DefaultPriority = PriorityMedium

// ParsePriority validates a priority string.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", queue.ErrInvalidPriority, s)
	}
	return p, nil
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Weight returns the numeric ordering weight. Higher runs first.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Job represents a unit of schedulable asynchronous work.
type Job struct {
	ID       id.ID           `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority Priority        `json:"priority"`
	Status   Status          `json:"status"`

	// Progress is handler-reported, 0–100, advisory only.
	Progress int `json:"progress"`

	// Attempt counts executions started so far; it never exceeds
	// MaxAttempts.
	Attempt     int `json:"attempt"`
	MaxAttempts int `json:"max_attempts"`

	// Result and Error are mutually exclusive once Status is terminal.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	// DeadLettered marks a failed job parked in the dead-letter queue.
	// Such jobs are excluded from the active failed view.
	DeadLettered bool `json:"dead_lettered,omitempty"`

	// Timeout bounds a single handler execution. Zero means no deadline.
	Timeout time.Duration `json:"timeout,omitempty"`

	// NotBefore delays claim eligibility (retry backoff). Zero means
	// immediately eligible.
	NotBefore time.Time `json:"not_before,omitzero"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New builds a pending job from a type tag, payload, and options.
func New(jobType string, payload json.RawMessage, opts Options) *Job {
	return &Job{
		ID:          id.NewJobID(),
		Type:        jobType,
		Payload:     payload,
		Priority:    opts.Priority,
		Status:      StatusPending,
		MaxAttempts: opts.MaxAttempts,
		Timeout:     opts.Timeout,
		NotBefore:   opts.NotBefore,
		CreatedAt:   time.Now().UTC(),
	}
}

// Eligible reports whether the job may be claimed at the given instant.
func (j *Job) Eligible(now time.Time) bool {
	return j.Status == StatusPending && !now.Before(j.NotBefore)
}

// RetriesLeft reports whether the job still has execution budget.
func (j *Job) RetriesLeft() bool {
	return j.Attempt < j.MaxAttempts
}

// Clone returns a deep copy so callers can hold a stable snapshot while
// the scheduler keeps mutating its own instance.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Stats is the aggregate view returned by a scheduler.
type Stats struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Running      int `json:"running"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	Cancelled    int `json:"cancelled"`
	DeadLettered int `json:"dead_lettered"`
}
