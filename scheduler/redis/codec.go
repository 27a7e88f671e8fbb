package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/louiesdad/datacloak-workbench-sub000/id"
	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// Hash field names. Scripts reference these by literal; keep in sync.
const (
	fieldID          = "id"
	fieldType        = "type"
	fieldPayload     = "payload"
	fieldPriority    = "priority"
	fieldStatus      = "status"
	fieldProgress    = "progress"
	fieldAttempt     = "attempt"
	fieldMaxAttempts = "max_attempts"
	fieldResult      = "result"
	fieldError       = "error"
	fieldDead        = "dead"
	fieldScore       = "score"
	fieldCancelReq   = "cancel_requested"
	fieldTimeoutMS   = "timeout_ms"
	fieldNotBeforeMS = "not_before_ms"
	fieldEnqueuedMS  = "enqueued_ms"
	fieldCreatedAt   = "created_at"
	fieldStartedAt   = "started_at"
	fieldCompletedAt = "completed_at"
)

// priorityBase separates the priority component of a pending score from
// the time component. It must exceed any plausible unix millisecond
// value so a priority tier can never be crossed by the time term, while
// keeping every score inside float64's exact integer range.
const priorityBase = float64(1e15)

// pendingScore computes the ready-queue score for a job. Scores are
// enqueuedMillis - weight*priorityBase and the queue is claimed from
// the LOW end: higher weight always wins, within a weight an earlier
// enqueue wins, and same-millisecond enqueues tie on score and fall
// back to Redis's ascending lexicographic member order, which for
// K-sortable job IDs is arrival order.
func pendingScore(p job.Priority, enqueued time.Time) float64 {
	return float64(enqueued.UnixMilli()) - float64(p.Weight())*priorityBase
}

// jobToHash flattens a job into the field map stored in its Redis hash.
// Empty optional fields are omitted entirely.
func jobToHash(j *job.Job) map[string]any {
	h := map[string]any{
		fieldID:          j.ID.String(),
		fieldType:        j.Type,
		fieldPriority:    string(j.Priority),
		fieldStatus:      string(j.Status),
		fieldProgress:    j.Progress,
		fieldAttempt:     j.Attempt,
		fieldMaxAttempts: j.MaxAttempts,
		fieldEnqueuedMS:  j.CreatedAt.UnixMilli(),
		fieldScore:       pendingScore(j.Priority, j.CreatedAt),
		fieldCreatedAt:   j.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(j.Payload) > 0 {
		h[fieldPayload] = string(j.Payload)
	}
	if len(j.Result) > 0 {
		h[fieldResult] = string(j.Result)
	}
	if j.Error != "" {
		h[fieldError] = j.Error
	}
	if j.DeadLettered {
		h[fieldDead] = 1
	}
	if j.Timeout > 0 {
		h[fieldTimeoutMS] = j.Timeout.Milliseconds()
	}
	if !j.NotBefore.IsZero() {
		h[fieldNotBeforeMS] = j.NotBefore.UnixMilli()
	}
	if j.StartedAt != nil {
		h[fieldStartedAt] = j.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		h[fieldCompletedAt] = j.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return h
}

// hashToJob rebuilds a job from an HGETALL result. An empty map means
// the hash does not exist.
func hashToJob(h map[string]string) (*job.Job, error) {
	if len(h) == 0 {
		return nil, fmt.Errorf("redis: empty job hash")
	}

	jobID, err := id.ParseJobID(h[fieldID])
	if err != nil {
		return nil, fmt.Errorf("redis: job hash id: %w", err)
	}

	j := &job.Job{
		ID:       jobID,
		Type:     h[fieldType],
		Priority: job.Priority(h[fieldPriority]),
		Status:   job.Status(h[fieldStatus]),
		Error:    h[fieldError],
	}
	if v := h[fieldPayload]; v != "" {
		j.Payload = []byte(v)
	}
	if v := h[fieldResult]; v != "" {
		j.Result = []byte(v)
	}

	if j.Progress, err = hashInt(h, fieldProgress); err != nil {
		return nil, err
	}
	if j.Attempt, err = hashInt(h, fieldAttempt); err != nil {
		return nil, err
	}
	if j.MaxAttempts, err = hashInt(h, fieldMaxAttempts); err != nil {
		return nil, err
	}
	j.DeadLettered = h[fieldDead] == "1"

	if v := h[fieldTimeoutMS]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: job hash %s: %w", fieldTimeoutMS, err)
		}
		j.Timeout = time.Duration(ms) * time.Millisecond
	}
	if v := h[fieldNotBeforeMS]; v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis: job hash %s: %w", fieldNotBeforeMS, err)
		}
		j.NotBefore = time.UnixMilli(ms).UTC()
	}

	if j.CreatedAt, err = hashTime(h, fieldCreatedAt); err != nil {
		return nil, err
	}
	if v := h[fieldStartedAt]; v != "" {
		t, err := hashTime(h, fieldStartedAt)
		if err != nil {
			return nil, err
		}
		j.StartedAt = &t
	}
	if v := h[fieldCompletedAt]; v != "" {
		t, err := hashTime(h, fieldCompletedAt)
		if err != nil {
			return nil, err
		}
		j.CompletedAt = &t
	}
	return j, nil
}

func hashInt(h map[string]string, field string) (int, error) {
	v := h[field]
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("redis: job hash %s: %w", field, err)
	}
	return n, nil
}

func hashTime(h map[string]string, field string) (time.Time, error) {
	v := h[field]
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("redis: job hash %s: %w", field, err)
	}
	return t.UTC(), nil
}
