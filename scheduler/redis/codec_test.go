package redis

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

// asStringMap converts an HSET field map to the map[string]string shape
// HGETALL returns, mimicking Redis flattening every value to a string.
func asStringMap(t *testing.T, h map[string]any) map[string]string {
	t.Helper()

	out := make(map[string]string, len(h))
	for k, v := range h {
		switch v := v.(type) {
		case string:
			out[k] = v
		case int:
			out[k] = strconv.Itoa(v)
		case int64:
			out[k] = strconv.FormatInt(v, 10)
		case float64:
			out[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			t.Fatalf("unexpected hash value type %T for field %s", v, k)
		}
	}
	return out
}

func TestJobHashRoundTrip(t *testing.T) {
	t.Parallel()

	started := time.Now().UTC().Truncate(time.Millisecond)
	completed := started.Add(3 * time.Second)

	j := job.New("export", json.RawMessage(`{"rows":10}`), job.Options{
		Priority:    job.PriorityHigh,
		MaxAttempts: 5,
		Timeout:     30 * time.Second,
	})
	j.Status = job.StatusCompleted
	j.Progress = 100
	j.Attempt = 2
	j.Result = json.RawMessage(`{"ok":true}`)
	j.StartedAt = &started
	j.CompletedAt = &completed

	got, err := hashToJob(asStringMap(t, jobToHash(j)))
	if err != nil {
		t.Fatalf("hashToJob: %v", err)
	}

	if got.ID != j.ID {
		t.Errorf("id = %s, want %s", got.ID, j.ID)
	}
	if got.Type != j.Type || got.Priority != j.Priority || got.Status != j.Status {
		t.Errorf("identity fields = %s/%s/%s, want %s/%s/%s",
			got.Type, got.Priority, got.Status, j.Type, j.Priority, j.Status)
	}
	if string(got.Payload) != string(j.Payload) || string(got.Result) != string(j.Result) {
		t.Errorf("payload/result not preserved: %s / %s", got.Payload, got.Result)
	}
	if got.Attempt != 2 || got.MaxAttempts != 5 || got.Progress != 100 {
		t.Errorf("counters = %d/%d/%d, want 2/5/100", got.Attempt, got.MaxAttempts, got.Progress)
	}
	if got.Timeout != 30*time.Second {
		t.Errorf("timeout = %s, want 30s", got.Timeout)
	}
	if !got.CreatedAt.Equal(j.CreatedAt.Truncate(0)) {
		t.Errorf("created_at = %s, want %s", got.CreatedAt, j.CreatedAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %s", got.StartedAt, started)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completed_at = %v, want %s", got.CompletedAt, completed)
	}
}

func TestJobHashOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	j := job.New("noop", nil, job.Options{Priority: job.PriorityMedium, MaxAttempts: 3})
	h := jobToHash(j)

	for _, field := range []string{fieldPayload, fieldResult, fieldError, fieldDead, fieldTimeoutMS, fieldNotBeforeMS, fieldStartedAt, fieldCompletedAt} {
		if _, ok := h[field]; ok {
			t.Errorf("field %s present for a fresh empty job", field)
		}
	}

	got, err := hashToJob(asStringMap(t, h))
	if err != nil {
		t.Fatalf("hashToJob: %v", err)
	}
	if got.Payload != nil || got.Result != nil || got.Error != "" || got.DeadLettered {
		t.Errorf("optional fields not zero: %+v", got)
	}
	if !got.NotBefore.IsZero() || got.StartedAt != nil || got.CompletedAt != nil {
		t.Errorf("time fields not zero: %+v", got)
	}
}

func TestHashToJobErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		hash map[string]string
	}{
		{"empty hash", map[string]string{}},
		{"bad id", map[string]string{fieldID: "not-an-id"}},
		{"wrong prefix", map[string]string{fieldID: "evt_01h2xcejqtf2nbrexx3vqjhp41"}},
		{"bad attempt", map[string]string{fieldID: "job_01h2xcejqtf2nbrexx3vqjhp41", fieldAttempt: "many"}},
		{"bad created_at", map[string]string{fieldID: "job_01h2xcejqtf2nbrexx3vqjhp41", fieldCreatedAt: "yesterday"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := hashToJob(tt.hash); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestPendingScoreOrdering(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	// The queue is claimed from the low end. Higher priority always
	// scores below lower, whatever the enqueue times.
	lowEarly := pendingScore(job.PriorityLow, now.Add(-24*time.Hour))
	criticalLate := pendingScore(job.PriorityCritical, now)
	if criticalLate >= lowEarly {
		t.Errorf("critical score %f not below old low score %f", criticalLate, lowEarly)
	}

	// Within a tier, earlier enqueue scores lower (claimed first).
	first := pendingScore(job.PriorityMedium, now)
	second := pendingScore(job.PriorityMedium, now.Add(time.Millisecond))
	if first >= second {
		t.Errorf("earlier enqueue score %f not below later %f", first, second)
	}

	// Same-millisecond enqueues tie exactly, leaving ordering to the
	// ascending lexicographic member order of K-sortable job IDs.
	if a, b := pendingScore(job.PriorityHigh, now), pendingScore(job.PriorityHigh, now); a != b {
		t.Errorf("same-millisecond scores differ: %f vs %f", a, b)
	}
}

func TestKeysNamespace(t *testing.T) {
	t.Parallel()

	k := newKeys("app:queue:")
	if got := k.job("job_abc"); got != "app:queue:job:job_abc" {
		t.Errorf("job key = %s", got)
	}
	if got := k.jobPrefix(); got != "app:queue:job:" {
		t.Errorf("job prefix = %s", got)
	}
	for name, got := range map[string]string{
		"ids":        k.ids(),
		"pending":    k.pending(),
		"delayed":    k.delayed(),
		"processing": k.processing(),
		"dead":       k.dead(),
		"events":     k.events(),
	} {
		if got != "app:queue:"+name {
			t.Errorf("%s key = %s, want %s", name, got, "app:queue:"+name)
		}
	}
}
