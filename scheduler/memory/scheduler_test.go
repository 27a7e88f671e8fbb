package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	queue "github.com/louiesdad/datacloak-workbench-sub000"
	"github.com/louiesdad/datacloak-workbench-sub000/archive"
	"github.com/louiesdad/datacloak-workbench-sub000/backoff"
	"github.com/louiesdad/datacloak-workbench-sub000/id"
	"github.com/louiesdad/datacloak-workbench-sub000/job"
)

const waitTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestScheduler builds a started scheduler with a fast tick and no
// retry delay, closed when the test ends.
func newTestScheduler(t *testing.T, reg *job.Registry, opts ...Option) *Scheduler {
	t.Helper()

	base := []Option{
		WithPollInterval(2 * time.Millisecond),
		WithBackoff(backoff.NewFixed(0)),
		WithLogger(discardLogger()),
	}
	s := New(reg, append(base, opts...)...)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func mustEnqueue(t *testing.T, s *Scheduler, jobType string, payload json.RawMessage, opts ...job.Option) id.ID {
	t.Helper()

	jobID, err := s.Enqueue(context.Background(), jobType, payload, opts...)
	if err != nil {
		t.Fatalf("Enqueue(%q): %v", jobType, err)
	}
	return jobID
}

func mustWait(t *testing.T, s *Scheduler, jobID id.ID) *job.Job {
	t.Helper()

	j, err := s.Wait(context.Background(), jobID, waitTimeout)
	if err != nil {
		t.Fatalf("Wait(%s): %v", jobID, err)
	}
	return j
}

func TestEnqueueAndComplete(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	s := newTestScheduler(t, reg)

	jobID := mustEnqueue(t, s, "echo", json.RawMessage(`{"n":1}`))
	j := mustWait(t, s, jobID)

	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
	if string(j.Result) != `{"n":1}` {
		t.Errorf("result = %s, want payload echoed", j.Result)
	}
	if j.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", j.Attempt)
	}
	if j.Progress != 100 {
		t.Errorf("progress = %d, want 100", j.Progress)
	}
	if j.StartedAt == nil || j.CompletedAt == nil {
		t.Error("timestamps not set on completion")
	}
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, job.NewRegistry())

	if _, err := s.Enqueue(context.Background(), "", nil); !errors.Is(err, queue.ErrInvalidType) {
		t.Errorf("empty type: err = %v, want ErrInvalidType", err)
	}
	_, err := s.Enqueue(context.Background(), "noop", nil, job.WithPriority("urgent"))
	if !errors.Is(err, queue.ErrInvalidPriority) {
		t.Errorf("bad priority: err = %v, want ErrInvalidPriority", err)
	}
}

func TestPriorityOrderExecution(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string

	reg := job.NewRegistry()
	reg.Register("record", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, string(payload))
		mu.Unlock()
		return nil, nil
	})

	// One slot forces strictly sequential execution in claim order.
	s := New(reg,
		WithPollInterval(2*time.Millisecond),
		WithMaxConcurrent(1),
		WithLogger(discardLogger()),
	)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	ids := []id.ID{
		mustEnqueue(t, s, "record", json.RawMessage(`low`), job.WithPriority(job.PriorityLow)),
		mustEnqueue(t, s, "record", json.RawMessage(`critical`), job.WithPriority(job.PriorityCritical)),
		mustEnqueue(t, s, "record", json.RawMessage(`medium-1`)),
		mustEnqueue(t, s, "record", json.RawMessage(`medium-2`)),
		mustEnqueue(t, s, "record", json.RawMessage(`high`), job.WithPriority(job.PriorityHigh)),
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, jobID := range ids {
		mustWait(t, s, jobID)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"critical", "high", "medium-1", "medium-2", "low"}
	if len(order) != len(want) {
		t.Fatalf("executed %d jobs, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestRetryThenSucceed(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	reg := job.NewRegistry()
	reg.Register("flaky", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return nil, fmt.Errorf("transient failure %d", n)
		}
		return json.RawMessage(`"ok"`), nil
	})
	s := newTestScheduler(t, reg)

	jobID := mustEnqueue(t, s, "flaky", nil, job.WithMaxAttempts(3))
	j := mustWait(t, s, jobID)

	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s (error %q), want completed", j.Status, j.Error)
	}
	if j.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", j.Attempt)
	}
	if string(j.Result) != `"ok"` {
		t.Errorf("result = %s, want \"ok\"", j.Result)
	}
}

func TestExhaustedAttemptsDeadLetter(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("doomed", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("permanent failure")
	})
	s := newTestScheduler(t, reg)

	jobID := mustEnqueue(t, s, "doomed", nil, job.WithMaxAttempts(2))
	j := mustWait(t, s, jobID)

	if j.Status != job.StatusFailed {
		t.Fatalf("status = %s, want failed", j.Status)
	}
	if j.Attempt != 2 {
		t.Errorf("attempt = %d, want 2", j.Attempt)
	}
	if !j.DeadLettered {
		t.Fatal("job not dead-lettered after exhausting attempts")
	}
	if j.Error == "" {
		t.Error("last handler error not recorded")
	}

	dead, err := s.DeadLetters(context.Background())
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != jobID {
		t.Fatalf("dead letters = %v, want [%s]", dead, jobID)
	}

	// Dead-lettered jobs are excluded from the active failed view.
	failed, err := s.Jobs(context.Background(), job.Filter{Status: job.StatusFailed})
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("failed view holds %d jobs, want 0", len(failed))
	}

	// Retry refuses dead-lettered jobs; RequeueDeadLetter is the path.
	if ok, err := s.Retry(context.Background(), jobID); err != nil || ok {
		t.Fatalf("Retry on dead letter = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestRequeueDeadLetter(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	fail := true

	reg := job.NewRegistry()
	reg.Register("recoverable", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		mu.Lock()
		f := fail
		mu.Unlock()
		if f {
			return nil, errors.New("backend down")
		}
		return json.RawMessage(`"recovered"`), nil
	})
	s := newTestScheduler(t, reg)

	jobID := mustEnqueue(t, s, "recoverable", nil, job.WithMaxAttempts(1))
	if j := mustWait(t, s, jobID); !j.DeadLettered {
		t.Fatalf("setup: job not dead-lettered (status %s)", j.Status)
	}

	mu.Lock()
	fail = false
	mu.Unlock()

	ok, err := s.RequeueDeadLetter(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("RequeueDeadLetter = (%v, %v), want (true, nil)", ok, err)
	}

	j := mustWait(t, s, jobID)
	if j.Status != job.StatusCompleted {
		t.Fatalf("status after requeue = %s (error %q), want completed", j.Status, j.Error)
	}
	if j.Attempt != 1 {
		t.Errorf("attempt = %d, want 1 after budget reset", j.Attempt)
	}
	if j.DeadLettered {
		t.Error("requeued job still flagged dead-lettered")
	}

	dead, _ := s.DeadLetters(context.Background())
	if len(dead) != 0 {
		t.Errorf("dead letters = %d, want 0 after requeue", len(dead))
	}

	if ok, err := s.RequeueDeadLetter(context.Background(), jobID); err != nil || ok {
		t.Errorf("second RequeueDeadLetter = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestDeadLetterDisabled(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("doomed", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("permanent failure")
	})
	s := newTestScheduler(t, reg, WithDeadLetter(false))

	jobID := mustEnqueue(t, s, "doomed", nil, job.WithMaxAttempts(1))
	j := mustWait(t, s, jobID)

	if j.Status != job.StatusFailed || j.DeadLettered {
		t.Fatalf("got status %s dead=%v, want plain failed", j.Status, j.DeadLettered)
	}

	// Plain failed jobs are retryable.
	if ok, err := s.Retry(context.Background(), jobID); err != nil || !ok {
		t.Fatalf("Retry = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestConcurrencyCap(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 8)

	reg := job.NewRegistry()
	reg.Register("block", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	s := newTestScheduler(t, reg, WithMaxConcurrent(2))

	var ids []id.ID
	for range 4 {
		ids = append(ids, mustEnqueue(t, s, "block", nil))
	}

	// Exactly two handlers may start while the slots are held.
	for range 2 {
		select {
		case <-started:
		case <-time.After(waitTimeout):
			t.Fatal("handlers did not start")
		}
	}
	select {
	case <-started:
		t.Fatal("third handler started past the concurrency cap")
	case <-time.After(50 * time.Millisecond):
	}

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Running != 2 || st.Pending != 2 {
		t.Fatalf("stats = %+v, want 2 running / 2 pending", st)
	}

	close(release)
	for _, jobID := range ids {
		mustWait(t, s, jobID)
	}
}

func TestCancelPending(t *testing.T) {
	t.Parallel()

	// No handler registered, so the job can never be claimed.
	s := newTestScheduler(t, job.NewRegistry())
	jobID := mustEnqueue(t, s, "orphan", nil)

	ok, err := s.Cancel(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("Cancel = (%v, %v), want (true, nil)", ok, err)
	}

	j, err := s.Job(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if j.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}
	if j.CompletedAt == nil {
		t.Error("CompletedAt not set on cancellation")
	}

	// Already terminal: idempotent false.
	if ok, err := s.Cancel(context.Background(), jobID); err != nil || ok {
		t.Errorf("second Cancel = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestCancelRunning(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})

	reg := job.NewRegistry()
	reg.Register("obedient", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		close(entered)
		<-ctx.Done()
		// The outcome is discarded either way; return a result to prove it.
		return json.RawMessage(`"ignored"`), ctx.Err()
	})
	s := newTestScheduler(t, reg)

	jobID := mustEnqueue(t, s, "obedient", nil)
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("handler never started")
	}

	ok, err := s.Cancel(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("Cancel = (%v, %v), want (true, nil)", ok, err)
	}

	j := mustWait(t, s, jobID)
	if j.Status != job.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", j.Status)
	}
	if j.Result != nil {
		t.Errorf("result = %s, want discarded", j.Result)
	}

	if ok, err := s.Cancel(context.Background(), jobID); err != nil || ok {
		t.Errorf("Cancel after terminal = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestCancelCompletedRefused(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("quick", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	})
	s := newTestScheduler(t, reg)

	jobID := mustEnqueue(t, s, "quick", nil)
	mustWait(t, s, jobID)

	// Completed is not a valid source state for cancellation, so the
	// job must keep its status and result untouched.
	if ok, err := s.Cancel(context.Background(), jobID); err != nil || ok {
		t.Fatalf("Cancel completed = (%v, %v), want (false, nil)", ok, err)
	}
	j, err := s.Job(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if j.Status != job.StatusCompleted {
		t.Errorf("status = %s, want completed", j.Status)
	}
	if string(j.Result) != `"done"` {
		t.Errorf("result = %s, want preserved", j.Result)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, job.NewRegistry())
	if _, err := s.Cancel(context.Background(), id.NewJobID()); !errors.Is(err, queue.ErrJobNotFound) {
		t.Errorf("err = %v, want ErrJobNotFound", err)
	}
}

func TestUpdatePendingJob(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})

	// Not started: the job stays pending while we rewrite it.
	s := New(reg, WithPollInterval(2*time.Millisecond), WithLogger(discardLogger()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	jobID := mustEnqueue(t, s, "echo", json.RawMessage(`"before"`), job.WithPriority(job.PriorityLow))

	if ok, err := s.UpdatePriority(context.Background(), jobID, job.PriorityCritical); err != nil || !ok {
		t.Fatalf("UpdatePriority = (%v, %v), want (true, nil)", ok, err)
	}
	if _, err := s.UpdatePriority(context.Background(), jobID, "bogus"); !errors.Is(err, queue.ErrInvalidPriority) {
		t.Errorf("bad priority: err = %v, want ErrInvalidPriority", err)
	}
	if ok, err := s.UpdatePayload(context.Background(), jobID, json.RawMessage(`"after"`)); err != nil || !ok {
		t.Fatalf("UpdatePayload = (%v, %v), want (true, nil)", ok, err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	j := mustWait(t, s, jobID)

	if j.Priority != job.PriorityCritical {
		t.Errorf("priority = %s, want critical", j.Priority)
	}
	if string(j.Result) != `"after"` {
		t.Errorf("result = %s, want updated payload echoed", j.Result)
	}

	// Terminal: no longer updatable.
	if ok, _ := s.UpdatePriority(context.Background(), jobID, job.PriorityHigh); ok {
		t.Error("UpdatePriority succeeded on terminal job")
	}
	if ok, _ := s.UpdatePayload(context.Background(), jobID, nil); ok {
		t.Error("UpdatePayload succeeded on terminal job")
	}
}

func TestNotBeforeDelaysExecution(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("delayed", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	s := newTestScheduler(t, reg)

	notBefore := time.Now().UTC().Add(60 * time.Millisecond)
	jobID := mustEnqueue(t, s, "delayed", nil, job.WithNotBefore(notBefore))

	j := mustWait(t, s, jobID)
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
	if j.StartedAt.Before(notBefore) {
		t.Errorf("started %s before not-before %s", j.StartedAt, notBefore)
	}
}

func TestWaitTimeout(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, job.NewRegistry())
	jobID := mustEnqueue(t, s, "orphan", nil)

	_, err := s.Wait(context.Background(), jobID, 20*time.Millisecond)
	if !errors.Is(err, queue.ErrWaitTimeout) {
		t.Fatalf("err = %v, want ErrWaitTimeout", err)
	}
}

func TestWaitTerminalReturnsImmediately(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	s := newTestScheduler(t, reg)

	jobID := mustEnqueue(t, s, "echo", nil)
	mustWait(t, s, jobID)

	// Second wait observes the terminal snapshot without any event.
	j, err := s.Wait(context.Background(), jobID, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait on terminal job: %v", err)
	}
	if j.Status != job.StatusCompleted {
		t.Fatalf("status = %s, want completed", j.Status)
	}
}

func TestProgressReporting(t *testing.T) {
	t.Parallel()

	observed := make(chan int, 1)

	reg := job.NewRegistry()
	reg.Register("stepped", func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		job.ReportProgress(ctx, 40)
		return nil, nil
	})
	s := newTestScheduler(t, reg)
	jobID := mustEnqueue(t, s, "stepped", nil)

	go func() {
		for {
			j, err := s.Job(context.Background(), jobID)
			if err == nil && j.Status == job.StatusRunning && j.Progress == 40 {
				observed <- j.Progress
				return
			}
			if err == nil && j.Status.Terminal() {
				observed <- j.Progress
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	j := mustWait(t, s, jobID)
	if j.Progress != 100 {
		t.Errorf("final progress = %d, want 100", j.Progress)
	}
	<-observed
}

func TestCleanupArchivesAndRemoves(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var archived []*job.Job
	sink := archive.Func(func(_ context.Context, jobs []*job.Job) error {
		mu.Lock()
		archived = append(archived, jobs...)
		mu.Unlock()
		return nil
	})

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	reg.Register("doomed", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("permanent failure")
	})
	s := newTestScheduler(t, reg, WithArchiver(sink))

	doneID := mustEnqueue(t, s, "echo", nil)
	deadID := mustEnqueue(t, s, "doomed", nil, job.WithMaxAttempts(1))
	mustWait(t, s, doneID)
	mustWait(t, s, deadID)

	time.Sleep(10 * time.Millisecond)
	n, err := s.Cleanup(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("Cleanup removed %d jobs, want 1 (dead letters retained)", n)
	}

	mu.Lock()
	if len(archived) != 1 || archived[0].ID != doneID {
		t.Errorf("archived = %v, want [%s]", archived, doneID)
	}
	mu.Unlock()

	if _, err := s.Job(context.Background(), doneID); !errors.Is(err, queue.ErrJobNotFound) {
		t.Errorf("cleaned job lookup err = %v, want ErrJobNotFound", err)
	}
	if _, err := s.Job(context.Background(), deadID); err != nil {
		t.Errorf("dead-lettered job removed by Cleanup: %v", err)
	}
}

func TestClearCompleted(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	s := newTestScheduler(t, reg)

	first := mustEnqueue(t, s, "echo", nil)
	second := mustEnqueue(t, s, "echo", nil)
	mustWait(t, s, first)
	mustWait(t, s, second)

	n, err := s.ClearCompleted(context.Background())
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if n != 2 {
		t.Fatalf("cleared %d jobs, want 2", n)
	}

	st, _ := s.Stats(context.Background())
	if st.Total != 0 {
		t.Errorf("stats total = %d, want 0", st.Total)
	}
}

func TestStatsCounts(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	reg.Register("doomed", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("permanent failure")
	})
	s := newTestScheduler(t, reg)

	done := mustEnqueue(t, s, "echo", nil)
	dead := mustEnqueue(t, s, "doomed", nil, job.WithMaxAttempts(1))
	mustEnqueue(t, s, "orphan", nil) // stays pending
	cancelledID := mustEnqueue(t, s, "orphan", nil)

	mustWait(t, s, done)
	mustWait(t, s, dead)
	if _, err := s.Cancel(context.Background(), cancelledID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	want := job.Stats{Total: 4, Pending: 1, Completed: 1, Cancelled: 1, DeadLettered: 1}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}
}

func TestJobsFilter(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	s := newTestScheduler(t, reg)

	var done []id.ID
	for range 3 {
		done = append(done, mustEnqueue(t, s, "echo", nil))
	}
	orphan := mustEnqueue(t, s, "orphan", nil)
	for _, jobID := range done {
		mustWait(t, s, jobID)
	}

	completed, err := s.Jobs(context.Background(), job.Filter{Status: job.StatusCompleted})
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(completed) != 3 {
		t.Fatalf("completed = %d, want 3", len(completed))
	}

	byType, err := s.Jobs(context.Background(), job.Filter{Type: "orphan"})
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(byType) != 1 || byType[0].ID != orphan {
		t.Fatalf("type filter = %v, want [%s]", byType, orphan)
	}

	limited, err := s.Jobs(context.Background(), job.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("Jobs: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}

	if _, err := s.Jobs(context.Background(), job.Filter{Status: "bogus"}); !errors.Is(err, queue.ErrInvalidFilter) {
		t.Errorf("bad filter err = %v, want ErrInvalidFilter", err)
	}
}

func TestStopProcessingKeepsState(t *testing.T) {
	t.Parallel()

	reg := job.NewRegistry()
	reg.Register("echo", func(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	})
	s := newTestScheduler(t, reg)

	s.StopProcessing()
	s.StopProcessing() // safe to repeat

	jobID := mustEnqueue(t, s, "echo", nil)
	time.Sleep(20 * time.Millisecond)
	if j, _ := s.Job(context.Background(), jobID); j.Status != job.StatusPending {
		t.Fatalf("status while stopped = %s, want pending", j.Status)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if j := mustWait(t, s, jobID); j.Status != job.StatusCompleted {
		t.Fatalf("status after restart = %s, want completed", j.Status)
	}
}

func TestCloseRejectsEnqueue(t *testing.T) {
	t.Parallel()

	s := newTestScheduler(t, job.NewRegistry())
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := s.Enqueue(context.Background(), "echo", nil); !errors.Is(err, queue.ErrSchedulerClosed) {
		t.Errorf("Enqueue after Close err = %v, want ErrSchedulerClosed", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, queue.ErrSchedulerClosed) {
		t.Errorf("Start after Close err = %v, want ErrSchedulerClosed", err)
	}
}
