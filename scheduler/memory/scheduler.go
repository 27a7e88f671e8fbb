// Package memory implements the single-process scheduler: an in-memory
// stable priority queue, a ticker-driven dispatch loop, and bounded
// concurrent handler execution. Nothing survives the process; use the
// redis backend when durability or cross-process coordination matters.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	queue "github.com/louiesdad/datacloak-workbench-sub000"
	"github.com/louiesdad/datacloak-workbench-sub000/archive"
	"github.com/louiesdad/datacloak-workbench-sub000/backoff"
	"github.com/louiesdad/datacloak-workbench-sub000/event"
	"github.com/louiesdad/datacloak-workbench-sub000/id"
	"github.com/louiesdad/datacloak-workbench-sub000/job"
	"github.com/louiesdad/datacloak-workbench-sub000/middleware"
	"github.com/louiesdad/datacloak-workbench-sub000/scheduler"
)

// unregisteredWarnInterval throttles per-type warnings about jobs whose
// type has no registered handler.
const unregisteredWarnInterval = time.Minute

// Compile-time interface check.
var _ scheduler.Scheduler = (*Scheduler)(nil)

// Scheduler is the in-memory backend. Internal structures are owned by
// this process and only mutated under mu by the dispatch loop and the
// public API.
type Scheduler struct {
	registry *job.Registry
	bcast    *event.Memory
	mw       middleware.Middleware
	bo       backoff.Strategy
	archiver archive.Archiver
	logger   *slog.Logger

	maxConcurrent int
	maxAttempts   int
	pollInterval  time.Duration
	deadLetter    bool

	mu          sync.Mutex
	jobs        map[string]*job.Job
	pending     *pqueue
	running     map[string]context.CancelFunc
	cancelFlag  map[string]bool
	deadLetters []string
	warnedTypes map[string]time.Time

	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent bounds simultaneous handler executions.
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithMaxAttempts sets the default execution budget for jobs that do
// not choose their own.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithPollInterval sets the dispatch tick period.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(s *Scheduler) { s.bo = b }
}

// WithDeadLetter toggles dead-lettering of jobs that exhaust their
// attempts. Enabled by default; when disabled such jobs stay terminally
// failed.
func WithDeadLetter(enabled bool) Option {
	return func(s *Scheduler) { s.deadLetter = enabled }
}

// WithMiddleware wraps handler execution with the given chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Scheduler) { s.mw = middleware.Chain(mws...) }
}

// WithArchiver directs jobs evicted by Cleanup to an archive sink.
func WithArchiver(a archive.Archiver) Option {
	return func(s *Scheduler) { s.archiver = a }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates an in-memory scheduler. Call Start to begin dispatching.
func New(registry *job.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		registry:      registry,
		bcast:         event.NewMemory(),
		mw:            middleware.Chain(),
		bo:            backoff.DefaultStrategy(),
		logger:        slog.Default(),
		maxConcurrent: 10,
		maxAttempts:   3,
		pollInterval:  250 * time.Millisecond,
		deadLetter:    true,
		jobs:          make(map[string]*job.Job),
		pending:       newPQueue(),
		running:       make(map[string]context.CancelFunc),
		cancelFlag:    make(map[string]bool),
		warnedTypes:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue adds a pending job and returns its ID synchronously.
func (s *Scheduler) Enqueue(_ context.Context, jobType string, payload json.RawMessage, opts ...job.Option) (id.ID, error) {
	if jobType == "" {
		return id.Nil, fmt.Errorf("%w: empty type", queue.ErrInvalidType)
	}

	o := s.registry.DefaultsFor(jobType)
	for _, opt := range opts {
		opt(&o)
	}
	if !o.Priority.Valid() {
		return id.Nil, fmt.Errorf("%w: %q", queue.ErrInvalidPriority, o.Priority)
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = s.maxAttempts
	}

	j := job.New(jobType, payload, o)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return id.Nil, queue.ErrSchedulerClosed
	}
	s.jobs[j.ID.String()] = j
	s.pending.Add(j)
	s.mu.Unlock()

	s.publish(j, job.StatusPending)
	return j.ID, nil
}

// Job returns a stable snapshot of one job.
func (s *Scheduler) Job(_ context.Context, jobID id.ID) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	return j.Clone(), nil
}

// Jobs returns snapshots matching the filter, newest first.
func (s *Scheduler) Jobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	matched := make([]*job.Job, 0)
	for _, j := range s.jobs {
		if f.Match(j) {
			matched = append(matched, j.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Cancel cancels a pending or running job.
func (s *Scheduler) Cancel(_ context.Context, jobID id.ID) (bool, error) {
	key := jobID.String()

	s.mu.Lock()
	j, ok := s.jobs[key]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	if !j.Status.CanTransition(job.StatusCancelled) {
		s.mu.Unlock()
		return false, nil
	}

	switch j.Status {
	case job.StatusPending:
		s.pending.Remove(key)
		now := time.Now().UTC()
		j.Status = job.StatusCancelled
		j.CompletedAt = &now
		s.mu.Unlock()
		s.publish(j, job.StatusCancelled)
		return true, nil

	case job.StatusRunning:
		if s.cancelFlag[key] {
			s.mu.Unlock()
			return false, nil
		}
		s.cancelFlag[key] = true
		cancel := s.running[key]
		s.mu.Unlock()
		// Cooperative: the handler context is cancelled but the slot is
		// held until the handler returns; the commit path discards its
		// outcome.
		if cancel != nil {
			cancel()
		}
		return true, nil

	default:
		s.mu.Unlock()
		return false, nil
	}
}

// Retry re-enqueues a failed or cancelled job with a fresh budget.
func (s *Scheduler) Retry(_ context.Context, jobID id.ID) (bool, error) {
	key := jobID.String()

	s.mu.Lock()
	j, ok := s.jobs[key]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	if j.DeadLettered || (j.Status != job.StatusFailed && j.Status != job.StatusCancelled) {
		s.mu.Unlock()
		return false, nil
	}

	s.resetForRequeue(j)
	s.pending.Add(j)
	s.mu.Unlock()

	s.publish(j, job.StatusPending)
	return true, nil
}

// UpdatePriority changes the priority of a pending job.
func (s *Scheduler) UpdatePriority(_ context.Context, jobID id.ID, p job.Priority) (bool, error) {
	if !p.Valid() {
		return false, fmt.Errorf("%w: %q", queue.ErrInvalidPriority, p)
	}

	key := jobID.String()
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	if !s.pending.Contains(key) {
		return false, nil
	}

	j.Priority = p
	s.pending.Fix(key)
	return true, nil
}

// UpdatePayload replaces the payload of a pending job.
func (s *Scheduler) UpdatePayload(_ context.Context, jobID id.ID, payload json.RawMessage) (bool, error) {
	key := jobID.String()
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[key]
	if !ok {
		return false, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	if !s.pending.Contains(key) {
		return false, nil
	}

	j.Payload = append(json.RawMessage(nil), payload...)
	return true, nil
}

// Stats returns aggregate counts by status. Dead-lettered jobs are
// reported separately from the active failed count.
func (s *Scheduler) Stats(_ context.Context) (job.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st job.Stats
	for _, j := range s.jobs {
		st.Total++
		switch {
		case j.DeadLettered:
			st.DeadLettered++
		case j.Status == job.StatusPending:
			st.Pending++
		case j.Status == job.StatusRunning:
			st.Running++
		case j.Status == job.StatusCompleted:
			st.Completed++
		case j.Status == job.StatusFailed:
			st.Failed++
		case j.Status == job.StatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

// Cleanup removes terminal jobs older than olderThan, archiving them
// first when an archiver is configured. Dead-lettered jobs survive.
func (s *Scheduler) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	s.mu.Lock()
	evicted := make([]*job.Job, 0)
	for key, j := range s.jobs {
		if j.DeadLettered || !j.Status.Terminal() {
			continue
		}
		if j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		evicted = append(evicted, j)
		delete(s.jobs, key)
	}
	s.mu.Unlock()

	s.archiveEvicted(ctx, evicted)
	return len(evicted), nil
}

// ClearCompleted removes all completed jobs regardless of age.
func (s *Scheduler) ClearCompleted(ctx context.Context) (int, error) {
	s.mu.Lock()
	evicted := make([]*job.Job, 0)
	for key, j := range s.jobs {
		if j.Status == job.StatusCompleted {
			evicted = append(evicted, j)
			delete(s.jobs, key)
		}
	}
	s.mu.Unlock()

	s.archiveEvicted(ctx, evicted)
	return len(evicted), nil
}

// DeadLetters returns dead-lettered jobs in the order they were parked.
func (s *Scheduler) DeadLetters(_ context.Context) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*job.Job, 0, len(s.deadLetters))
	for _, key := range s.deadLetters {
		if j, ok := s.jobs[key]; ok {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

// RequeueDeadLetter revives a dead-lettered job as pending with its
// attempt count reset.
func (s *Scheduler) RequeueDeadLetter(_ context.Context, jobID id.ID) (bool, error) {
	key := jobID.String()

	s.mu.Lock()
	j, ok := s.jobs[key]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	if !j.DeadLettered {
		s.mu.Unlock()
		return false, nil
	}

	for i, dk := range s.deadLetters {
		if dk == key {
			s.deadLetters = append(s.deadLetters[:i], s.deadLetters[i+1:]...)
			break
		}
	}
	j.DeadLettered = false
	s.resetForRequeue(j)
	s.pending.Add(j)
	s.mu.Unlock()

	s.publish(j, job.StatusPending)
	return true, nil
}

// Wait blocks until the job reaches a terminal status.
func (s *Scheduler) Wait(ctx context.Context, jobID id.ID, timeout time.Duration) (*job.Job, error) {
	// Subscribe before the initial read so a transition between the two
	// cannot be missed.
	ch, cancel := s.bcast.Subscribe(jobID)
	defer cancel()

	j, err := s.Job(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil, queue.ErrSchedulerClosed
			}
			if evt.Status.Terminal() {
				return s.Job(ctx, jobID)
			}
		case <-timeoutCh:
			return nil, fmt.Errorf("%w: %s after %s", queue.ErrWaitTimeout, jobID, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Start launches the dispatch loop. Idempotent.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return queue.ErrSchedulerClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	s.stopCh = make(chan struct{})

	s.logger.Info("memory scheduler started",
		slog.Int("max_concurrent", s.maxConcurrent),
		slog.Duration("poll_interval", s.pollInterval),
	)

	s.wg.Add(1)
	go s.dispatchLoop(s.stopCh)
	return nil
}

// StopProcessing halts the dispatch tick without losing queued state.
// Running handlers finish and commit. Safe to call repeatedly.
func (s *Scheduler) StopProcessing() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("memory scheduler stopped")
}

// Close stops processing and releases the broadcaster.
func (s *Scheduler) Close(_ context.Context) error {
	s.StopProcessing()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.bcast.Close()
}

// dispatchLoop claims eligible jobs every tick until stopped.
func (s *Scheduler) dispatchLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch claims up to the free concurrency slots, highest priority
// first, and launches a handler goroutine per claim.
func (s *Scheduler) dispatch() {
	now := time.Now().UTC()

	s.mu.Lock()
	free := s.maxConcurrent - len(s.running)
	var unregistered []string
	claimed := s.pending.Claim(free, func(j *job.Job) bool {
		if !j.Eligible(now) {
			return false
		}
		if _, ok := s.registry.Get(j.Type); !ok {
			unregistered = append(unregistered, j.Type)
			return false
		}
		return true
	})

	type launch struct {
		j      *job.Job
		ctx    context.Context
		cancel context.CancelFunc
	}
	launches := make([]launch, 0, len(claimed))
	for _, j := range claimed {
		started := now
		j.Status = job.StatusRunning
		j.Attempt++
		j.StartedAt = &started
		ctx, cancel := context.WithCancel(context.Background())
		s.running[j.ID.String()] = cancel
		launches = append(launches, launch{j: j, ctx: ctx, cancel: cancel})
	}
	s.mu.Unlock()

	for _, typ := range unregistered {
		s.warnUnregistered(typ)
	}

	for _, l := range launches {
		s.publish(l.j, job.StatusRunning)
		go s.execute(l.ctx, l.cancel, l.j)
	}
}

// execute runs one claimed job through the middleware chain and commits
// the outcome. Handler errors never escape; they drive the
// retry/dead-letter transition.
func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, j *job.Job) {
	defer cancel()

	key := j.ID.String()
	ctx = job.WithReporter(ctx, func(pct int) {
		s.mu.Lock()
		j.Progress = pct
		s.mu.Unlock()
	})

	handler, ok := s.registry.Get(j.Type)
	if !ok {
		// Unregistered between claim check and execution; requeue.
		s.mu.Lock()
		j.Status = job.StatusPending
		j.Attempt--
		j.StartedAt = nil
		delete(s.running, key)
		s.pending.Add(j)
		s.mu.Unlock()
		return
	}

	payload := append(json.RawMessage(nil), j.Payload...)
	result, err := s.mw(ctx, j, func(ctx context.Context) (json.RawMessage, error) {
		return handler(ctx, payload)
	})

	s.commit(j, result, err)
}

// commit applies the post-execution transition under the mutex and
// publishes the resulting lifecycle event.
func (s *Scheduler) commit(j *job.Job, result json.RawMessage, execErr error) {
	now := time.Now().UTC()
	key := j.ID.String()

	s.mu.Lock()
	delete(s.running, key)
	cancelled := s.cancelFlag[key]
	delete(s.cancelFlag, key)

	var publishStatus job.Status
	switch {
	case cancelled:
		// Outcome discarded; status fixed at cancelled.
		j.Status = job.StatusCancelled
		j.Result = nil
		j.CompletedAt = &now
		publishStatus = job.StatusCancelled

	case execErr == nil:
		j.Status = job.StatusCompleted
		j.Result = result
		j.Error = ""
		j.Progress = 100
		j.CompletedAt = &now
		publishStatus = job.StatusCompleted

	case j.RetriesLeft():
		delay := s.bo.Delay(j.Attempt)
		j.Status = job.StatusPending
		j.Error = execErr.Error()
		j.NotBefore = now.Add(delay)
		j.StartedAt = nil
		s.pending.Add(j)
		publishStatus = job.StatusPending
		s.logger.Debug("job scheduled for retry",
			slog.String("job_id", key),
			slog.Int("attempt", j.Attempt),
			slog.Duration("delay", delay),
		)

	default:
		j.Status = job.StatusFailed
		j.Error = execErr.Error()
		j.Result = nil
		j.CompletedAt = &now
		if s.deadLetter {
			j.DeadLettered = true
			s.deadLetters = append(s.deadLetters, key)
		}
		publishStatus = job.StatusFailed
	}
	s.mu.Unlock()

	s.publish(j, publishStatus)
}

// resetForRequeue returns a terminal job to a fresh pending state.
// Caller holds the mutex.
func (s *Scheduler) resetForRequeue(j *job.Job) {
	j.Status = job.StatusPending
	j.Attempt = 0
	j.Error = ""
	j.Result = nil
	j.Progress = 0
	j.NotBefore = time.Time{}
	j.StartedAt = nil
	j.CompletedAt = nil
}

func (s *Scheduler) publish(j *job.Job, status job.Status) {
	if err := s.bcast.Publish(context.Background(), event.New(j, status)); err != nil {
		s.logger.Warn("event publish failed", slog.String("error", err.Error()))
	}
}

// warnUnregistered logs at most once per interval per type so a
// forgotten registration is visible without flooding the log.
func (s *Scheduler) warnUnregistered(jobType string) {
	s.mu.Lock()
	last, seen := s.warnedTypes[jobType]
	now := time.Now()
	if seen && now.Sub(last) < unregisteredWarnInterval {
		s.mu.Unlock()
		return
	}
	s.warnedTypes[jobType] = now
	s.mu.Unlock()

	s.logger.Warn("pending jobs have no registered handler",
		slog.String("job_type", jobType),
	)
}

// archiveEvicted hands evicted jobs to the archiver, best-effort.
func (s *Scheduler) archiveEvicted(ctx context.Context, evicted []*job.Job) {
	if s.archiver == nil || len(evicted) == 0 {
		return
	}
	if err := s.archiver.Archive(ctx, evicted); err != nil {
		s.logger.Error("archive of evicted jobs failed",
			slog.Int("count", len(evicted)),
			slog.String("error", err.Error()),
		)
	}
}
