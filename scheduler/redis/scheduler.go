package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	queue "github.com/louiesdad/datacloak-workbench-sub000"
	"github.com/louiesdad/datacloak-workbench-sub000/archive"
	"github.com/louiesdad/datacloak-workbench-sub000/backoff"
	"github.com/louiesdad/datacloak-workbench-sub000/event"
	"github.com/louiesdad/datacloak-workbench-sub000/id"
	"github.com/louiesdad/datacloak-workbench-sub000/job"
	"github.com/louiesdad/datacloak-workbench-sub000/middleware"
	"github.com/louiesdad/datacloak-workbench-sub000/scheduler"
)

const (
	// waitPollInterval is the coarse fallback with which Wait re-reads
	// job state; pub/sub delivery is best-effort and a dropped terminal
	// event must not strand a waiter.
	waitPollInterval = 500 * time.Millisecond

	// scanBatch is the SSCAN page size for full-state scans.
	scanBatch = 128

	// scanWorkers bounds concurrent hash fetches during scans.
	scanWorkers = 4

	// defaultClaimTimeout is how long a claim may sit in the processing
	// zset before any dispatch loop on the prefix treats it as orphaned
	// and requeues it. Handlers running locally keep their claim alive
	// past this regardless.
	defaultClaimTimeout = 5 * time.Minute
)

// staleClaimError marks executions recovered from a process that died
// between claim and commit.
const staleClaimError = "claim expired: owning process presumed dead"

// Compile-time interface check.
var _ scheduler.Scheduler = (*Scheduler)(nil)

// Scheduler is the durable backend. Several processes may point at the
// same key prefix: each runs its own dispatch loop, claims atomically
// through Lua, and observes the others' lifecycle events over pub/sub.
type Scheduler struct {
	client   goredis.UniversalClient
	keys     keys
	registry *job.Registry
	bcast    *broadcaster
	mw       middleware.Middleware
	bo       backoff.Strategy
	archiver archive.Archiver
	logger   *slog.Logger

	// errLimit throttles dispatch-loop error logging so a dead Redis
	// does not storm the log at every tick.
	errLimit *rate.Limiter

	maxConcurrent int
	maxAttempts   int
	pollInterval  time.Duration
	claimTimeout  time.Duration
	deadLetter    bool

	mu      sync.Mutex
	running map[string]context.CancelFunc
	started bool
	closed  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrent bounds simultaneous handler executions in this
// process. Other processes on the same prefix have their own bound.
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

// WithClaimTimeout sets how long a claimed job may go uncommitted
// before other dispatch loops on the prefix reclaim it. Must exceed
// the longest expected handler run on any other process; a handler
// running in this process keeps its claim regardless.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithDeadLetter toggles dead-lettering of jobs that exhaust their
// attempts.
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

// New creates a durable scheduler on an established client. The
// scheduler takes ownership of the client and closes it with Close.
// Call Start to begin dispatching; a process that only enqueues and
// waits may skip Start entirely.
func New(client goredis.UniversalClient, keyPrefix string, registry *job.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		client:        client,
		keys:          newKeys(keyPrefix),
		registry:      registry,
		mw:            middleware.Chain(),
		bo:            backoff.DefaultStrategy(),
		logger:        slog.Default(),
		errLimit:      rate.NewLimiter(rate.Every(5*time.Second), 1),
		maxConcurrent: 10,
		maxAttempts:   3,
		pollInterval:  250 * time.Millisecond,
		claimTimeout:  defaultClaimTimeout,
		deadLetter:    true,
		running:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bcast = newBroadcaster(client, s.keys.events(), s.logger, s.cancelLocal)
	return s
}

// Enqueue persists a new pending job. Jobs with a future NotBefore go
// straight to the delayed set.
func (s *Scheduler) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts ...job.Option) (id.ID, error) {
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

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return id.Nil, queue.ErrSchedulerClosed
	}
	s.mu.Unlock()

	j := job.New(jobType, payload, o)
	key := j.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.job(key), jobToHash(j))
	pipe.SAdd(ctx, s.keys.ids(), key)
	if !j.NotBefore.IsZero() && j.NotBefore.After(time.Now()) {
		pipe.ZAdd(ctx, s.keys.delayed(), goredis.Z{
			Score:  float64(j.NotBefore.UnixMilli()),
			Member: key,
		})
	} else {
		pipe.ZAdd(ctx, s.keys.pending(), goredis.Z{
			Score:  pendingScore(j.Priority, j.CreatedAt),
			Member: key,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return id.Nil, fmt.Errorf("%w: enqueue: %w", queue.ErrBackendUnavailable, err)
	}

	s.publish(ctx, j, job.StatusPending)
	return j.ID, nil
}

// Job returns a snapshot of one job.
func (s *Scheduler) Job(ctx context.Context, jobID id.ID) (*job.Job, error) {
	h, err := s.client.HGetAll(ctx, s.keys.job(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: job read: %w", queue.ErrBackendUnavailable, err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	}
	return hashToJob(h)
}

// Jobs scans all known jobs and returns those matching the filter,
// newest first.
func (s *Scheduler) Jobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	matched := make([]*job.Job, 0)
	err := s.scanJobs(ctx, func(j *job.Job) {
		if f.Match(j) {
			matched = append(matched, j)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Cancel cancels a pending or running job. Running jobs may execute in
// another process; the cancel request travels over pub/sub and the
// owning process cancels its handler context.
func (s *Scheduler) Cancel(ctx context.Context, jobID id.ID) (bool, error) {
	key := jobID.String()
	res, err := cancelScript.Run(ctx, s.client,
		[]string{s.keys.pending(), s.keys.delayed(), s.keys.job(key)},
		key, nowIso(),
	).Text()
	if err != nil {
		return false, fmt.Errorf("%w: cancel: %w", queue.ErrBackendUnavailable, err)
	}

	switch res {
	case "missing":
		return false, fmt.Errorf("%w: %s", queue.ErrJobNotFound, jobID)
	case "cancelled":
		s.publishByID(ctx, jobID, "", job.StatusCancelled)
		return true, nil
	case "requested":
		if err := s.bcast.PublishCancel(ctx, key); err != nil {
			s.logger.Warn("cancel broadcast failed",
				slog.String("job_id", key),
				slog.String("error", err.Error()),
			)
			// The local handler can still be cancelled directly.
			s.cancelLocal(key)
		}
		return true, nil
	default:
		return false, nil
	}
}

// Retry re-enqueues a failed or cancelled job with a fresh budget.
func (s *Scheduler) Retry(ctx context.Context, jobID id.ID) (bool, error) {
	key := jobID.String()
	j, err := s.Job(ctx, jobID)
	if err != nil {
		return false, err
	}

	// Requeued jobs join the back of their priority tier.
	score := pendingScore(j.Priority, time.Now().UTC())
	n, err := retryScript.Run(ctx, s.client,
		[]string{s.keys.pending(), s.keys.job(key)},
		key, score,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: retry: %w", queue.ErrBackendUnavailable, err)
	}
	if n == 0 {
		return false, nil
	}

	s.publishByID(ctx, jobID, j.Type, job.StatusPending)
	return true, nil
}

// UpdatePriority re-scores an unclaimed job.
func (s *Scheduler) UpdatePriority(ctx context.Context, jobID id.ID, p job.Priority) (bool, error) {
	if !p.Valid() {
		return false, fmt.Errorf("%w: %q", queue.ErrInvalidPriority, p)
	}

	key := jobID.String()
	j, err := s.Job(ctx, jobID)
	if err != nil {
		return false, err
	}

	// Keep the original enqueue time so the job holds its place within
	// the new tier.
	score := pendingScore(p, j.CreatedAt)
	n, err := updatePriorityScript.Run(ctx, s.client,
		[]string{s.keys.pending(), s.keys.delayed(), s.keys.job(key)},
		key, string(p), score,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: update priority: %w", queue.ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

// UpdatePayload replaces the payload of an unclaimed job.
func (s *Scheduler) UpdatePayload(ctx context.Context, jobID id.ID, payload json.RawMessage) (bool, error) {
	key := jobID.String()
	if _, err := s.Job(ctx, jobID); err != nil {
		return false, err
	}

	n, err := updatePayloadScript.Run(ctx, s.client,
		[]string{s.keys.pending(), s.keys.delayed(), s.keys.job(key)},
		key, string(payload),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: update payload: %w", queue.ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

// Stats aggregates counts by status across the whole key space.
func (s *Scheduler) Stats(ctx context.Context) (job.Stats, error) {
	var st job.Stats
	err := s.scanJobs(ctx, func(j *job.Job) {
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
	})
	return st, err
}

// Cleanup removes terminal jobs older than olderThan, archiving them
// first when an archiver is configured. Dead-lettered jobs survive.
// The scan and the deletes are separate steps; a job completing in
// between is simply picked up by a later cleanup.
func (s *Scheduler) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	evict := make([]*job.Job, 0)
	err := s.scanJobs(ctx, func(j *job.Job) {
		if j.DeadLettered || !j.Status.Terminal() {
			return
		}
		if j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			return
		}
		evict = append(evict, j)
	})
	if err != nil {
		return 0, err
	}
	return s.evict(ctx, evict)
}

// ClearCompleted removes all completed jobs regardless of age.
func (s *Scheduler) ClearCompleted(ctx context.Context) (int, error) {
	evict := make([]*job.Job, 0)
	err := s.scanJobs(ctx, func(j *job.Job) {
		if j.Status == job.StatusCompleted {
			evict = append(evict, j)
		}
	})
	if err != nil {
		return 0, err
	}
	return s.evict(ctx, evict)
}

// DeadLetters returns the parked jobs in parking order.
func (s *Scheduler) DeadLetters(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.LRange(ctx, s.keys.dead(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: dead letters: %w", queue.ErrBackendUnavailable, err)
	}

	out := make([]*job.Job, 0, len(ids))
	for _, key := range ids {
		h, err := s.client.HGetAll(ctx, s.keys.job(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: dead letters: %w", queue.ErrBackendUnavailable, err)
		}
		if len(h) == 0 {
			continue
		}
		j, err := hashToJob(h)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// RequeueDeadLetter revives a dead-lettered job as pending with its
// attempt count reset.
func (s *Scheduler) RequeueDeadLetter(ctx context.Context, jobID id.ID) (bool, error) {
	key := jobID.String()
	j, err := s.Job(ctx, jobID)
	if err != nil {
		return false, err
	}

	score := pendingScore(j.Priority, time.Now().UTC())
	n, err := requeueDeadScript.Run(ctx, s.client,
		[]string{s.keys.dead(), s.keys.pending(), s.keys.job(key)},
		key, score,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: requeue dead letter: %w", queue.ErrBackendUnavailable, err)
	}
	if n == 0 {
		return false, nil
	}

	s.publishByID(ctx, jobID, j.Type, job.StatusPending)
	return true, nil
}

// Wait blocks until the job reaches a terminal status. Pub/sub carries
// the fast path; a coarse poll backstops dropped events.
func (s *Scheduler) Wait(ctx context.Context, jobID id.ID, timeout time.Duration) (*job.Job, error) {
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

	poll := time.NewTicker(waitPollInterval)
	defer poll.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil, queue.ErrSchedulerClosed
			}
			if !evt.Status.Terminal() {
				continue
			}
			return s.Job(ctx, jobID)
		case <-poll.C:
			j, err := s.Job(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if j.Status.Terminal() {
				return j, nil
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

	s.logger.Info("redis scheduler started",
		slog.String("key_prefix", s.keys.prefix),
		slog.Int("max_concurrent", s.maxConcurrent),
		slog.Duration("poll_interval", s.pollInterval),
	)

	s.wg.Add(1)
	go s.dispatchLoop(s.stopCh)
	return nil
}

// StopProcessing halts the dispatch tick. Queued jobs stay in Redis;
// running handlers finish and commit. Safe to call repeatedly.
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
	s.logger.Info("redis scheduler stopped")
}

// Close stops processing, tears down pub/sub, and closes the client.
func (s *Scheduler) Close(_ context.Context) error {
	s.StopProcessing()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return errors.Join(s.bcast.Close(), s.client.Close())
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
			s.dispatch(context.Background())
		}
	}
}

// dispatch reaps orphaned claims, then claims up to the free local
// slots and launches a handler goroutine per claim.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.reapStale(ctx)

	types := s.registry.Types()
	if len(types) == 0 {
		return
	}

	s.mu.Lock()
	free := s.maxConcurrent - len(s.running)
	s.mu.Unlock()
	if free <= 0 {
		return
	}

	now := time.Now().UTC()
	args := make([]any, 0, 4+len(types))
	args = append(args, now.UnixMilli(), free, s.keys.jobPrefix(), now.Format(time.RFC3339Nano))
	for _, t := range types {
		args = append(args, t)
	}

	claimed, err := claimScript.Run(ctx, s.client,
		[]string{s.keys.pending(), s.keys.delayed(), s.keys.processing()},
		args...,
	).StringSlice()
	if err != nil {
		s.logDispatchError("claim failed", err)
		return
	}

	for _, key := range claimed {
		h, err := s.client.HGetAll(ctx, s.keys.job(key)).Result()
		if err != nil || len(h) == 0 {
			s.logDispatchError("claimed job read failed", err)
			continue
		}
		j, err := hashToJob(h)
		if err != nil {
			s.logDispatchError("claimed job decode failed", err)
			continue
		}

		execCtx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.running[key] = cancel
		s.mu.Unlock()

		s.publish(ctx, j, job.StatusRunning)
		go s.execute(execCtx, cancel, j)
	}
}

// reapStale requeues claims whose owner died before committing. The
// ids of handlers still running in this process are passed as
// exclusions so a long local execution is never reaped out from under
// itself.
func (s *Scheduler) reapStale(ctx context.Context) {
	s.mu.Lock()
	own := make([]string, 0, len(s.running))
	for key := range s.running {
		own = append(own, key)
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	deadLetter := "0"
	if s.deadLetter {
		deadLetter = "1"
	}
	args := make([]any, 0, 5+len(own))
	args = append(args,
		now.Add(-s.claimTimeout).UnixMilli(),
		staleClaimError,
		now.Format(time.RFC3339Nano),
		deadLetter,
		s.keys.jobPrefix(),
	)
	for _, key := range own {
		args = append(args, key)
	}

	reaped, err := reapScript.Run(ctx, s.client,
		[]string{s.keys.pending(), s.keys.processing(), s.keys.dead()},
		args...,
	).StringSlice()
	if err != nil {
		s.logDispatchError("stale claim reap failed", err)
		return
	}

	for i := 0; i+1 < len(reaped); i += 2 {
		key, outcome := reaped[i], reaped[i+1]
		s.logger.Warn("requeued stale claim",
			slog.String("job_id", key),
			slog.String("outcome", outcome),
			slog.Duration("claim_timeout", s.claimTimeout),
		)
		jobID, err := id.ParseJobID(key)
		if err != nil {
			continue
		}
		status := job.StatusPending
		if outcome == "failed" {
			status = job.StatusFailed
		}
		s.publishByID(ctx, jobID, "", status)
	}
}

// execute runs one claimed job through the middleware chain and commits
// the outcome back to Redis.
func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, j *job.Job) {
	defer cancel()

	key := j.ID.String()
	ctx = job.WithReporter(ctx, func(pct int) {
		// Best effort; progress is advisory.
		_ = s.client.HSet(context.Background(), s.keys.job(key), fieldProgress, pct).Err()
	})

	handler, ok := s.registry.Get(j.Type)
	var result json.RawMessage
	var execErr error
	if !ok {
		execErr = fmt.Errorf("%w: %s", queue.ErrNoHandler, j.Type)
	} else {
		result, execErr = s.mw(ctx, j, func(ctx context.Context) (json.RawMessage, error) {
			return handler(ctx, j.Payload)
		})
	}

	s.mu.Lock()
	delete(s.running, key)
	s.mu.Unlock()

	s.commit(j, result, execErr)
}

// commit applies the post-execution transition and publishes the
// resulting lifecycle event.
func (s *Scheduler) commit(j *job.Job, result json.RawMessage, execErr error) {
	ctx := context.Background()
	key := j.ID.String()

	if execErr == nil {
		status, err := completeScript.Run(ctx, s.client,
			[]string{s.keys.processing(), s.keys.job(key)},
			key, string(result), nowIso(),
		).Text()
		if err != nil {
			s.logDispatchError("complete commit failed", err)
			return
		}
		if status == "stale" {
			// Another process reclaimed the job after our claim
			// expired; its commit wins.
			s.logger.Warn("discarded commit for expired claim", slog.String("job_id", key))
			return
		}
		s.publishByID(ctx, j.ID, j.Type, job.Status(status))
		return
	}

	retryAt := time.Now().UTC().Add(s.bo.Delay(j.Attempt))
	deadLetter := "0"
	if s.deadLetter {
		deadLetter = "1"
	}
	status, err := failScript.Run(ctx, s.client,
		[]string{s.keys.processing(), s.keys.job(key), s.keys.delayed(), s.keys.dead()},
		key, execErr.Error(), nowIso(), retryAt.UnixMilli(), deadLetter,
	).Text()
	if err != nil {
		s.logDispatchError("fail commit failed", err)
		return
	}
	if status == "stale" {
		s.logger.Warn("discarded commit for expired claim", slog.String("job_id", key))
		return
	}
	if status == "pending" {
		s.logger.Debug("job scheduled for retry",
			slog.String("job_id", key),
			slog.Int("attempt", j.Attempt),
			slog.Time("retry_at", retryAt),
		)
	}
	if status == "dead" {
		status = string(job.StatusFailed)
	}
	s.publishByID(ctx, j.ID, j.Type, job.Status(status))
}

// cancelLocal cancels the handler context if this process is running
// the job. Invoked for every cancel message on the events channel.
func (s *Scheduler) cancelLocal(jobID string) {
	s.mu.Lock()
	cancel := s.running[jobID]
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// scanJobs streams every job hash through fn. fn runs on the caller's
// goroutine; hash fetches fan out over a bounded worker group.
func (s *Scheduler) scanJobs(ctx context.Context, fn func(*job.Job)) error {
	var ids []string
	iter := s.client.SScan(ctx, s.keys.ids(), 0, "", scanBatch).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan: %w", queue.ErrBackendUnavailable, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)

	for start := 0; start < len(ids); start += scanBatch {
		end := min(start+scanBatch, len(ids))
		batch := ids[start:end]
		g.Go(func() error {
			pipe := s.client.Pipeline()
			cmds := make([]*goredis.MapStringStringCmd, len(batch))
			for i, key := range batch {
				cmds[i] = pipe.HGetAll(gctx, s.keys.job(key))
			}
			if _, err := pipe.Exec(gctx); err != nil {
				return fmt.Errorf("%w: scan batch: %w", queue.ErrBackendUnavailable, err)
			}

			for _, cmd := range cmds {
				h := cmd.Val()
				if len(h) == 0 {
					continue // removed between scan and fetch
				}
				j, err := hashToJob(h)
				if err != nil {
					return err
				}
				mu.Lock()
				fn(j)
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

// evict archives then deletes the given jobs.
func (s *Scheduler) evict(ctx context.Context, jobs []*job.Job) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}

	if s.archiver != nil {
		if err := s.archiver.Archive(ctx, jobs); err != nil {
			s.logger.Error("archive of evicted jobs failed",
				slog.Int("count", len(jobs)),
				slog.String("error", err.Error()),
			)
		}
	}

	pipe := s.client.TxPipeline()
	for _, j := range jobs {
		key := j.ID.String()
		pipe.Del(ctx, s.keys.job(key))
		pipe.SRem(ctx, s.keys.ids(), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: evict: %w", queue.ErrBackendUnavailable, err)
	}
	return len(jobs), nil
}

func (s *Scheduler) publish(ctx context.Context, j *job.Job, status job.Status) {
	s.publishByID(ctx, j.ID, j.Type, status)
}

func (s *Scheduler) publishByID(ctx context.Context, jobID id.ID, jobType string, status job.Status) {
	evt := event.Event{
		ID:        id.NewEventID(),
		JobID:     jobID,
		JobType:   jobType,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if err := s.bcast.Publish(ctx, evt); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// logDispatchError logs loop errors at a bounded rate.
func (s *Scheduler) logDispatchError(msg string, err error) {
	if err == nil || !s.errLimit.Allow() {
		return
	}
	s.logger.Error(msg, slog.String("error", err.Error()))
}

func nowIso() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
