// Package engine is the composition root: it builds a scheduler backend
// from configuration, carries the shared handler registry across
// reconfigurations, and presents the combined surface to the host
// application. Handlers are registered once on the engine; which
// backend executes them is a configuration detail.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	queue "github.com/louiesdad/datacloak-workbench-sub000"
	"github.com/louiesdad/datacloak-workbench-sub000/archive"
	"github.com/louiesdad/datacloak-workbench-sub000/backoff"
	"github.com/louiesdad/datacloak-workbench-sub000/id"
	"github.com/louiesdad/datacloak-workbench-sub000/job"
	"github.com/louiesdad/datacloak-workbench-sub000/middleware"
	"github.com/louiesdad/datacloak-workbench-sub000/scheduler"
	"github.com/louiesdad/datacloak-workbench-sub000/scheduler/memory"
	"github.com/louiesdad/datacloak-workbench-sub000/scheduler/redis"
)

// retryDelayCap bounds exponential retry growth so a job with a large
// attempt budget does not end up waiting hours between tries.
const retryDelayCap = 15 * time.Minute

// Compile-time interface check.
var _ scheduler.Scheduler = (*Engine)(nil)

// Engine owns the active scheduler backend and the handler registry.
// The registry outlives backend swaps: Reconfigure builds a replacement
// scheduler around the same registry before tearing the old one down.
type Engine struct {
	registry *job.Registry
	logger   *slog.Logger
	mw       []middleware.Middleware
	bo       backoff.Strategy
	archiver archive.Archiver

	mu      sync.RWMutex
	cfg     queue.Config
	sched   scheduler.Scheduler
	started bool
	closed  bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the structured logger passed down to the backend.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMiddleware wraps every handler execution, outermost first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mw = append(e.mw, mws...) }
}

// WithBackoff overrides the retry delay strategy derived from the
// configuration's RetryStrategy and RetryDelay.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithArchiver directs jobs evicted by Cleanup to an archive sink.
func WithArchiver(a archive.Archiver) Option {
	return func(e *Engine) { e.archiver = a }
}

// New validates cfg and builds the engine with its initial backend.
// The redis backend is probed before New returns; an unreachable server
// yields ErrBackendUnavailable rather than a scheduler that fails on
// first use.
func New(cfg queue.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		registry: job.NewRegistry(),
		logger:   slog.Default(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(e)
	}

	sched, err := e.build(cfg)
	if err != nil {
		return nil, err
	}
	e.sched = sched

	e.logger.Info("queue engine ready", slog.String("backend", string(cfg.Backend)))
	return e, nil
}

// Registry returns the handler registry. Registrations apply to the
// current backend and to every backend built by later Reconfigure
// calls.
func (e *Engine) Registry() *job.Registry {
	return e.registry
}

// Config returns the active configuration.
func (e *Engine) Config() queue.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Reconfigure applies a new configuration. When the change requires a
// different backend the replacement is built and probed first; the old
// scheduler keeps serving until the swap, then drains and closes. The
// handler registry carries over untouched.
func (e *Engine) Reconfigure(ctx context.Context, next queue.Config) error {
	if err := next.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return queue.ErrSchedulerClosed
	}
	if !e.cfg.RequiresRebuild(next) {
		e.cfg = next
		e.mu.Unlock()
		return nil
	}
	wasStarted := e.started
	e.mu.Unlock()

	// Build outside the lock; construction probes the backend and may
	// take up to ConnectTimeout.
	replacement, err := e.build(next)
	if err != nil {
		return err
	}
	if wasStarted {
		if err := replacement.Start(ctx); err != nil {
			_ = replacement.Close(ctx)
			return err
		}
	}

	e.mu.Lock()
	old := e.sched
	e.sched = replacement
	e.cfg = next
	e.mu.Unlock()

	old.StopProcessing()
	if err := old.Close(ctx); err != nil {
		e.logger.Warn("previous scheduler close failed", slog.String("error", err.Error()))
	}

	e.logger.Info("queue engine reconfigured", slog.String("backend", string(next.Backend)))
	return nil
}

// build constructs a scheduler backend for cfg around the shared
// registry.
func (e *Engine) build(cfg queue.Config) (scheduler.Scheduler, error) {
	bo := e.bo
	if bo == nil {
		bo = strategyFor(cfg)
	}

	// Recovery and the per-job deadline are part of the execution
	// contract, not opt-in instrumentation; host middleware runs inside
	// them.
	mws := append([]middleware.Middleware{
		middleware.Recover(e.logger),
		middleware.Timeout(e.logger),
	}, e.mw...)

	switch cfg.Backend {
	case queue.BackendMemory:
		return memory.New(e.registry,
			memory.WithMaxConcurrent(cfg.MaxConcurrent),
			memory.WithMaxAttempts(cfg.MaxAttempts),
			memory.WithPollInterval(cfg.PollInterval),
			memory.WithDeadLetter(cfg.EnableDeadLetter),
			memory.WithBackoff(bo),
			memory.WithMiddleware(mws...),
			memory.WithArchiver(e.archiver),
			memory.WithLogger(e.logger),
		), nil

	case queue.BackendRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("%w: redis at %s: %w", queue.ErrBackendUnavailable, cfg.Redis.Addr, err)
		}

		return redis.New(client, cfg.KeyPrefix, e.registry,
			redis.WithMaxConcurrent(cfg.MaxConcurrent),
			redis.WithMaxAttempts(cfg.MaxAttempts),
			redis.WithPollInterval(cfg.PollInterval),
			redis.WithDeadLetter(cfg.EnableDeadLetter),
			redis.WithBackoff(bo),
			redis.WithMiddleware(mws...),
			redis.WithArchiver(e.archiver),
			redis.WithLogger(e.logger),
		), nil

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", queue.ErrInvalidConfig, cfg.Backend)
	}
}

// strategyFor derives the retry strategy from configuration.
func strategyFor(cfg queue.Config) backoff.Strategy {
	if cfg.RetryStrategy == queue.RetryFixed {
		return backoff.NewFixed(cfg.RetryDelay)
	}
	return backoff.NewExponentialWithJitter(cfg.RetryDelay, retryDelayCap)
}

// current returns the active backend under the read lock.
func (e *Engine) current() scheduler.Scheduler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sched
}

// Enqueue adds a job to the active backend.
func (e *Engine) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts ...job.Option) (id.ID, error) {
	return e.current().Enqueue(ctx, jobType, payload, opts...)
}

// Job returns a snapshot of one job.
func (e *Engine) Job(ctx context.Context, jobID id.ID) (*job.Job, error) {
	return e.current().Job(ctx, jobID)
}

// Jobs returns snapshots matching the filter.
func (e *Engine) Jobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	return e.current().Jobs(ctx, f)
}

// Cancel cancels a pending or running job.
func (e *Engine) Cancel(ctx context.Context, jobID id.ID) (bool, error) {
	return e.current().Cancel(ctx, jobID)
}

// Retry re-enqueues a failed or cancelled job.
func (e *Engine) Retry(ctx context.Context, jobID id.ID) (bool, error) {
	return e.current().Retry(ctx, jobID)
}

// UpdatePriority changes the priority of a pending job.
func (e *Engine) UpdatePriority(ctx context.Context, jobID id.ID, p job.Priority) (bool, error) {
	return e.current().UpdatePriority(ctx, jobID, p)
}

// UpdatePayload replaces the payload of a pending job.
func (e *Engine) UpdatePayload(ctx context.Context, jobID id.ID, payload json.RawMessage) (bool, error) {
	return e.current().UpdatePayload(ctx, jobID, payload)
}

// Stats returns aggregate counts by status.
func (e *Engine) Stats(ctx context.Context) (job.Stats, error) {
	return e.current().Stats(ctx)
}

// Cleanup removes terminal jobs older than olderThan.
func (e *Engine) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return e.current().Cleanup(ctx, olderThan)
}

// ClearCompleted removes all completed jobs.
func (e *Engine) ClearCompleted(ctx context.Context) (int, error) {
	return e.current().ClearCompleted(ctx)
}

// DeadLetters returns the jobs parked in the dead-letter queue.
func (e *Engine) DeadLetters(ctx context.Context) ([]*job.Job, error) {
	return e.current().DeadLetters(ctx)
}

// RequeueDeadLetter moves a dead-lettered job back to pending.
func (e *Engine) RequeueDeadLetter(ctx context.Context, jobID id.ID) (bool, error) {
	return e.current().RequeueDeadLetter(ctx, jobID)
}

// Wait blocks until the job reaches a terminal status.
func (e *Engine) Wait(ctx context.Context, jobID id.ID, timeout time.Duration) (*job.Job, error) {
	return e.current().Wait(ctx, jobID, timeout)
}

// Start launches the active backend's dispatch loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return queue.ErrSchedulerClosed
	}
	if err := e.sched.Start(ctx); err != nil {
		return err
	}
	e.started = true
	return nil
}

// StopProcessing halts the dispatch loop without losing queued state.
func (e *Engine) StopProcessing() {
	e.mu.Lock()
	sched := e.sched
	e.started = false
	e.mu.Unlock()
	sched.StopProcessing()
}

// Close stops processing and releases the active backend.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.started = false
	sched := e.sched
	e.mu.Unlock()

	return sched.Close(ctx)
}
