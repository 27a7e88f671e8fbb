// Package queue is the asynchronous work-orchestration core of the
// workbench backend. Slow or bursty units of work (PII scans, sentiment
// analysis, file ingestion) are submitted as jobs; the active scheduler
// persists them, claims them by priority, executes the registered
// handler, and tracks retries, dead-lettering, and completion.
//
// Two scheduler backends implement one contract: an in-memory scheduler
// for a single process, and a Redis-backed durable scheduler whose queue
// ordering, job bodies, and history survive restarts and are shared by
// every process pointed at the same store. The engine package selects
// and wires one of the two from Config and supports hot-swapping the
// backend at runtime.
//
// # Quick start
//
//	eng, err := engine.New(queue.DefaultConfig())
//	if err != nil { ... }
//	job.RegisterDefinition(eng.Registry(), job.NewDefinition(
//	    "pii_scan",
//	    func(ctx context.Context, in ScanRequest) (ScanReport, error) { ... },
//	))
//	jobID, err := eng.Enqueue(ctx, "pii_scan", payload, job.WithPriority(job.PriorityHigh))
//	result, err := eng.Wait(ctx, jobID, 30*time.Second)
//
// Delivery is at-least-once: a process crash between claim and commit
// re-runs the job, so handlers are expected to be idempotent.
//
// All entity IDs are TypeIDs: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package queue
