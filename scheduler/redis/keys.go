// Package redis implements the durable scheduler backend on Redis.
// Job state lives in hashes, the ready queue is a sorted set ordered by
// priority then enqueue time, delayed retries sit in a second sorted
// set, and lifecycle events fan out over pub/sub so any process can
// wait on any job. Multi-key state transitions run as Lua scripts so a
// crash between steps cannot leave a job half-moved.
package redis

// keys derives the full key namespace from a configurable prefix so
// several queues can share one Redis database.
type keys struct {
	prefix string
}

func newKeys(prefix string) keys {
	return keys{prefix: prefix}
}

// job returns the hash key holding one job's fields.
func (k keys) job(jobID string) string { return k.prefix + "job:" + jobID }

// jobPrefix is passed to scripts that construct job keys themselves.
func (k keys) jobPrefix() string { return k.prefix + "job:" }

// ids is the set of every known job ID.
func (k keys) ids() string { return k.prefix + "ids" }

// pending is the ready queue: a sorted set scored by priority weight
// and enqueue time, claimed from the high end.
func (k keys) pending() string { return k.prefix + "pending" }

// delayed holds jobs awaiting a retry backoff, scored by the unix
// millisecond at which they become ready.
func (k keys) delayed() string { return k.prefix + "delayed" }

// processing is the zset of claimed job IDs, scored by claim time so
// stale claims from a dead process can be found and requeued.
func (k keys) processing() string { return k.prefix + "processing" }

// dead is the dead-letter list, in parking order.
func (k keys) dead() string { return k.prefix + "dead" }

// events is the pub/sub channel carrying lifecycle events.
func (k keys) events() string { return k.prefix + "events" }
