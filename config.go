package queue

import (
	"fmt"
	"time"
)

// Backend selects which scheduler implementation the engine constructs.
type Backend string

const (
	// BackendMemory is the single-process in-memory scheduler.
	BackendMemory Backend = "memory"
	// BackendRedis is the durable multi-process scheduler.
	BackendRedis Backend = "redis"
)

// RetryStrategy names the delay policy applied between retry attempts.
type RetryStrategy string

const (
	// RetryExponential doubles the delay per attempt with full jitter.
	RetryExponential RetryStrategy = "exponential"
	// RetryFixed applies the same delay for every attempt.
	RetryFixed RetryStrategy = "fixed"
)

// RedisConfig holds connection parameters for the durable backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config holds configuration for the scheduler core. It is populated by
// the host application's configuration layer; this package only
// validates and consumes it.
type Config struct {
	// Backend selects the scheduler implementation.
	Backend Backend

	// Redis holds connection parameters, used when Backend is redis.
	Redis RedisConfig

	// KeyPrefix namespaces every key the durable scheduler writes.
	KeyPrefix string

	// MaxConcurrent is the maximum number of jobs executed at once by
	// this process's dispatch loop.
	MaxConcurrent int

	// MaxAttempts is the default execution budget per job, overridable
	// per type or per enqueue.
	MaxAttempts int

	// RetryDelay is the base delay before a failed job becomes eligible
	// again.
	RetryDelay time.Duration

	// RetryStrategy selects fixed or exponential growth of RetryDelay.
	RetryStrategy RetryStrategy

	// EnableDeadLetter routes jobs that exhaust their attempts to the
	// dead-letter queue instead of leaving them terminally failed.
	EnableDeadLetter bool

	// PollInterval is the dispatch tick period.
	PollInterval time.Duration

	// ConnectTimeout bounds the backing-store ready check during
	// construction and reconfiguration.
	ConnectTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:          BackendMemory,
		Redis:            RedisConfig{Addr: "localhost:6379"},
		KeyPrefix:        "workbench:queue:",
		MaxConcurrent:    10,
		MaxAttempts:      3,
		RetryDelay:       5 * time.Second,
		RetryStrategy:    RetryExponential,
		EnableDeadLetter: true,
		PollInterval:     250 * time.Millisecond,
		ConnectTimeout:   5 * time.Second,
	}
}

// Validate reports the first problem with the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if c.Backend == BackendRedis && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis backend requires an address", ErrInvalidConfig)
	}
	switch c.RetryStrategy {
	case RetryExponential, RetryFixed, "":
	default:
		return fmt.Errorf("%w: unknown retry strategy %q", ErrInvalidConfig, c.RetryStrategy)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max concurrent must be at least 1", ErrInvalidConfig)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// RequiresRebuild reports whether switching from c to next needs the
// running scheduler to be torn down and replaced.
func (c Config) RequiresRebuild(next Config) bool {
	return c.Backend != next.Backend ||
		c.Redis != next.Redis ||
		c.KeyPrefix != next.KeyPrefix ||
		c.MaxConcurrent != next.MaxConcurrent ||
		c.MaxAttempts != next.MaxAttempts ||
		c.RetryDelay != next.RetryDelay ||
		c.RetryStrategy != next.RetryStrategy ||
		c.EnableDeadLetter != next.EnableDeadLetter ||
		c.PollInterval != next.PollInterval
}
