// Package backoff provides retry delay strategies for failed jobs.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a job becomes claimable again.
type Strategy interface {
	// Delay returns how long to hold the job after failed attempt n
	// (1-indexed: attempt 1 is the first execution).
	Delay(attempt int) time.Duration
}

// Fixed applies the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// NewFixed creates a flat-delay strategy.
func NewFixed(interval time.Duration) *Fixed {
	return &Fixed{Interval: interval}
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Interval
}

// Exponential doubles the delay per attempt, optionally with full
// jitter. Full jitter draws uniformly from [0, grown delay] to avoid a
// thundering herd when many jobs fail at once.
type Exponential struct {
	// Base is the delay after the first failed attempt.
	Base time.Duration
	// Cap bounds the grown delay. Zero means uncapped.
	Cap time.Duration
	// Jitter enables full jitter over the grown delay.
	Jitter bool
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(base, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap}
}

// NewExponentialWithJitter creates an exponential strategy with full jitter.
func NewExponentialWithJitter(base, cap time.Duration) *Exponential {
	return &Exponential{Base: base, Cap: cap, Jitter: true}
}

// Delay returns min(Base * 2^(attempt-1), Cap), jittered if enabled.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Cap > 0 && d > float64(e.Cap) {
		d = float64(e.Cap)
	}

	if e.Jitter {
		d = rand.Float64() * d //nolint:gosec // jitter intentionally uses non-crypto rand
	}

	return time.Duration(d)
}

// DefaultStrategy is the scheduler default: exponential with full
// jitter, 1s base, 1m cap.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}
