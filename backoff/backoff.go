// Package backoff provides pluggable retry delay strategies for job
// execution. All strategies are stateless and safe for concurrent use.
// Jobs carry their strategy by name; a [Registry] resolves names to
// strategies so records survive process restarts.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Well-known strategy names understood by the default registry.
const (
	NameConstant    = "constant"
	NameLinear      = "linear"
	NameExponential = "exponential"
	NameJitter      = "exponential-jitter"
)

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (additive jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter adds random jitter to an exponential base.
// Delay = min(Initial * 2^(attempt-1), Max) + random value in [0, Initial).
// The jitter spreads out retries so simultaneous failures do not retry in
// lockstep, while the exponential base keeps successive delays
// non-decreasing.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns the exponential base plus random jitter in [0, Initial).
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	jitter := rand.Float64() * float64(e.Initial) //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(base + jitter)
}

// ──────────────────────────────────────────────────
// Default and registry
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// ExponentialWithJitter with 1s initial and 1m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 1*time.Minute)
}

// Registry resolves strategy names persisted on job records to Strategy
// implementations. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	fallback   Strategy
}

// NewRegistry creates a Registry pre-populated with the well-known
// strategies and the given fallback for unknown or empty names.
func NewRegistry(fallback Strategy) *Registry {
	if fallback == nil {
		fallback = DefaultStrategy()
	}
	return &Registry{
		strategies: map[string]Strategy{
			NameConstant:    NewConstant(5 * time.Second),
			NameLinear:      NewLinear(1*time.Second, 1*time.Minute),
			NameExponential: NewExponential(1*time.Second, 1*time.Minute),
			NameJitter:      NewExponentialWithJitter(1*time.Second, 1*time.Minute),
		},
		fallback: fallback,
	}
}

// Register adds or replaces a named strategy.
func (r *Registry) Register(name string, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Resolve returns the strategy for the given name, or the fallback when
// the name is empty or unknown.
func (r *Registry) Resolve(name string) Strategy {
	if name == "" {
		return r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[name]; ok {
		return s
	}
	return r.fallback
}
