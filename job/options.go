package job

import "time"

// Options configures per-job behavior such as priority, delay, and retries.
type Options struct {
	// Priority determines claim ordering. Higher values are claimed first;
	// equal priorities break ties on CreatedAt (FIFO).
	Priority int

	// Delay defers the first execution. Zero means immediately claimable.
	Delay time.Duration

	// MaxAttempts is the total execution budget before the job is
	// dead-lettered. Must be at least 1.
	MaxAttempts int

	// Backoff names the retry delay strategy for this job. Empty selects
	// the engine default (exponential with jitter).
	Backoff string

	// Timeout is the maximum duration one attempt may run before its
	// context is cancelled. Zero means unlimited.
	Timeout time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:    0,
		MaxAttempts: 3,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring an enqueue.
type Option func(*Options)

// WithPriority sets the job priority. Higher values are claimed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithDelay defers the job's first execution by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) {
		o.Delay = d
	}
}

// WithMaxAttempts sets the total execution budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithBackoff selects a named retry delay strategy for the job.
func WithBackoff(name string) Option {
	return func(o *Options) {
		o.Backoff = name
	}
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}
