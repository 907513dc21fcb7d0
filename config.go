package conveyor

import "time"

// Config holds runtime configuration for the engine's worker machinery.
type Config struct {
	// PollInterval is how often an idle worker slot polls for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before active job contexts are cancelled.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often leases of active jobs are renewed.
	HeartbeatInterval time.Duration

	// LeaseTimeout is the visibility timeout granted on claim. A job that
	// is not completed or heartbeated within this window is returned to
	// the queue for re-delivery.
	LeaseTimeout time.Duration

	// ReapInterval is how often expired leases are swept.
	ReapInterval time.Duration

	// PromoteInterval is how often delayed jobs due for execution are
	// promoted back to waiting.
	PromoteInterval time.Duration

	// RecurringTickInterval is how often the recurring scheduler checks
	// for due specs.
	RecurringTickInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:          1 * time.Second,
		ShutdownTimeout:       30 * time.Second,
		HeartbeatInterval:     10 * time.Second,
		LeaseTimeout:          30 * time.Second,
		ReapInterval:          15 * time.Second,
		PromoteInterval:       1 * time.Second,
		RecurringTickInterval: 1 * time.Second,
	}
}
