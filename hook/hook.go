// Package hook defines the lifecycle hook system for conveyor.
// Hooks are notified of job lifecycle transitions (enqueued, started,
// completed, retrying, dead-lettered, etc.) and can react to them —
// stats aggregation, audit logging, user callbacks.
//
// Each lifecycle event is a separate interface so a hook opts in only to
// the events it cares about. Hooks observe transitions; they never
// mutate them, and a hook error is logged, not propagated.
package hook

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Hook is the base interface all hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle events
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker claims a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a job fails but is delayed for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) error
}

// JobDeadLettered is called when a job is moved to the dead letter
// queue, either by exhausting its attempts or by a permanent failure.
type JobDeadLettered interface {
	OnJobDeadLettered(ctx context.Context, j *job.Job, err error) error
}

// JobLeaseExpired is called when an expired lease returns a job to the
// queue (crashed or stalled worker).
type JobLeaseExpired interface {
	OnJobLeaseExpired(ctx context.Context, j *job.Job) error
}

// JobCancelled is called when a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle events
// ──────────────────────────────────────────────────

// RecurringFired is called when a recurring spec fires and materializes
// a job.
type RecurringFired interface {
	OnRecurringFired(ctx context.Context, specID id.RecurringID, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
