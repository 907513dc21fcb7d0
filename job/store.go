package job

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. It is the single
// shared mutable resource workers coordinate through: ClaimNext combines
// ordering and locking in one atomic operation, so no additional
// distributed locks are needed.
type Store interface {
	// EnqueueJob persists a new job in waiting (or delayed) state.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimNext atomically claims the highest-priority ready job on the
	// given queue: it selects by priority DESC, CreatedAt ASC among
	// waiting jobs whose ScheduledAt has passed, marks the job active,
	// and stamps WorkerID and LeaseExpiresAt in the same operation.
	// Returns nil, nil when the queue is empty or paused.
	ClaimNext(ctx context.Context, queue string, workerID id.WorkerID, lease time.Duration) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// ExtendLease renews the lease of an active job (heartbeat), proving
	// the owning worker is still alive. Fails if the job is no longer
	// active or is owned by a different worker.
	ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error

	// ReapExpiredLeases returns active jobs whose lease has expired to
	// waiting state, clearing worker assignment, and reports which jobs
	// were reclaimed. This is the at-least-once recovery path.
	ReapExpiredLeases(ctx context.Context) ([]*Job, error)

	// PromoteDelayedJobs moves delayed jobs whose ScheduledAt has passed
	// back to waiting, returning the number promoted.
	PromoteDelayedJobs(ctx context.Context, now time.Time) (int64, error)

	// SetJobProgress records handler-reported progress (0–100).
	SetJobProgress(ctx context.Context, jobID id.JobID, pct int) error

	// CancelJob moves a waiting or delayed job to cancelled. Active jobs
	// are rejected with conveyor.ErrJobActive; terminal jobs with
	// conveyor.ErrInvalidState.
	CancelJob(ctx context.Context, jobID id.JobID) error

	// CleanJobs removes jobs on the queue in the given state whose
	// UpdatedAt is older than the cutoff, returning the number removed.
	CleanJobs(ctx context.Context, queue string, state State, olderThan time.Time) (int64, error)
}
