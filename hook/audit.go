package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the "action" attribute of the audit record.
const (
	ActionJobEnqueued     = "job.enqueued"
	ActionJobStarted      = "job.started"
	ActionJobCompleted    = "job.completed"
	ActionJobRetrying     = "job.retrying"
	ActionJobDeadLettered = "job.dead_lettered"
	ActionJobLeaseExpired = "job.lease_expired"
	ActionJobCancelled    = "job.cancelled"
	ActionRecurringFired  = "recurring.fired"
)

// Compile-time interface checks.
var (
	_ Hook            = (*Audit)(nil)
	_ JobEnqueued     = (*Audit)(nil)
	_ JobStarted      = (*Audit)(nil)
	_ JobCompleted    = (*Audit)(nil)
	_ JobRetrying     = (*Audit)(nil)
	_ JobDeadLettered = (*Audit)(nil)
	_ JobLeaseExpired = (*Audit)(nil)
	_ JobCancelled    = (*Audit)(nil)
	_ RecurringFired  = (*Audit)(nil)
)

// Audit is a hook that writes one structured log record per lifecycle
// transition. It gives a complete, greppable account of what the engine
// did to every job without touching handler code.
type Audit struct {
	logger *slog.Logger
}

// NewAudit creates an audit hook writing to the given logger.
func NewAudit(logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audit{logger: logger}
}

func (a *Audit) Name() string { return "audit" }

func (a *Audit) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	a.logger.InfoContext(ctx, "audit",
		slog.String("action", ActionJobEnqueued),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("priority", j.Priority),
		slog.Time("scheduled_at", j.ScheduledAt),
	)
	return nil
}

func (a *Audit) OnJobStarted(ctx context.Context, j *job.Job) error {
	a.logger.InfoContext(ctx, "audit",
		slog.String("action", ActionJobStarted),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.String("worker_id", j.WorkerID.String()),
		slog.Int("attempt", j.Attempts+1),
	)
	return nil
}

func (a *Audit) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	a.logger.InfoContext(ctx, "audit",
		slog.String("action", ActionJobCompleted),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (a *Audit) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) error {
	a.logger.WarnContext(ctx, "audit",
		slog.String("action", ActionJobRetrying),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempt", attempt),
		slog.Time("next_at", nextAt),
		slog.String("error", j.LastError),
	)
	return nil
}

func (a *Audit) OnJobDeadLettered(ctx context.Context, j *job.Job, err error) error {
	a.logger.ErrorContext(ctx, "audit",
		slog.String("action", ActionJobDeadLettered),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.Attempts),
		slog.Any("error", err),
	)
	return nil
}

func (a *Audit) OnJobLeaseExpired(ctx context.Context, j *job.Job) error {
	a.logger.WarnContext(ctx, "audit",
		slog.String("action", ActionJobLeaseExpired),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
	)
	return nil
}

func (a *Audit) OnJobCancelled(ctx context.Context, j *job.Job) error {
	a.logger.InfoContext(ctx, "audit",
		slog.String("action", ActionJobCancelled),
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
	)
	return nil
}

func (a *Audit) OnRecurringFired(ctx context.Context, specID id.RecurringID, jobID id.JobID) error {
	a.logger.InfoContext(ctx, "audit",
		slog.String("action", ActionRecurringFired),
		slog.String("spec_id", specID.String()),
		slog.String("job_id", jobID.String()),
	)
	return nil
}
