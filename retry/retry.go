package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Scheduler routes failed jobs to a delayed retry or the dead letter
// queue.
type Scheduler struct {
	store    job.Store
	dlq      *dlq.Service
	backoffs *backoff.Registry
	hooks    *hook.Registry
	logger   *slog.Logger
}

// NewScheduler creates a retry scheduler. The backoff registry resolves
// each job's named strategy; the DLQ service may be nil, in which case
// dead jobs are recorded in the job store only.
func NewScheduler(store job.Store, dlqSvc *dlq.Service, backoffs *backoff.Registry, hooks *hook.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		dlq:      dlqSvc,
		backoffs: backoffs,
		hooks:    hooks,
		logger:   logger,
	}
}

// HandleFailure consumes one attempt and decides the job's next state.
// The job is first recorded as failed with the attempt count and error
// message, then routed: transient errors with budget remaining delay
// the job for another attempt; permanent errors and exhausted budgets
// move it to the dead state and the DLQ. Recording before routing
// means the consumed attempt and its error survive even when the
// routing update is lost.
func (s *Scheduler) HandleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	now := time.Now().UTC()
	j.Attempts++
	j.LastError = handlerErr.Error()
	j.WorkerID = id.Nil
	j.LeaseExpiresAt = nil
	j.State = job.StateFailed
	j.Touch()

	if err := s.store.UpdateJob(ctx, j); err != nil {
		s.logger.Error("failed to record job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if conveyor.IsPermanent(handlerErr) {
		s.logger.Warn("job failed permanently",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("error", handlerErr.Error()),
		)
		return s.moveToDead(ctx, j, handlerErr)
	}

	if j.Attempts < j.MaxAttempts {
		return s.scheduleRetry(ctx, j, now)
	}

	return s.moveToDead(ctx, j, handlerErr)
}

// scheduleRetry sets the job to StateDelayed with a backoff delay
// derived from the attempt count just consumed.
func (s *Scheduler) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	strategy := s.backoffs.Resolve(j.Backoff)
	delay := strategy.Delay(j.Attempts)
	nextAt := now.Add(delay)

	j.State = job.StateDelayed
	j.ScheduledAt = nextAt

	if err := s.store.UpdateJob(ctx, j); err != nil {
		s.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if s.hooks != nil {
		s.hooks.EmitJobRetrying(ctx, j, j.Attempts, nextAt)
	}

	s.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return nil
}

// moveToDead marks the job dead, pushes a DLQ entry, and emits the
// dead-letter event.
func (s *Scheduler) moveToDead(ctx context.Context, j *job.Job, handlerErr error) error {
	now := time.Now().UTC()
	j.State = job.StateDead
	j.CompletedAt = &now

	if err := s.store.UpdateJob(ctx, j); err != nil {
		s.logger.Error("failed to mark job dead",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if s.dlq != nil {
		if dlqErr := s.dlq.Push(ctx, j, handlerErr); dlqErr != nil {
			s.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	if s.hooks != nil {
		s.hooks.EmitJobDeadLettered(ctx, j, handlerErr)
	}

	s.logger.Warn("job moved to dead letter queue",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return nil
}
