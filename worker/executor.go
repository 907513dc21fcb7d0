// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent claim loops, heartbeats, lease reaping, and
// delayed-job promotion.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/retry"
)

// Executor runs a single claimed job through middleware and the
// registered handler, stores the result on success, and delegates
// failures to the retry scheduler.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	retries  *retry.Scheduler
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	retries *retry.Scheduler,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		retries:  retries,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs a claimed job through the middleware chain and handler.
// On success: stores the result, marks completed, emits JobCompleted.
// On failure: hands the job to the retry scheduler, which delays it or
// dead-letters it.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Queue)
	if !ok {
		// A claimed job with no handler can never succeed; dead-letter
		// it instead of cycling through lease expiries.
		err := conveyor.Permanent(fmt.Errorf("%w: queue %q", conveyor.ErrNoHandler, j.Queue))
		return e.retries.HandleFailure(ctx, j, err)
	}

	// Let the handler report progress through the context.
	ctx = conveyor.WithProgressReporter(ctx, func(ctx context.Context, pct int) error {
		return e.store.SetJobProgress(ctx, j.ID, pct)
	})

	start := time.Now()

	var result []byte
	terminal := func(ctx context.Context) error {
		var err error
		result, err = handler(ctx, j.Payload)
		return err
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.retries.HandleFailure(ctx, j, err)
	}

	return e.handleSuccess(ctx, j, result, elapsed)
}

// handleSuccess stores the result, marks the job completed, and emits
// the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, elapsed time.Duration) error {
	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.Progress = 100
	j.CompletedAt = &now
	j.LeaseExpiresAt = nil
	j.WorkerID = id.Nil
	j.Touch()

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.hooks != nil {
		e.hooks.EmitJobCompleted(ctx, j, elapsed)
	}
	return nil
}
