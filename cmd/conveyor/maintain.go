package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/recurring"
	"github.com/conveyorhq/conveyor/store"
)

// maintainCmd runs the shared maintenance loops without executing any
// jobs: delayed promotion, lease reaping, and recurring firing. It is
// meant for deployments where application processes only enqueue and a
// separate fleet of workers executes.
func maintainCmd(cfg config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run promotion, lease reaping, and recurring firing loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			hooks := hook.NewRegistry(logger)
			scheduler := recurring.NewScheduler(
				s,
				enqueueFunc(s, hooks),
				hooks,
				id.NewWorkerID(),
				logger,
				recurring.WithTickInterval(cfg.RecurringInterval),
			)
			if err := scheduler.Start(ctx); err != nil {
				return err
			}

			promoteTicker := time.NewTicker(cfg.PromoteInterval)
			defer promoteTicker.Stop()
			reapTicker := time.NewTicker(cfg.ReapInterval)
			defer reapTicker.Stop()

			logger.Info("maintenance started",
				slog.String("store", cfg.Store),
				slog.Duration("promote_interval", cfg.PromoteInterval),
				slog.Duration("reap_interval", cfg.ReapInterval),
			)

			for {
				select {
				case <-ctx.Done():
					logger.Info("shutting down")
					return scheduler.Stop(context.Background())
				case <-promoteTicker.C:
					n, err := s.PromoteDelayedJobs(ctx, time.Now().UTC())
					if err != nil {
						logger.Error("promote delayed jobs", slog.Any("error", err))
					} else if n > 0 {
						logger.Info("promoted delayed jobs", slog.Int64("count", n))
					}
				case <-reapTicker.C:
					reaped, err := s.ReapExpiredLeases(ctx)
					if err != nil {
						logger.Error("reap expired leases", slog.Any("error", err))
					} else if len(reaped) > 0 {
						logger.Warn("reaped expired leases", slog.Int("count", len(reaped)))
					}
				}
			}
		},
	}
}

// enqueueFunc materializes recurring jobs straight through the store,
// mirroring the engine's enqueue defaults.
func enqueueFunc(s store.Store, hooks *hook.Registry) recurring.EnqueueFunc {
	return func(ctx context.Context, queueName string, payload []byte, opts ...job.Option) (*job.Job, error) {
		jobOpts := job.DefaultOptions()
		for _, opt := range opts {
			opt(&jobOpts)
		}

		now := time.Now().UTC()
		j := &job.Job{
			Entity:      conveyor.NewEntity(),
			ID:          id.NewJobID(),
			Queue:       queueName,
			Payload:     payload,
			State:       job.StateWaiting,
			Priority:    jobOpts.Priority,
			MaxAttempts: jobOpts.MaxAttempts,
			Backoff:     jobOpts.Backoff,
			Timeout:     jobOpts.Timeout,
			ScheduledAt: now,
		}
		if jobOpts.Delay > 0 {
			j.State = job.StateDelayed
			j.ScheduledAt = now.Add(jobOpts.Delay)
		}

		if err := s.EnqueueJob(ctx, j); err != nil {
			return nil, err
		}
		hooks.EmitJobEnqueued(ctx, j)
		return j, nil
	}
}
