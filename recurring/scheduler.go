package recurring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// EnqueueFunc is the callback the scheduler uses to materialize jobs.
// This breaks the import cycle: the engine provides the implementation.
type EnqueueFunc func(ctx context.Context, queue string, payload []byte, opts ...job.Option) (*job.Job, error)

// Emitter emits recurring lifecycle events.
// hook.Registry satisfies this interface via EmitRecurringFired.
type Emitter interface {
	EmitRecurringFired(ctx context.Context, specID id.RecurringID, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due specs.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-spec locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// Scheduler fires recurring specs on a tick loop. Multiple scheduler
// instances may share a store: per-spec locks and the (spec, tick) fire
// record keep materialization single-shot per tick.
type Scheduler struct {
	store    Store
	enqueue  EnqueueFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration

	// parsed caches compiled schedules keyed by expression.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	store Store,
	enqueue EnqueueFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		enqueue:      enqueue,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("recurring scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("recurring scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick evaluates all specs once and fires those that are due. Exposed
// so callers can drive the scheduler manually instead of running the
// tick loop.
func (s *Scheduler) Tick(ctx context.Context) {
	specs, err := s.store.ListSpecs(ctx)
	if err != nil {
		s.logger.Error("list recurring specs error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if spec.NextFireAt == nil {
			s.initNextFire(ctx, spec, now)
			continue
		}
		if spec.NextFireAt.After(now) {
			continue
		}
		s.fire(ctx, spec, now)
	}
}

// initNextFire computes the first NextFireAt for a spec that has none.
func (s *Scheduler) initNextFire(ctx context.Context, spec *Spec, now time.Time) {
	sched, err := s.timetable(spec)
	if err != nil {
		s.logger.Error("invalid recurring schedule",
			slog.String("spec_name", spec.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	next := sched.Next(now)
	spec.NextFireAt = &next
	spec.Touch()
	if err := s.store.UpdateSpec(ctx, spec); err != nil {
		s.logger.Error("init next fire error",
			slog.String("spec_id", spec.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// fire materializes one job for the spec's current tick. The tick key
// is the scheduled fire time, not the wall clock, so a retry after a
// crash targets the same (spec, tick) pair and is deduplicated.
func (s *Scheduler) fire(ctx context.Context, spec *Spec, now time.Time) {
	acquired, err := s.store.AcquireSpecLock(ctx, spec.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire spec lock error",
			slog.String("spec_id", spec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another scheduler got it.
	}
	defer func() {
		if relErr := s.store.ReleaseSpecLock(ctx, spec.ID, s.workerID); relErr != nil {
			s.logger.Error("release spec lock error",
				slog.String("spec_id", spec.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	tick := spec.NextFireAt.UTC()

	fired, err := s.store.TryMarkFired(ctx, spec.ID, tick)
	if err != nil {
		s.logger.Error("mark fired error",
			slog.String("spec_id", spec.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if fired {
		opts := []job.Option{}
		if spec.Priority != 0 {
			opts = append(opts, job.WithPriority(spec.Priority))
		}
		if spec.MaxAttempts > 0 {
			opts = append(opts, job.WithMaxAttempts(spec.MaxAttempts))
		}
		j, enqErr := s.enqueue(ctx, spec.Queue, spec.PayloadTemplate, opts...)
		if enqErr != nil {
			s.logger.Error("recurring enqueue error",
				slog.String("spec_name", spec.Name),
				slog.String("queue", spec.Queue),
				slog.String("error", enqErr.Error()),
			)
			return // The fire record stays; the tick counts as consumed.
		}

		if s.emitter != nil {
			s.emitter.EmitRecurringFired(ctx, spec.ID, j.ID)
		}

		s.logger.Info("recurring spec fired",
			slog.String("spec_name", spec.Name),
			slog.String("queue", spec.Queue),
			slog.String("job_id", j.ID.String()),
		)
	}

	// Advance NextFireAt past the consumed tick, even when the fire
	// record showed a duplicate: the tick is done either way.
	s.advance(ctx, spec, tick, now)
}

// advance moves NextFireAt to the next occurrence after the consumed
// tick and records LastFiredAt.
func (s *Scheduler) advance(ctx context.Context, spec *Spec, tick, now time.Time) {
	sched, err := s.timetable(spec)
	if err != nil {
		s.logger.Error("invalid recurring schedule",
			slog.String("spec_name", spec.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	next := sched.Next(tick)
	spec.NextFireAt = &next
	spec.LastFiredAt = &now
	spec.Touch()
	if err := s.store.UpdateSpec(ctx, spec); err != nil {
		s.logger.Error("advance next fire error",
			slog.String("spec_id", spec.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// timetable resolves and caches the spec's compiled schedule.
func (s *Scheduler) timetable(spec *Spec) (cronlib.Schedule, error) {
	key := spec.Schedule
	if key == "" {
		// Interval schedules are cheap to build; skip the cache.
		return spec.Timetable()
	}

	s.parsedMu.RLock()
	sched, ok := s.parsed[key]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := spec.Timetable()
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[key] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
