package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/backoff"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	mw "github.com/conveyorhq/conveyor/middleware"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/recurring"
	"github.com/conveyorhq/conveyor/retry"
	"github.com/conveyorhq/conveyor/stats"
	"github.com/conveyorhq/conveyor/store"
	"github.com/conveyorhq/conveyor/worker"
)

// Engine is the client surface of Conveyor. It owns the worker pool,
// the recurring scheduler, and every registry, and exposes enqueue,
// scheduling, and administrative operations over one store.
type Engine struct {
	store  store.Store
	cfg    conveyor.Config
	logger *slog.Logger

	registry *job.Registry
	hooks    *hook.Registry
	backoffs *backoff.Registry
	bo       backoff.Strategy

	dlqService *dlq.Service
	retries    *retry.Scheduler
	pool       *worker.Pool
	scheduler  *recurring.Scheduler
	collector  *stats.Collector

	concurrency  int
	queues       []string
	queueConfigs []queue.Config
	queueManager *queue.Manager
	mws          []mw.Middleware
	pendingHooks []hook.Hook

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu          sync.Mutex
	running     bool
	knownQueues map[string]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = logger
	}
}

// WithConfig sets the worker machinery timings. Zero-valued fields keep
// their defaults from conveyor.DefaultConfig().
func WithConfig(cfg conveyor.Config) Option {
	return func(eng *Engine) {
		eng.cfg = mergeConfig(eng.cfg, cfg)
	}
}

// WithConcurrency sets the worker pool size. Defaults to 10.
func WithConcurrency(n int) Option {
	return func(eng *Engine) {
		eng.concurrency = n
	}
}

// WithQueues sets the queues the worker pool claims from, in sweep
// order. Defaults to just "default".
func WithQueues(queues ...string) Option {
	return func(eng *Engine) {
		eng.queues = queues
	}
}

// WithMiddleware appends middleware to the handler chain, after the
// built-in recover/tracing/metrics/logging/timeout stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.pendingHooks = append(eng.pendingHooks, h)
	}
}

// WithBackoff sets the fallback retry backoff strategy used when a job
// record names no strategy. Defaults to backoff.DefaultStrategy()
// (exponential with jitter).
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithQueueConfig declares per-queue concurrency caps and rate limits.
// Queues not listed have no local limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the stats recorder. If not set, the global
// otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New builds an Engine over the given store.
func New(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, conveyor.ErrNoStore
	}

	eng := &Engine{
		store:       s,
		cfg:         conveyor.DefaultConfig(),
		logger:      slog.Default(),
		registry:    job.NewRegistry(),
		concurrency: 10,
		queues:      []string{"default"},
		knownQueues: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(eng)
	}

	eng.hooks = hook.NewRegistry(eng.logger)
	for _, h := range eng.pendingHooks {
		eng.hooks.Register(h)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	eng.backoffs = backoff.NewRegistry(eng.bo)

	eng.dlqService = dlq.NewService(s, s)
	eng.retries = retry.NewScheduler(s, eng.dlqService, eng.backoffs, eng.hooks, eng.logger)
	eng.collector = stats.NewCollector(s)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/conveyorhq/conveyor")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/conveyorhq/conveyor")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the stats recorder hook so lifecycle counters are
	// always emitted.
	var recorder *stats.Recorder
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/conveyorhq/conveyor/stats")
		recorder = stats.NewRecorderWithMeter(meter)
	} else {
		recorder = stats.NewRecorder()
	}
	eng.hooks.Register(recorder)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	allMws = append(allMws, eng.mws...)

	executor := worker.NewExecutor(eng.registry, eng.hooks, s, eng.retries, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.concurrency),
		worker.WithPoolQueues(eng.queues),
		worker.WithPollInterval(eng.cfg.PollInterval),
		worker.WithHeartbeatInterval(eng.cfg.HeartbeatInterval),
		worker.WithLeaseTimeout(eng.cfg.LeaseTimeout),
		worker.WithReapInterval(eng.cfg.ReapInterval),
		worker.WithPromoteInterval(eng.cfg.PromoteInterval),
	}

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(s, executor, eng.hooks, eng.logger, poolOpts...)

	eng.scheduler = recurring.NewScheduler(
		s,
		eng.EnqueueRaw,
		eng.hooks,
		eng.pool.WorkerID(),
		eng.logger,
		recurring.WithTickInterval(eng.cfg.RecurringTickInterval),
	)

	return eng, nil
}

// mergeConfig overlays non-zero fields of override onto base.
func mergeConfig(base, override conveyor.Config) conveyor.Config {
	if override.PollInterval > 0 {
		base.PollInterval = override.PollInterval
	}
	if override.ShutdownTimeout > 0 {
		base.ShutdownTimeout = override.ShutdownTimeout
	}
	if override.HeartbeatInterval > 0 {
		base.HeartbeatInterval = override.HeartbeatInterval
	}
	if override.LeaseTimeout > 0 {
		base.LeaseTimeout = override.LeaseTimeout
	}
	if override.ReapInterval > 0 {
		base.ReapInterval = override.ReapInterval
	}
	if override.PromoteInterval > 0 {
		base.PromoteInterval = override.PromoteInterval
	}
	if override.RecurringTickInterval > 0 {
		base.RecurringTickInterval = override.RecurringTickInterval
	}
	return base
}

// ──────────────────────────────────────────────────
// Registration and enqueue
// ──────────────────────────────────────────────────

// Register registers a typed job definition with the engine. Handlers
// must be registered before Start; a claimed job with no handler is
// dead-lettered.
func Register[T, R any](eng *Engine, def *job.Definition[T, R]) {
	job.RegisterDefinition(eng.registry, def)
}

// RegisterFunc registers a raw []byte handler for a queue.
func (eng *Engine) RegisterFunc(queueName string, h job.HandlerFunc) {
	eng.registry.RegisterFunc(queueName, h)
}

// Enqueue marshals payload to JSON and enqueues a job on the given
// queue.
func Enqueue[T any](ctx context.Context, eng *Engine, queueName string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for queue %q: %w", queueName, err)
	}
	return eng.EnqueueRaw(ctx, queueName, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. Malformed
// input is rejected synchronously with a ValidationError and nothing is
// persisted. When the definition registered for the queue carries
// default options, those apply before the per-call opts.
func (eng *Engine) EnqueueRaw(ctx context.Context, queueName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if queueName == "" {
		return nil, conveyor.NewValidationError("queue", "must not be empty")
	}

	jobOpts := eng.registry.Defaults(queueName)
	for _, opt := range opts {
		opt(&jobOpts)
	}

	if jobOpts.MaxAttempts < 1 {
		return nil, conveyor.NewValidationError("max_attempts", "must be at least 1")
	}
	if jobOpts.Delay < 0 {
		return nil, conveyor.NewValidationError("delay", "must not be negative")
	}
	if jobOpts.Timeout < 0 {
		return nil, conveyor.NewValidationError("timeout", "must not be negative")
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

	if err := eng.ensureQueue(ctx, queueName); err != nil {
		return nil, err
	}

	if err := eng.store.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.hooks.EmitJobEnqueued(ctx, j)
	return j, nil
}

// ensureQueue creates the queue record the first time a queue name is
// referenced, so administrative operations and stats work on queues
// that were never registered explicitly. A configuration supplied via
// WithQueueConfig takes precedence over the defaults.
func (eng *Engine) ensureQueue(ctx context.Context, name string) error {
	eng.mu.Lock()
	_, known := eng.knownQueues[name]
	eng.mu.Unlock()
	if known {
		return nil
	}

	cfg := queue.Config{Name: name}
	for _, qc := range eng.queueConfigs {
		if qc.Name == name {
			cfg = qc
			break
		}
	}
	if err := eng.store.CreateQueue(ctx, queue.New(cfg)); err != nil && !errors.Is(err, conveyor.ErrQueueAlreadyExists) {
		return err
	}

	eng.mu.Lock()
	eng.knownQueues[name] = struct{}{}
	eng.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Recurring schedules
// ──────────────────────────────────────────────────

// ScheduleRecurring validates and persists a recurring spec. The spec
// is enabled on creation; NextFireAt is initialized from the schedule
// when not already set. Re-scheduling a spec with an existing name is
// idempotent.
func (eng *Engine) ScheduleRecurring(ctx context.Context, spec *recurring.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	if spec.ID.IsNil() {
		spec.Entity = conveyor.NewEntity()
		spec.ID = id.NewRecurringID()
	}
	spec.Enabled = true

	if spec.NextFireAt == nil {
		tt, err := spec.Timetable()
		if err != nil {
			return err
		}
		next := tt.Next(time.Now().UTC())
		spec.NextFireAt = &next
	}

	if err := eng.store.CreateSpec(ctx, spec); err != nil {
		if errors.Is(err, conveyor.ErrDuplicateRecurring) {
			return nil
		}
		return fmt.Errorf("schedule recurring %q: %w", spec.Name, err)
	}

	eng.logger.Info("recurring spec scheduled",
		slog.String("name", spec.Name),
		slog.String("queue", spec.Queue),
		slog.Time("next_fire_at", *spec.NextFireAt),
	)
	return nil
}

// SetRecurringEnabled enables or disables a recurring spec. Disabled
// specs keep their state but never fire.
func (eng *Engine) SetRecurringEnabled(ctx context.Context, specID id.RecurringID, enabled bool) error {
	return eng.store.SetSpecEnabled(ctx, specID, enabled)
}

// DeleteRecurring removes a recurring spec. Jobs already materialized
// from it are not touched.
func (eng *Engine) DeleteRecurring(ctx context.Context, specID id.RecurringID) error {
	return eng.store.DeleteSpec(ctx, specID)
}

// ListRecurring returns all recurring specs.
func (eng *Engine) ListRecurring(ctx context.Context) ([]*recurring.Spec, error) {
	return eng.store.ListSpecs(ctx)
}

// ──────────────────────────────────────────────────
// Queue administration
// ──────────────────────────────────────────────────

// PauseQueue stops delivery from the named queue. Enqueues still
// succeed; ClaimNext yields nothing until the queue is resumed. The
// queue record is created on first use.
func (eng *Engine) PauseQueue(ctx context.Context, name string) error {
	return eng.setQueuePaused(ctx, name, true)
}

// ResumeQueue re-enables delivery from the named queue.
func (eng *Engine) ResumeQueue(ctx context.Context, name string) error {
	return eng.setQueuePaused(ctx, name, false)
}

func (eng *Engine) setQueuePaused(ctx context.Context, name string, paused bool) error {
	err := eng.store.SetQueuePaused(ctx, name, paused)
	if errors.Is(err, conveyor.ErrQueueNotFound) {
		q := queue.New(queue.Config{Name: name})
		if createErr := eng.store.CreateQueue(ctx, q); createErr != nil && !errors.Is(createErr, conveyor.ErrQueueAlreadyExists) {
			return createErr
		}
		return eng.store.SetQueuePaused(ctx, name, paused)
	}
	return err
}

// GetQueueStats returns per-state job counts for one queue.
func (eng *Engine) GetQueueStats(ctx context.Context, name string) (*stats.QueueStats, error) {
	return eng.collector.QueueStats(ctx, name)
}

// AllQueueStats returns stats for every known queue.
func (eng *Engine) AllQueueStats(ctx context.Context) ([]*stats.QueueStats, error) {
	return eng.collector.AllQueueStats(ctx)
}

// Health reports store reachability.
func (eng *Engine) Health(ctx context.Context) stats.Health {
	return eng.collector.Health(ctx)
}

// CleanQueue removes jobs on the queue in the given state whose last
// update is older than the cutoff, returning the number removed.
func (eng *Engine) CleanQueue(ctx context.Context, queueName string, state job.State, olderThan time.Time) (int64, error) {
	return eng.store.CleanJobs(ctx, queueName, state, olderThan)
}

// ──────────────────────────────────────────────────
// Job operations
// ──────────────────────────────────────────────────

// GetJob retrieves a job by ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// CancelJob cancels a waiting or delayed job. Active jobs cannot be
// cancelled synchronously: the store rejects them with ErrJobActive,
// and when the job is executing on this engine's pool its context is
// cancelled as a cooperative signal to the handler.
func (eng *Engine) CancelJob(ctx context.Context, jobID id.JobID) error {
	err := eng.store.CancelJob(ctx, jobID)
	if err == nil {
		if j, getErr := eng.store.GetJob(ctx, jobID); getErr == nil {
			eng.hooks.EmitJobCancelled(ctx, j)
		}
		return nil
	}
	if errors.Is(err, conveyor.ErrJobActive) {
		if eng.pool.CancelLocal(jobID) {
			eng.logger.Info("cancellation signalled to active job",
				slog.String("job_id", jobID.String()),
			)
		}
	}
	return err
}

// Replay re-enqueues a dead-lettered job as a fresh waiting job with a
// reset attempt budget.
func (eng *Engine) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	j, err := eng.dlqService.Replay(ctx, entryID)
	if err != nil {
		return nil, err
	}
	eng.hooks.EmitJobEnqueued(ctx, j)
	return j, nil
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start launches the worker pool and the recurring scheduler. It also
// persists queue records for the configured queues so pause state and
// concurrency metadata are visible store-wide.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.running {
		return nil
	}

	for _, cfg := range eng.queueConfigs {
		q := queue.New(cfg)
		if err := eng.store.CreateQueue(ctx, q); err != nil && !errors.Is(err, conveyor.ErrQueueAlreadyExists) {
			return fmt.Errorf("create queue %q: %w", cfg.Name, err)
		}
	}

	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start recurring scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return err
	}

	eng.running = true
	eng.logger.Info("engine started",
		slog.Int("concurrency", eng.concurrency),
		slog.Any("queues", eng.queues),
	)
	return nil
}

// Stop gracefully shuts down the engine: the recurring scheduler stops
// first so no new jobs materialize, then the pool drains within the
// shutdown timeout.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if !eng.running {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("recurring scheduler stop error", slog.String("error", err.Error()))
	}

	err := eng.pool.Stop(ctx)
	eng.hooks.EmitShutdown(ctx)
	eng.running = false
	eng.logger.Info("engine stopped")
	return err
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Store returns the underlying store.
func (eng *Engine) Store() store.Store { return eng.store }

// DLQ returns the dead letter queue service for inspection and replay.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Backoffs returns the backoff strategy registry so callers can
// register custom named strategies before Start.
func (eng *Engine) Backoffs() *backoff.Registry { return eng.backoffs }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the recurring scheduler.
func (eng *Engine) Scheduler() *recurring.Scheduler { return eng.scheduler }

// QueueManager returns the queue manager, or nil when no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
