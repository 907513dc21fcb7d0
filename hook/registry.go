package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Named entry types pair a hook implementation with the name captured at
// registration time. This avoids type-asserting back to Hook inside the
// emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobCompletedEntry struct {
	name string
	hook JobCompleted
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobDeadLetteredEntry struct {
	name string
	hook JobDeadLettered
}

type jobLeaseExpiredEntry struct {
	name string
	hook JobLeaseExpired
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type recurringFiredEntry struct {
	name string
	hook RecurringFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	jobEnqueued     []jobEnqueuedEntry
	jobStarted      []jobStartedEntry
	jobCompleted    []jobCompletedEntry
	jobRetrying     []jobRetryingEntry
	jobDeadLettered []jobDeadLetteredEntry
	jobLeaseExpired []jobLeaseExpiredEntry
	jobCancelled    []jobCancelledEntry
	recurringFired  []recurringFiredEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if hk, ok := h.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, hk})
	}
	if hk, ok := h.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, hk})
	}
	if hk, ok := h.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, jobCompletedEntry{name, hk})
	}
	if hk, ok := h.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, hk})
	}
	if hk, ok := h.(JobDeadLettered); ok {
		r.jobDeadLettered = append(r.jobDeadLettered, jobDeadLetteredEntry{name, hk})
	}
	if hk, ok := h.(JobLeaseExpired); ok {
		r.jobLeaseExpired = append(r.jobLeaseExpired, jobLeaseExpiredEntry{name, hk})
	}
	if hk, ok := h.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, hk})
	}
	if hk, ok := h.(RecurringFired); ok {
		r.recurringFired = append(r.recurringFired, recurringFiredEntry{name, hk})
	}
	if hk, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, hk})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all hooks that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		r.invoke("OnJobEnqueued", e.name, func() error {
			return e.hook.OnJobEnqueued(ctx, j)
		})
	}
}

// EmitJobStarted notifies all hooks that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.invoke("OnJobStarted", e.name, func() error {
			return e.hook.OnJobStarted(ctx, j)
		})
	}
}

// EmitJobCompleted notifies all hooks that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.invoke("OnJobCompleted", e.name, func() error {
			return e.hook.OnJobCompleted(ctx, j, elapsed)
		})
	}
}

// EmitJobRetrying notifies all hooks that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextAt time.Time) {
	for _, e := range r.jobRetrying {
		r.invoke("OnJobRetrying", e.name, func() error {
			return e.hook.OnJobRetrying(ctx, j, attempt, nextAt)
		})
	}
}

// EmitJobDeadLettered notifies all hooks that implement JobDeadLettered.
func (r *Registry) EmitJobDeadLettered(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDeadLettered {
		r.invoke("OnJobDeadLettered", e.name, func() error {
			return e.hook.OnJobDeadLettered(ctx, j, jobErr)
		})
	}
}

// EmitJobLeaseExpired notifies all hooks that implement JobLeaseExpired.
func (r *Registry) EmitJobLeaseExpired(ctx context.Context, j *job.Job) {
	for _, e := range r.jobLeaseExpired {
		r.invoke("OnJobLeaseExpired", e.name, func() error {
			return e.hook.OnJobLeaseExpired(ctx, j)
		})
	}
}

// EmitJobCancelled notifies all hooks that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		r.invoke("OnJobCancelled", e.name, func() error {
			return e.hook.OnJobCancelled(ctx, j)
		})
	}
}

// EmitRecurringFired notifies all hooks that implement RecurringFired.
func (r *Registry) EmitRecurringFired(ctx context.Context, specID id.RecurringID, jobID id.JobID) {
	for _, e := range r.recurringFired {
		r.invoke("OnRecurringFired", e.name, func() error {
			return e.hook.OnRecurringFired(ctx, specID, jobID)
		})
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.invoke("OnShutdown", e.name, func() error {
			return e.hook.OnShutdown(ctx)
		})
	}
}

// invoke runs a single hook callback. A hook that returns an error or
// panics is logged and never disturbs the emitter's caller or the
// remaining hooks.
func (r *Registry) invoke(event, hookName string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("hook panic",
				slog.String("event", event),
				slog.String("hook", hookName),
				slog.Any("panic", rec),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logHookError(event, hookName, err)
	}
}

func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
