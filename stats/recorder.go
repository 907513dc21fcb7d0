package stats

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/conveyorhq/conveyor/hook"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook            = (*Recorder)(nil)
	_ hook.JobEnqueued     = (*Recorder)(nil)
	_ hook.JobCompleted    = (*Recorder)(nil)
	_ hook.JobRetrying     = (*Recorder)(nil)
	_ hook.JobDeadLettered = (*Recorder)(nil)
	_ hook.JobLeaseExpired = (*Recorder)(nil)
	_ hook.JobCancelled    = (*Recorder)(nil)
	_ hook.RecurringFired  = (*Recorder)(nil)
)

// Recorder counts lifecycle events through OpenTelemetry counters,
// labelled by queue. Register it as an engine hook to track enqueue
// rates, completion counts, retries, dead-letters, lease expiries, and
// recurring fires without polling the store.
type Recorder struct {
	enqueued     metric.Int64Counter
	completed    metric.Int64Counter
	retried      metric.Int64Counter
	deadLettered metric.Int64Counter
	leaseExpired metric.Int64Counter
	cancelled    metric.Int64Counter
	recurring    metric.Int64Counter
}

// NewRecorder creates a Recorder using the global OTel MeterProvider.
// With no provider configured the counters are noops.
func NewRecorder() *Recorder {
	return NewRecorderWithMeter(otel.Meter("github.com/conveyorhq/conveyor/stats"))
}

// NewRecorderWithMeter creates a Recorder with the provided meter.
func NewRecorderWithMeter(meter metric.Meter) *Recorder {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}
	return &Recorder{
		enqueued:     counter("conveyor.job.enqueued", "Jobs enqueued"),
		completed:    counter("conveyor.job.completed", "Jobs completed successfully"),
		retried:      counter("conveyor.job.retried", "Job retry attempts scheduled"),
		deadLettered: counter("conveyor.job.dead_lettered", "Jobs moved to the dead letter queue"),
		leaseExpired: counter("conveyor.job.lease_expired", "Jobs reclaimed after lease expiry"),
		cancelled:    counter("conveyor.job.cancelled", "Jobs cancelled"),
		recurring:    counter("conveyor.recurring.fired", "Recurring specs fired"),
	}
}

// Name implements hook.Hook.
func (r *Recorder) Name() string { return "stats-recorder" }

func queueAttr(j *job.Job) metric.AddOption {
	return metric.WithAttributes(attribute.String("queue", j.Queue))
}

// OnJobEnqueued implements hook.JobEnqueued.
func (r *Recorder) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	r.enqueued.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (r *Recorder) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	r.completed.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobRetrying implements hook.JobRetrying.
func (r *Recorder) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	r.retried.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobDeadLettered implements hook.JobDeadLettered.
func (r *Recorder) OnJobDeadLettered(ctx context.Context, j *job.Job, _ error) error {
	r.deadLettered.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobLeaseExpired implements hook.JobLeaseExpired.
func (r *Recorder) OnJobLeaseExpired(ctx context.Context, j *job.Job) error {
	r.leaseExpired.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnJobCancelled implements hook.JobCancelled.
func (r *Recorder) OnJobCancelled(ctx context.Context, j *job.Job) error {
	r.cancelled.Add(ctx, 1, queueAttr(j))
	return nil
}

// OnRecurringFired implements hook.RecurringFired.
func (r *Recorder) OnRecurringFired(ctx context.Context, specID id.RecurringID, _ id.JobID) error {
	r.recurring.Add(ctx, 1, metric.WithAttributes(attribute.String("spec_id", specID.String())))
	return nil
}
