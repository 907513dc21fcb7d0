// Package recurring provides recurring job scheduling: cron expressions
// and fixed intervals that materialize jobs into queues on a tick loop.
//
// # Spec
//
// A [Spec] describes a recurring schedule:
//   - Schedule: standard 5-field cron expression (e.g., "0 9 * * 1-5")
//     or a descriptor like "@every 30s"
//   - Interval: a fixed duration, as an alternative to Schedule
//   - Queue: target queue for materialized jobs
//   - PayloadTemplate: static JSON payload passed to every fired job
//   - Enabled: whether the spec fires
//   - LockedBy / LockedUntil: per-spec lock fields (managed internally)
//
// # Firing semantics
//
// The [Scheduler] evaluates due specs on every tick. For each enabled
// spec whose NextFireAt has passed it acquires a per-spec lock, records
// the (spec, fire time) pair with [Store.TryMarkFired], enqueues the
// materialized job, and advances NextFireAt. The fire-time record makes
// materialization idempotent: a crash between enqueue and advance, or
// two schedulers racing on the same spec, cannot produce a duplicate
// job for the same tick.
//
// # Registering a spec
//
// Use the engine to add a recurring spec at startup:
//
//	eng.ScheduleRecurring(ctx, &recurring.Spec{
//	    Name:            "daily-report",
//	    Queue:           "reports",
//	    Schedule:        "0 9 * * *",
//	    PayloadTemplate: []byte(`{"format":"pdf"}`),
//	    Enabled:         true,
//	})
package recurring
