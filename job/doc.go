// Package job defines the job entity, state machine, typed handler
// definitions, and the job store interface.
//
// # Job Entity
//
// A [Job] represents a unit of enqueued work. It embeds [conveyor.Entity]
// for timestamps, carries an opaque payload (JSON), and progresses through
// a state machine:
//
//	waiting → active → completed
//	waiting → active → failed → delayed → waiting → ...
//	waiting → active → failed → dead
//	waiting → cancelled
//
// A job belongs to exactly one queue for its entire life. While active it
// holds a lease (LeaseExpiresAt); a lease that expires without a heartbeat
// returns the job to waiting, which is how crashed workers are detected
// and how at-least-once delivery is achieved.
//
// Fields of note:
//   - Priority: higher values are claimed first; ties break on CreatedAt
//   - Attempts / MaxAttempts: retry budget (Attempts never exceeds
//     MaxAttempts before the job goes dead)
//   - ScheduledAt: earliest time the job may be claimed (delay + backoff)
//   - Backoff: name of the retry delay strategy for this job
//   - Progress: 0–100, reported by the handler via conveyor.ReportProgress
//   - Result: handler return value, JSON-encoded, set on completion
//
// # Defining a Handler
//
// Handlers are registered per queue with [Definition]. The payload is
// JSON-serialized at enqueue time and deserialized before the handler
// runs; the handler's result is JSON-serialized onto the job record:
//
//	var SendSMS = job.NewDefinition("notifications",
//	    func(ctx context.Context, input SMSInput) (SMSReceipt, error) {
//	        return gateway.Send(ctx, input.To, input.Body)
//	    },
//	)
//
// Return conveyor.Permanent(err) from a handler to skip the retry budget
// and dead-letter the job immediately.
//
// # Registry
//
// [Registry] maps queue names to type-erased [HandlerFunc] values.
// Handlers are not persisted; they must be registered identically on
// every process start before workers begin claiming.
package job
