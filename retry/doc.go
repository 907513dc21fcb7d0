// Package retry decides what happens to a job after a handler failure:
// schedule another attempt with a backoff delay, or give up and move
// the job to the dead letter queue.
//
// The [Scheduler] consumes the failure, increments the attempt counter,
// and picks one of two outcomes:
//
//   - Attempts remaining and the error is transient: the job moves to
//     the delayed state with ScheduledAt pushed out by the job's
//     backoff strategy. The promoter later returns it to waiting.
//   - Attempts exhausted, or the error is wrapped with
//     [conveyor.Permanent]: the job moves to the dead state and an
//     entry is pushed to the dead letter queue.
//
// Backoff strategies are resolved by name through a
// [backoff.Registry], so each job can carry its own strategy.
package retry
