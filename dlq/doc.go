// Package dlq provides the dead letter queue for jobs that have
// permanently failed: either the retry budget was exhausted or the
// handler returned a permanent error. It supports inspection, replay,
// and purging.
//
// When a job fails terminally the retry scheduler calls [Service.Push]
// to move it into the DLQ. The original payload, final error message,
// and attempt counts are preserved for debugging.
//
// # Entry
//
// An [Entry] captures:
//   - JobID / Queue: original job identity
//   - Payload: the raw JSON payload at time of failure
//   - Error: the final error message
//   - Attempts / MaxAttempts: the exhausted attempt budget
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, jobStore)
//
//	// Push is called automatically on terminal failure.
//	svc.Push(ctx, failedJob, err)
//
//	// Replay re-enqueues the original payload as a fresh job.
//	svc.Replay(ctx, entryID)
//
//	// Access the underlying store for list/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
package dlq
