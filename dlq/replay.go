package dlq

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// Replay re-enqueues a DLQ entry as a new waiting job and marks the
// entry as replayed. The new job gets a fresh ID, a zero attempt count,
// and runs immediately. The original priority, attempt budget, backoff
// strategy, and timeout are preserved.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      conveyor.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       entry.Queue,
		Payload:     entry.Payload,
		State:       job.StateWaiting,
		Priority:    entry.Priority,
		MaxAttempts: entry.MaxAttempts,
		Backoff:     entry.Backoff,
		Timeout:     entry.Timeout,
		ScheduledAt: now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Surface the error but return
		// the job so the caller can track it.
		return j, err
	}

	return j, nil
}
