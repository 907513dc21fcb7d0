package queue

import "context"

// Store defines the persistence contract for queue metadata. The paused
// flag lives here so pause/resume coordinates across every process
// sharing the store: ClaimNext consults it inside the claim operation.
type Store interface {
	// CreateQueue persists a new queue. Returns
	// conveyor.ErrQueueAlreadyExists if the name is taken.
	CreateQueue(ctx context.Context, q *Queue) error

	// GetQueue retrieves a queue by name.
	GetQueue(ctx context.Context, name string) (*Queue, error)

	// ListQueues returns all queues ordered by name.
	ListQueues(ctx context.Context) ([]*Queue, error)

	// SetQueuePaused flips the paused flag. Paused queues accept
	// enqueues but yield nothing from ClaimNext.
	SetQueuePaused(ctx context.Context, name string, paused bool) error

	// DeleteQueue removes a queue record. Jobs referencing the queue are
	// not touched; destroying a queue is an explicit administrative act.
	DeleteQueue(ctx context.Context, name string) error
}
