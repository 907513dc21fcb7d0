package job

import "context"

// Definition is a typed handler definition bound to a queue.
// T is the payload type and R the result type; both must be
// JSON-serializable.
type Definition[T, R any] struct {
	// Queue is the queue whose jobs this handler processes.
	Queue string

	// Handler processes one job payload and returns a result that is
	// JSON-encoded onto the job record. Returning conveyor.Permanent(err)
	// dead-letters the job without consuming the retry budget.
	Handler func(ctx context.Context, payload T) (R, error)

	// Opts supplies queue-level defaults applied to jobs enqueued
	// without explicit options.
	Opts Options
}

// NewDefinition creates a typed handler definition for a queue.
func NewDefinition[T, R any](queue string, handler func(ctx context.Context, payload T) (R, error), opts ...Option) *Definition[T, R] {
	def := &Definition[T, R]{
		Queue:   queue,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
