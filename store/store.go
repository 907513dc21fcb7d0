// Package store defines the aggregate persistence interface. Each
// subsystem (job, queue, dlq, recurring) defines its own store
// interface. The composite Store composes them all. Backends: Postgres,
// Redis, and Memory.
package store

import (
	"context"

	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/recurring"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them.
type Store interface {
	job.Store
	queue.Store
	dlq.Store
	recurring.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks store connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
