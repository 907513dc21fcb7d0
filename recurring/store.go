package recurring

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor/id"
)

// Store defines the persistence contract for recurring specs.
type Store interface {
	// CreateSpec persists a new recurring spec. Returns
	// conveyor.ErrDuplicateRecurring if the name already exists.
	CreateSpec(ctx context.Context, spec *Spec) error

	// GetSpec retrieves a spec by ID.
	GetSpec(ctx context.Context, specID id.RecurringID) (*Spec, error)

	// ListSpecs returns all recurring specs.
	ListSpecs(ctx context.Context) ([]*Spec, error)

	// UpdateSpec updates a spec (Enabled, NextFireAt, LastFiredAt, etc.).
	UpdateSpec(ctx context.Context, spec *Spec) error

	// DeleteSpec removes a spec by ID.
	DeleteSpec(ctx context.Context, specID id.RecurringID) error

	// SetSpecEnabled flips the enabled flag for a spec.
	SetSpecEnabled(ctx context.Context, specID id.RecurringID, enabled bool) error

	// AcquireSpecLock attempts to acquire the per-spec lock. Returns true
	// if the lock was acquired. The lock expires after ttl.
	AcquireSpecLock(ctx context.Context, specID id.RecurringID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseSpecLock releases the per-spec lock.
	ReleaseSpecLock(ctx context.Context, specID id.RecurringID, workerID id.WorkerID) error

	// TryMarkFired records that the spec fired for the given tick.
	// Returns false if the (spec, tick) pair was already recorded,
	// meaning another scheduler (or a previous run of this one) already
	// materialized the job for this tick.
	TryMarkFired(ctx context.Context, specID id.RecurringID, tick time.Time) (bool, error)
}
