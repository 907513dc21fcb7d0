package redis

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/recurring"
)

// firedMarkerTTL bounds how long (spec, tick) fire markers are kept.
// A marker only needs to outlive scheduler restarts and clock skew
// around its tick, not the life of the spec.
const firedMarkerTTL = 24 * time.Hour

// CreateSpec persists a new recurring spec.
func (s *Store) CreateSpec(ctx context.Context, spec *recurring.Spec) error {
	sID := spec.ID.String()

	existing, err := s.rdb.HGet(ctx, specNamesKey, spec.Name).Result()
	if err != nil && !isRedisNil(err) {
		return wrapErr("create spec check name", err)
	}
	if existing != "" {
		return conveyor.ErrDuplicateRecurring
	}

	if err := s.setEntity(ctx, specKey(sID), spec); err != nil {
		return wrapErr("create spec", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, specIDsKey, sID)
	pipe.HSet(ctx, specNamesKey, spec.Name, sID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("create spec indexes", err)
	}
	return nil
}

// GetSpec retrieves a spec by ID.
func (s *Store) GetSpec(ctx context.Context, specID id.RecurringID) (*recurring.Spec, error) {
	var spec recurring.Spec
	if err := s.getEntity(ctx, specKey(specID.String()), &spec); err != nil {
		if isRedisNil(err) {
			return nil, conveyor.ErrRecurringNotFound
		}
		return nil, wrapErr("get spec", err)
	}
	return &spec, nil
}

// ListSpecs returns all recurring specs.
func (s *Store) ListSpecs(ctx context.Context) ([]*recurring.Spec, error) {
	ids, err := s.rdb.SMembers(ctx, specIDsKey).Result()
	if err != nil {
		return nil, wrapErr("list specs", err)
	}

	specs := make([]*recurring.Spec, 0, len(ids))
	for _, sID := range ids {
		var spec recurring.Spec
		if getErr := s.getEntity(ctx, specKey(sID), &spec); getErr != nil {
			continue
		}
		specs = append(specs, &spec)
	}
	return specs, nil
}

// UpdateSpec updates a spec.
func (s *Store) UpdateSpec(ctx context.Context, spec *recurring.Spec) error {
	key := specKey(spec.ID.String())
	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return wrapErr("update spec exists", err)
	}
	if !exists {
		return conveyor.ErrRecurringNotFound
	}

	spec.Touch()
	return s.setEntity(ctx, key, spec)
}

// DeleteSpec removes a spec by ID.
func (s *Store) DeleteSpec(ctx context.Context, specID id.RecurringID) error {
	sID := specID.String()
	spec, err := s.GetSpec(ctx, specID)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, specKey(sID))
	pipe.Del(ctx, specLockKey(sID))
	pipe.SRem(ctx, specIDsKey, sID)
	pipe.HDel(ctx, specNamesKey, spec.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("delete spec", err)
	}
	return nil
}

// SetSpecEnabled flips the enabled flag for a spec.
func (s *Store) SetSpecEnabled(ctx context.Context, specID id.RecurringID, enabled bool) error {
	spec, err := s.GetSpec(ctx, specID)
	if err != nil {
		return err
	}
	spec.Enabled = enabled
	spec.Touch()
	return s.setEntity(ctx, specKey(specID.String()), spec)
}

// AcquireSpecLock takes the per-spec lock with SET NX and a TTL, so a
// crashed holder never wedges the spec.
func (s *Store) AcquireSpecLock(ctx context.Context, specID id.RecurringID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, specLockKey(specID.String()), workerID.String(), ttl).Result()
	if err != nil {
		return false, wrapErr("acquire spec lock", err)
	}
	return ok, nil
}

// ReleaseSpecLock releases the per-spec lock if held by workerID.
func (s *Store) ReleaseSpecLock(ctx context.Context, specID id.RecurringID, workerID id.WorkerID) error {
	key := specLockKey(specID.String())
	holder, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil // lock expired, no-op
		}
		return wrapErr("release spec lock", err)
	}
	if holder != workerID.String() {
		return nil // not our lock
	}
	return s.rdb.Del(ctx, key).Err()
}

// TryMarkFired records the (spec, tick) fire marker with SET NX. A
// false return means this tick already materialized a job.
func (s *Store) TryMarkFired(ctx context.Context, specID id.RecurringID, tick time.Time) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, specFiredKey(specID.String(), tick), "1", firedMarkerTTL).Result()
	if err != nil {
		return false, wrapErr("try mark fired", err)
	}
	return ok, nil
}
