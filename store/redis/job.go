package redis

import (
	"context"
	"sort"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

// readyScore computes a sorted-set score from priority and creation
// time. Lower score = claimed first. Priority is negated so higher
// priority sorts first; the fractional time component keeps FIFO order
// within a priority.
func readyScore(priority int, createdAt time.Time) float64 {
	return float64(-priority) + float64(createdAt.UnixMilli())/1e15
}

// EnqueueJob stores the job as a JSON entity and indexes it in the
// ready (or delayed) sorted set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return wrapErr("enqueue check exists", err)
	}
	if exists {
		return conveyor.ErrJobAlreadyExists
	}

	if err := s.setEntity(ctx, key, j); err != nil {
		return wrapErr("enqueue job", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, jobIDsKey, jID)
	s.indexJob(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("enqueue indexes", err)
	}
	return nil
}

// ClaimNext pops the best ready job off the queue's sorted set and
// stamps it active. The pop is the claim: once removed from the ready
// set no other worker can reach the job.
func (s *Store) ClaimNext(ctx context.Context, queueName string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	paused, err := s.rdb.Exists(ctx, pausedKey(queueName)).Result()
	if err != nil {
		return nil, wrapErr("claim paused check", err)
	}
	if paused > 0 {
		return nil, nil
	}

	members, err := s.rdb.ZPopMin(ctx, readyKey(queueName), 1).Result()
	if err != nil {
		return nil, wrapErr("claim zpopmin", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	jID, ok := members[0].Member.(string)
	if !ok {
		return nil, nil
	}

	j, err := s.getJob(ctx, jID)
	if err != nil {
		if isRedisNil(err) {
			// Entity gone (cleaned); drop the dangling index entry.
			return nil, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	expires := now.Add(lease)
	j.State = job.StateActive
	j.WorkerID = workerID
	j.LeaseExpiresAt = &expires
	j.StartedAt = &now
	j.UpdatedAt = now

	if err := s.setEntity(ctx, jobKey(jID), j); err != nil {
		return nil, wrapErr("claim stamp", err)
	}
	if err := s.rdb.ZAdd(ctx, activeKey, zMember(jID, float64(expires.UnixMilli()))).Err(); err != nil {
		return nil, wrapErr("claim index", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.getJob(ctx, jobID.String())
	if err != nil {
		if isRedisNil(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

// UpdateJob persists changes to an existing job and reconciles the
// ready/delayed/active indexes with the job's state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return wrapErr("update job exists", err)
	}
	if !exists {
		return conveyor.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()
	if err := s.setEntity(ctx, key, j); err != nil {
		return wrapErr("update job", err)
	}

	pipe := s.rdb.TxPipeline()
	s.deindexJob(ctx, pipe, j)
	s.indexJob(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("update indexes", err)
	}
	return nil
}

// DeleteJob removes a job and every index entry referencing it.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()

	j, err := s.getJob(ctx, jID)
	if err != nil {
		if isRedisNil(err) {
			return conveyor.ErrJobNotFound
		}
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(jID))
	pipe.SRem(ctx, jobIDsKey, jID)
	s.deindexJob(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("delete job", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if j.State != state {
			return false
		}
		return opts.Queue == "" || j.Queue == opts.Queue
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})

	if opts.Offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if opts.State != "" && j.State != opts.State {
			return false
		}
		return opts.Queue == "" || j.Queue == opts.Queue
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// ExtendLease renews the lease of an active job owned by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	jID := jobID.String()
	j, err := s.getJob(ctx, jID)
	if err != nil {
		if isRedisNil(err) {
			return conveyor.ErrJobNotFound
		}
		return err
	}

	if j.State != job.StateActive || j.WorkerID != workerID {
		return conveyor.ErrInvalidState
	}

	now := time.Now().UTC()
	expires := now.Add(lease)
	j.LeaseExpiresAt = &expires
	j.UpdatedAt = now
	if err := s.setEntity(ctx, jobKey(jID), j); err != nil {
		return wrapErr("extend lease", err)
	}
	return s.rdb.ZAdd(ctx, activeKey, zMember(jID, float64(expires.UnixMilli()))).Err()
}

// ReapExpiredLeases returns expired active jobs to waiting. The active
// sorted set is scored by lease expiry, so one range query finds every
// candidate.
func (s *Store) ReapExpiredLeases(ctx context.Context) ([]*job.Job, error) {
	now := time.Now().UTC()
	ids, err := s.rdb.ZRangeByScore(ctx, activeKey, rangeUpTo(now)).Result()
	if err != nil {
		return nil, wrapErr("reap range", err)
	}

	var reaped []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJob(ctx, jID)
		if getErr != nil {
			s.rdb.ZRem(ctx, activeKey, jID)
			continue
		}
		if !j.LeaseExpired(now) {
			continue
		}

		j.State = job.StateWaiting
		j.WorkerID = id.Nil
		j.LeaseExpiresAt = nil
		j.StartedAt = nil
		j.UpdatedAt = now
		if setErr := s.setEntity(ctx, jobKey(jID), j); setErr != nil {
			return reaped, wrapErr("reap requeue", setErr)
		}

		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, activeKey, jID)
		pipe.ZAdd(ctx, readyKey(j.Queue), zMember(jID, readyScore(j.Priority, j.CreatedAt)))
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return reaped, wrapErr("reap reindex", pErr)
		}
		reaped = append(reaped, j)
	}
	return reaped, nil
}

// PromoteDelayedJobs moves due delayed jobs back to waiting.
func (s *Store) PromoteDelayedJobs(ctx context.Context, now time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, delayedKey, rangeUpTo(now)).Result()
	if err != nil {
		return 0, wrapErr("promote range", err)
	}

	var promoted int64
	for _, jID := range ids {
		j, getErr := s.getJob(ctx, jID)
		if getErr != nil {
			s.rdb.ZRem(ctx, delayedKey, jID)
			continue
		}
		if j.State != job.StateDelayed {
			s.rdb.ZRem(ctx, delayedKey, jID)
			continue
		}

		j.State = job.StateWaiting
		j.UpdatedAt = now
		if setErr := s.setEntity(ctx, jobKey(jID), j); setErr != nil {
			return promoted, wrapErr("promote job", setErr)
		}

		pipe := s.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey, jID)
		pipe.ZAdd(ctx, readyKey(j.Queue), zMember(jID, readyScore(j.Priority, j.CreatedAt)))
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return promoted, wrapErr("promote reindex", pErr)
		}
		promoted++
	}
	return promoted, nil
}

// SetJobProgress records handler-reported progress.
func (s *Store) SetJobProgress(ctx context.Context, jobID id.JobID, pct int) error {
	if pct < 0 || pct > 100 {
		return conveyor.NewValidationError("progress", "must be between 0 and 100")
	}

	jID := jobID.String()
	j, err := s.getJob(ctx, jID)
	if err != nil {
		if isRedisNil(err) {
			return conveyor.ErrJobNotFound
		}
		return err
	}

	j.Progress = pct
	j.UpdatedAt = time.Now().UTC()
	return s.setEntity(ctx, jobKey(jID), j)
}

// CancelJob moves a waiting or delayed job to cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	j, err := s.getJob(ctx, jID)
	if err != nil {
		if isRedisNil(err) {
			return conveyor.ErrJobNotFound
		}
		return err
	}

	switch {
	case j.State == job.StateActive:
		return conveyor.ErrJobActive
	case j.State.Terminal():
		return conveyor.ErrInvalidState
	}

	now := time.Now().UTC()
	j.State = job.StateCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	if err := s.setEntity(ctx, jobKey(jID), j); err != nil {
		return wrapErr("cancel job", err)
	}

	pipe := s.rdb.TxPipeline()
	s.deindexJob(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("cancel deindex", err)
	}
	return nil
}

// CleanJobs removes jobs on the queue in the given state whose last
// update is older than the cutoff.
func (s *Store) CleanJobs(ctx context.Context, queueName string, state job.State, olderThan time.Time) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return j.Queue == queueName && j.State == state && j.UpdatedAt.Before(olderThan)
	})
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, j := range jobs {
		jID := j.ID.String()
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, jobKey(jID))
		pipe.SRem(ctx, jobIDsKey, jID)
		s.deindexJob(ctx, pipe, j)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return removed, wrapErr("clean jobs", pErr)
		}
		removed++
	}
	return removed, nil
}

// ── helpers ──

func (s *Store) getJob(ctx context.Context, jID string) (*job.Job, error) {
	var j job.Job
	if err := s.getEntity(ctx, jobKey(jID), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// scanJobs walks the job ID set and returns entities passing the filter.
func (s *Store) scanJobs(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.rdb.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, wrapErr("scan smembers", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJob(ctx, jID)
		if getErr != nil {
			continue // entity gone between SMEMBERS and GET
		}
		if keep(j) {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// indexJob adds the job to the sorted set matching its state. Terminal
// jobs are not indexed; they remain reachable through the ID set.
func (s *Store) indexJob(ctx context.Context, pipe redisPipeliner, j *job.Job) {
	jID := j.ID.String()
	switch j.State {
	case job.StateWaiting:
		pipe.ZAdd(ctx, readyKey(j.Queue), zMember(jID, readyScore(j.Priority, j.CreatedAt)))
	case job.StateDelayed:
		pipe.ZAdd(ctx, delayedKey, zMember(jID, float64(j.ScheduledAt.UnixMilli())))
	case job.StateActive:
		if j.LeaseExpiresAt != nil {
			pipe.ZAdd(ctx, activeKey, zMember(jID, float64(j.LeaseExpiresAt.UnixMilli())))
		}
	}
}

// deindexJob removes the job from every claim index.
func (s *Store) deindexJob(ctx context.Context, pipe redisPipeliner, j *job.Job) {
	jID := j.ID.String()
	pipe.ZRem(ctx, readyKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey, jID)
	pipe.ZRem(ctx, activeKey, jID)
}
