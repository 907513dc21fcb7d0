// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/recurring"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store       = (*Store)(nil)
	_ queue.Store     = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// All reads return copies so callers can mutate results without racing
// with the store.
type Store struct {
	mu sync.RWMutex

	jobs   map[string]*job.Job
	queues map[string]*queue.Queue // key: queue name
	specs  map[string]*recurring.Spec
	fired  map[string]struct{} // key: "specID|tick"
	dlqs   map[string]*dlq.Entry

	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:   make(map[string]*job.Job),
		queues: make(map[string]*queue.Queue),
		specs:  make(map[string]*recurring.Spec),
		fired:  make(map[string]struct{}),
		dlqs:   make(map[string]*dlq.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds until the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return conveyor.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Subsequent Pings fail.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return conveyor.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimNext atomically claims the highest-priority ready job on the
// queue: waiting state, ScheduledAt passed, queue not paused. Ordering
// is priority DESC, CreatedAt ASC. Returns nil, nil when nothing is
// claimable.
func (m *Store) ClaimNext(_ context.Context, queueName string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[queueName]; ok && q.Paused {
		return nil, nil
	}

	now := time.Now().UTC()

	var best *job.Job
	for _, j := range m.jobs {
		if j.Queue != queueName || j.State != job.StateWaiting {
			continue
		}
		if !j.ScheduledAt.IsZero() && j.ScheduledAt.After(now) {
			continue
		}
		if best == nil {
			best = j
			continue
		}
		if j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = job.StateActive
	best.WorkerID = workerID
	started := now
	best.StartedAt = &started
	until := now.Add(lease)
	best.LeaseExpiresAt = &until
	best.UpdatedAt = now

	cp := *best
	return &cp, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, conveyor.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return conveyor.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ExtendLease renews the lease of an active job owned by workerID.
func (m *Store) ExtendLease(_ context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	if j.State != job.StateActive || j.WorkerID != workerID {
		return conveyor.ErrInvalidState
	}
	until := time.Now().UTC().Add(lease)
	j.LeaseExpiresAt = &until
	return nil
}

// ReapExpiredLeases returns active jobs with expired leases to waiting.
func (m *Store) ReapExpiredLeases(_ context.Context) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var reaped []*job.Job
	for _, j := range m.jobs {
		if !j.LeaseExpired(now) {
			continue
		}
		j.State = job.StateWaiting
		j.WorkerID = id.Nil
		j.LeaseExpiresAt = nil
		j.StartedAt = nil
		j.UpdatedAt = now
		cp := *j
		reaped = append(reaped, &cp)
	}
	return reaped, nil
}

// PromoteDelayedJobs moves due delayed jobs back to waiting.
func (m *Store) PromoteDelayedJobs(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, j := range m.jobs {
		if j.State != job.StateDelayed {
			continue
		}
		if j.ScheduledAt.After(now) {
			continue
		}
		j.State = job.StateWaiting
		j.UpdatedAt = now
		count++
	}
	return count, nil
}

// SetJobProgress records handler-reported progress.
func (m *Store) SetJobProgress(_ context.Context, jobID id.JobID, pct int) error {
	if pct < 0 || pct > 100 {
		return &conveyor.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	j.Progress = pct
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// CancelJob moves a waiting or delayed job to cancelled.
func (m *Store) CancelJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return conveyor.ErrJobNotFound
	}
	switch {
	case j.State == job.StateActive:
		return conveyor.ErrJobActive
	case j.State.Terminal():
		return conveyor.ErrInvalidState
	}
	j.State = job.StateCancelled
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// CleanJobs removes jobs on the queue in the given state older than the
// cutoff.
func (m *Store) CleanJobs(_ context.Context, queueName string, state job.State, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, j := range m.jobs {
		if j.Queue != queueName || j.State != state {
			continue
		}
		if !j.UpdatedAt.Before(olderThan) {
			continue
		}
		delete(m.jobs, key)
		count++
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

// CreateQueue persists a new queue.
func (m *Store) CreateQueue(_ context.Context, q *queue.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queues[q.Name]; exists {
		return conveyor.ErrQueueAlreadyExists
	}
	cp := *q
	m.queues[q.Name] = &cp
	return nil
}

// GetQueue retrieves a queue by name.
func (m *Store) GetQueue(_ context.Context, name string) (*queue.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.queues[name]
	if !ok {
		return nil, conveyor.ErrQueueNotFound
	}
	cp := *q
	return &cp, nil
}

// ListQueues returns all queues ordered by name.
func (m *Store) ListQueues(_ context.Context) ([]*queue.Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*queue.Queue, 0, len(m.queues))
	for _, q := range m.queues {
		cp := *q
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Name < result[k].Name
	})
	return result, nil
}

// SetQueuePaused flips the paused flag.
func (m *Store) SetQueuePaused(_ context.Context, name string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return conveyor.ErrQueueNotFound
	}
	q.Paused = paused
	q.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteQueue removes a queue record.
func (m *Store) DeleteQueue(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[name]; !ok {
		return conveyor.ErrQueueNotFound
	}
	delete(m.queues, name)
	return nil
}

// ──────────────────────────────────────────────────
// Recurring Store
// ──────────────────────────────────────────────────

// CreateSpec persists a new recurring spec.
func (m *Store) CreateSpec(_ context.Context, spec *recurring.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.specs {
		if s.Name == spec.Name {
			return conveyor.ErrDuplicateRecurring
		}
	}
	cp := *spec
	m.specs[spec.ID.String()] = &cp
	return nil
}

// GetSpec retrieves a spec by ID.
func (m *Store) GetSpec(_ context.Context, specID id.RecurringID) (*recurring.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.specs[specID.String()]
	if !ok {
		return nil, conveyor.ErrRecurringNotFound
	}
	cp := *s
	return &cp, nil
}

// ListSpecs returns all recurring specs.
func (m *Store) ListSpecs(_ context.Context) ([]*recurring.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*recurring.Spec, 0, len(m.specs))
	for _, s := range m.specs {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// UpdateSpec persists changes to an existing spec.
func (m *Store) UpdateSpec(_ context.Context, spec *recurring.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := spec.ID.String()
	if _, ok := m.specs[key]; !ok {
		return conveyor.ErrRecurringNotFound
	}
	cp := *spec
	cp.UpdatedAt = time.Now().UTC()
	m.specs[key] = &cp
	return nil
}

// DeleteSpec removes a spec by ID.
func (m *Store) DeleteSpec(_ context.Context, specID id.RecurringID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := specID.String()
	if _, ok := m.specs[key]; !ok {
		return conveyor.ErrRecurringNotFound
	}
	delete(m.specs, key)
	return nil
}

// SetSpecEnabled flips the enabled flag for a spec.
func (m *Store) SetSpecEnabled(_ context.Context, specID id.RecurringID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.specs[specID.String()]
	if !ok {
		return conveyor.ErrRecurringNotFound
	}
	s.Enabled = enabled
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// AcquireSpecLock attempts to acquire the per-spec lock.
func (m *Store) AcquireSpecLock(_ context.Context, specID id.RecurringID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.specs[specID.String()]
	if !ok {
		return false, conveyor.ErrRecurringNotFound
	}

	now := time.Now().UTC()

	// If locked by someone else and the lock hasn't expired, fail.
	if !s.LockedBy.IsNil() && s.LockedUntil != nil && s.LockedUntil.After(now) {
		if s.LockedBy != workerID {
			return false, nil
		}
	}

	s.LockedBy = workerID
	until := now.Add(ttl)
	s.LockedUntil = &until
	return true, nil
}

// ReleaseSpecLock releases the per-spec lock.
func (m *Store) ReleaseSpecLock(_ context.Context, specID id.RecurringID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.specs[specID.String()]
	if !ok {
		return conveyor.ErrRecurringNotFound
	}
	if s.LockedBy != workerID {
		return nil // not holding the lock; no-op
	}
	s.LockedBy = id.Nil
	s.LockedUntil = nil
	return nil
}

// firedKey builds the idempotency key for one spec tick.
func firedKey(specID id.RecurringID, tick time.Time) string {
	return specID.String() + "|" + tick.UTC().Format(time.RFC3339Nano)
}

// TryMarkFired records the (spec, tick) pair. Returns false if already
// recorded.
func (m *Store) TryMarkFired(_ context.Context, specID id.RecurringID, tick time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := firedKey(specID, tick)
	if _, exists := m.fired[key]; exists {
		return false, nil
	}
	m.fired[key] = struct{}{}
	return true, nil
}

// ──────────────────────────────────────────────────
// DLQ Store
// ──────────────────────────────────────────────────

// PushDLQ adds a failed job entry to the dead letter queue.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// ListDLQ returns DLQ entries newest failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*dlq.Entry, 0, len(m.dlqs))
	for _, e := range m.dlqs {
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].FailedAt.After(result[k].FailedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, conveyor.ErrDLQNotFound
	}
	cp := *e
	return &cp, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return conveyor.ErrDLQNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, key)
			count++
		}
	}
	return count, nil
}

// CountDLQ returns the number of entries, optionally filtered by queue.
func (m *Store) CountDLQ(_ context.Context, queueName string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if queueName == "" {
		return int64(len(m.dlqs)), nil
	}
	var count int64
	for _, e := range m.dlqs {
		if e.Queue == queueName {
			count++
		}
	}
	return count, nil
}
