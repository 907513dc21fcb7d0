package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/job"
)

const jobColumns = `
	id, queue, payload, state, priority, attempts, max_attempts,
	backoff, progress, last_error, result, worker_id,
	scheduled_at, lease_expires_at, started_at, completed_at,
	timeout_ns, created_at, updated_at`

// EnqueueJob persists a new job in waiting (or delayed) state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_jobs (
			id, queue, payload, state, priority, attempts, max_attempts,
			backoff, progress, last_error, result, worker_id,
			scheduled_at, lease_expires_at, started_at, completed_at,
			timeout_ns, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19
		)`,
		j.ID, j.Queue, j.Payload, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts,
		j.Backoff, j.Progress, j.LastError, j.Result, j.WorkerID,
		j.ScheduledAt, j.LeaseExpiresAt, j.StartedAt, j.CompletedAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the highest-priority ready job on the
// given queue. SKIP LOCKED keeps concurrent claimers from blocking on
// each other; the NOT EXISTS subquery makes paused queues yield nothing
// without a separate round trip.
func (s *Store) ClaimNext(ctx context.Context, queueName string, workerID id.WorkerID, lease time.Duration) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE conveyor_jobs SET
				state = 'active',
				worker_id = $2,
				lease_expires_at = NOW() + make_interval(secs => $3),
				started_at = NOW(),
				updated_at = NOW()
			WHERE id = (
				SELECT j.id FROM conveyor_jobs j
				WHERE j.state = 'waiting'
				  AND j.queue = $1
				  AND j.scheduled_at <= NOW()
				  AND NOT EXISTS (
					SELECT 1 FROM conveyor_queues q
					WHERE q.name = j.queue AND q.paused
				  )
				ORDER BY j.priority DESC, j.created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+jobColumns+`
		)
		SELECT `+jobColumns+` FROM claimed`,
		queueName, workerID, lease.Seconds(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conveyor/postgres: claim next: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM conveyor_jobs WHERE id = $1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			queue = $2, payload = $3, state = $4, priority = $5,
			attempts = $6, max_attempts = $7, backoff = $8,
			progress = $9, last_error = $10, result = $11,
			worker_id = $12, scheduled_at = $13, lease_expires_at = $14,
			started_at = $15, completed_at = $16, timeout_ns = $17,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID, j.Queue, j.Payload, string(j.State), j.Priority,
		j.Attempts, j.MaxAttempts, j.Backoff,
		j.Progress, j.LastError, j.Result,
		j.WorkerID, j.ScheduledAt, j.LeaseExpiresAt,
		j.StartedAt, j.CompletedAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conveyor_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count jobs: %w", err)
	}
	return count, nil
}

// ExtendLease renews the lease of an active job owned by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, lease time.Duration) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			lease_expires_at = NOW() + make_interval(secs => $3),
			updated_at = NOW()
		WHERE id = $1 AND state = 'active' AND worker_id = $2`,
		jobID, workerID, lease.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM conveyor_jobs WHERE id = $1)`, jobID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("conveyor/postgres: extend lease: %w", err)
		}
		if !exists {
			return conveyor.ErrJobNotFound
		}
		return conveyor.ErrInvalidState
	}
	return nil
}

// ReapExpiredLeases returns active jobs whose lease has expired to
// waiting state, clearing worker assignment.
func (s *Store) ReapExpiredLeases(ctx context.Context) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH reaped AS (
			UPDATE conveyor_jobs SET
				state = 'waiting',
				worker_id = NULL,
				lease_expires_at = NULL,
				started_at = NULL,
				updated_at = NOW()
			WHERE state = 'active' AND lease_expires_at < NOW()
			RETURNING `+jobColumns+`
		)
		SELECT `+jobColumns+` FROM reaped`)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: reap expired leases: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// PromoteDelayedJobs moves delayed jobs whose ScheduledAt has passed
// back to waiting.
func (s *Store) PromoteDelayedJobs(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET state = 'waiting', updated_at = NOW()
		WHERE state = 'delayed' AND scheduled_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: promote delayed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetJobProgress records handler-reported progress.
func (s *Store) SetJobProgress(ctx context.Context, jobID id.JobID, pct int) error {
	if pct < 0 || pct > 100 {
		return &conveyor.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_jobs SET progress = $2, updated_at = NOW() WHERE id = $1`,
		jobID, pct,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: set job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// CancelJob moves a waiting, delayed, or failed job to cancelled.
func (s *Store) CancelJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_jobs SET
			state = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state IN ('waiting', 'delayed', 'failed')`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: cancel job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing matched: classify by the job's current state.
	var state string
	err = s.pool.QueryRow(ctx,
		`SELECT state FROM conveyor_jobs WHERE id = $1`, jobID,
	).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return conveyor.ErrJobNotFound
		}
		return fmt.Errorf("conveyor/postgres: cancel job: %w", err)
	}
	if job.State(state) == job.StateActive {
		return conveyor.ErrJobActive
	}
	return conveyor.ErrInvalidState
}

// CleanJobs removes jobs on the queue in the given state older than the
// cutoff.
func (s *Store) CleanJobs(ctx context.Context, queueName string, state job.State, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conveyor_jobs
		WHERE queue = $1 AND state = $2 AND updated_at < $3`,
		queueName, string(state), olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: clean jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		stateStr  string
		timeoutNs int64
	)
	err := row.Scan(
		&j.ID, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.Backoff, &j.Progress, &j.LastError, &j.Result, &j.WorkerID,
		&j.ScheduledAt, &j.LeaseExpiresAt, &j.StartedAt, &j.CompletedAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
