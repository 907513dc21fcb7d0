package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
)

const dlqColumns = `
	id, job_id, queue, payload, error, attempts, max_attempts,
	priority, backoff, timeout_ns, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_dlq (
			id, job_id, queue, payload, error, attempts, max_attempts,
			priority, backoff, timeout_ns, failed_at, replayed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)`,
		entry.ID, entry.JobID, entry.Queue, entry.Payload, entry.Error,
		entry.Attempts, entry.MaxAttempts,
		entry.Priority, entry.Backoff, entry.Timeout.Nanoseconds(),
		entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries newest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM conveyor_dlq WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

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
		return nil, fmt.Errorf("conveyor/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM conveyor_dlq WHERE id = $1`, entryID)

	e, err := scanDLQEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get dlq entry: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: replay dlq entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conveyor_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("conveyor/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries, optionally filtered by queue.
func (s *Store) CountDLQ(ctx context.Context, queueName string) (int64, error) {
	query := `SELECT COUNT(*) FROM conveyor_dlq`
	args := []any{}
	if queueName != "" {
		query += ` WHERE queue = $1`
		args = append(args, queueName)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conveyor/postgres: count dlq: %w", err)
	}
	return count, nil
}

func scanDLQEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e         dlq.Entry
		timeoutNs int64
	)
	err := row.Scan(
		&e.ID, &e.JobID, &e.Queue, &e.Payload, &e.Error,
		&e.Attempts, &e.MaxAttempts,
		&e.Priority, &e.Backoff, &timeoutNs,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Timeout = time.Duration(timeoutNs)
	return &e, nil
}
