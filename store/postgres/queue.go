package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/queue"
)

// CreateQueue persists a new queue record.
func (s *Store) CreateQueue(ctx context.Context, q *queue.Queue) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_queues (id, name, concurrency, paused, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		q.ID, q.Name, q.Concurrency, q.Paused, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrQueueAlreadyExists
		}
		return fmt.Errorf("conveyor/postgres: create queue: %w", err)
	}
	return nil
}

// GetQueue retrieves a queue by name.
func (s *Store) GetQueue(ctx context.Context, name string) (*queue.Queue, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, concurrency, paused, created_at, updated_at
		FROM conveyor_queues WHERE name = $1`,
		name,
	)

	q, err := scanQueue(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrQueueNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get queue: %w", err)
	}
	return q, nil
}

// ListQueues returns all queues ordered by name.
func (s *Store) ListQueues(ctx context.Context) ([]*queue.Queue, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, concurrency, paused, created_at, updated_at
		FROM conveyor_queues ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list queues: %w", err)
	}
	defer rows.Close()

	var queues []*queue.Queue
	for rows.Next() {
		q, scanErr := scanQueue(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan queue row: %w", scanErr)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate queue rows: %w", err)
	}
	return queues, nil
}

// SetQueuePaused flips the paused flag.
func (s *Store) SetQueuePaused(ctx context.Context, name string, paused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_queues SET paused = $2, updated_at = NOW() WHERE name = $1`,
		name, paused,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: set queue paused: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrQueueNotFound
	}
	return nil
}

// DeleteQueue removes a queue record.
func (s *Store) DeleteQueue(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_queues WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrQueueNotFound
	}
	return nil
}

func scanQueue(row pgx.Row) (*queue.Queue, error) {
	var q queue.Queue
	err := row.Scan(&q.ID, &q.Name, &q.Concurrency, &q.Paused, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}
