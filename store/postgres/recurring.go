package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/id"
	"github.com/conveyorhq/conveyor/recurring"
)

const specColumns = `
	id, name, schedule, interval_ns, queue, payload_template,
	priority, max_attempts, last_fired_at, next_fire_at,
	locked_by, locked_until, enabled, created_at, updated_at`

// CreateSpec persists a new recurring spec.
func (s *Store) CreateSpec(ctx context.Context, spec *recurring.Spec) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_recurring (
			id, name, schedule, interval_ns, queue, payload_template,
			priority, max_attempts, last_fired_at, next_fire_at,
			locked_by, locked_until, enabled, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`,
		spec.ID, spec.Name, spec.Schedule, spec.Interval.Nanoseconds(),
		spec.Queue, spec.PayloadTemplate,
		spec.Priority, spec.MaxAttempts, spec.LastFiredAt, spec.NextFireAt,
		spec.LockedBy, spec.LockedUntil, spec.Enabled,
		spec.CreatedAt, spec.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrDuplicateRecurring
		}
		return fmt.Errorf("conveyor/postgres: create spec: %w", err)
	}
	return nil
}

// GetSpec retrieves a spec by ID.
func (s *Store) GetSpec(ctx context.Context, specID id.RecurringID) (*recurring.Spec, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+specColumns+` FROM conveyor_recurring WHERE id = $1`, specID)

	spec, err := scanSpec(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conveyor.ErrRecurringNotFound
		}
		return nil, fmt.Errorf("conveyor/postgres: get spec: %w", err)
	}
	return spec, nil
}

// ListSpecs returns all recurring specs ordered by name.
func (s *Store) ListSpecs(ctx context.Context) ([]*recurring.Spec, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+specColumns+` FROM conveyor_recurring ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("conveyor/postgres: list specs: %w", err)
	}
	defer rows.Close()

	var specs []*recurring.Spec
	for rows.Next() {
		spec, scanErr := scanSpec(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conveyor/postgres: scan spec row: %w", scanErr)
		}
		specs = append(specs, spec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/postgres: iterate spec rows: %w", err)
	}
	return specs, nil
}

// UpdateSpec persists changes to an existing spec.
func (s *Store) UpdateSpec(ctx context.Context, spec *recurring.Spec) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_recurring SET
			name = $2, schedule = $3, interval_ns = $4, queue = $5,
			payload_template = $6, priority = $7, max_attempts = $8,
			last_fired_at = $9, next_fire_at = $10,
			locked_by = $11, locked_until = $12, enabled = $13,
			updated_at = NOW()
		WHERE id = $1`,
		spec.ID, spec.Name, spec.Schedule, spec.Interval.Nanoseconds(), spec.Queue,
		spec.PayloadTemplate, spec.Priority, spec.MaxAttempts,
		spec.LastFiredAt, spec.NextFireAt,
		spec.LockedBy, spec.LockedUntil, spec.Enabled,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: update spec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrRecurringNotFound
	}
	return nil
}

// DeleteSpec removes a spec and its fired-tick markers.
func (s *Store) DeleteSpec(ctx context.Context, specID id.RecurringID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conveyor_recurring WHERE id = $1`, specID)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: delete spec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrRecurringNotFound
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM conveyor_recurring_fired WHERE spec_id = $1`, specID,
	); err != nil {
		return fmt.Errorf("conveyor/postgres: delete spec markers: %w", err)
	}
	return nil
}

// SetSpecEnabled flips the enabled flag for a spec.
func (s *Store) SetSpecEnabled(ctx context.Context, specID id.RecurringID, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conveyor_recurring SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		specID, enabled,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: set spec enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conveyor.ErrRecurringNotFound
	}
	return nil
}

// AcquireSpecLock attempts to acquire the per-spec lock. The lock is a
// pair of columns on the spec row; an expired lock is claimable by
// anyone, a live one only by its holder.
func (s *Store) AcquireSpecLock(ctx context.Context, specID id.RecurringID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conveyor_recurring SET
			locked_by = $2,
			locked_until = NOW() + make_interval(secs => $3),
			updated_at = NOW()
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_until IS NULL
			OR locked_until <= NOW() OR locked_by = $2)`,
		specID, workerID, ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("conveyor/postgres: acquire spec lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conveyor_recurring WHERE id = $1)`, specID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("conveyor/postgres: acquire spec lock: %w", err)
	}
	if !exists {
		return false, conveyor.ErrRecurringNotFound
	}
	return false, nil
}

// ReleaseSpecLock releases the per-spec lock. Releasing a lock held by
// a different worker is a no-op.
func (s *Store) ReleaseSpecLock(ctx context.Context, specID id.RecurringID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conveyor_recurring SET
			locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		specID, workerID,
	)
	if err != nil {
		return fmt.Errorf("conveyor/postgres: release spec lock: %w", err)
	}
	return nil
}

// TryMarkFired records the (spec, tick) pair. The primary key on
// conveyor_recurring_fired turns dedup into a conflict-free insert.
func (s *Store) TryMarkFired(ctx context.Context, specID id.RecurringID, tick time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conveyor_recurring_fired (spec_id, tick)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		specID, tick,
	)
	if err != nil {
		return false, fmt.Errorf("conveyor/postgres: mark fired: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanSpec(row pgx.Row) (*recurring.Spec, error) {
	var (
		spec       recurring.Spec
		intervalNs int64
	)
	err := row.Scan(
		&spec.ID, &spec.Name, &spec.Schedule, &intervalNs,
		&spec.Queue, &spec.PayloadTemplate,
		&spec.Priority, &spec.MaxAttempts, &spec.LastFiredAt, &spec.NextFireAt,
		&spec.LockedBy, &spec.LockedUntil, &spec.Enabled,
		&spec.CreatedAt, &spec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	spec.Interval = time.Duration(intervalNs)
	return &spec, nil
}
