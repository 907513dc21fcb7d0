package redis

import (
	"context"
	"time"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/id"
)

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	eID := entry.ID.String()
	if err := s.setEntity(ctx, dlqKey(eID), entry); err != nil {
		return wrapErr("push dlq", err)
	}
	score := float64(entry.FailedAt.UnixMilli())
	if err := s.rdb.ZAdd(ctx, dlqIDsKey, zMember(eID, score)).Err(); err != nil {
		return wrapErr("push dlq index", err)
	}
	return nil
}

// ListDLQ returns entries newest-failure-first. The ID index is scored
// by FailedAt, so pagination happens in Redis; the queue filter decodes
// entries client-side.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	ids, err := s.rdb.ZRevRange(ctx, dlqIDsKey, 0, -1).Result()
	if err != nil {
		return nil, wrapErr("list dlq", err)
	}

	entries := make([]*dlq.Entry, 0, len(ids))
	for _, eID := range ids {
		var e dlq.Entry
		if getErr := s.getEntity(ctx, dlqKey(eID), &e); getErr != nil {
			continue
		}
		if opts.Queue != "" && e.Queue != opts.Queue {
			continue
		}
		entries = append(entries, &e)
	}

	if opts.Offset >= len(entries) {
		return nil, nil
	}
	entries = entries[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var e dlq.Entry
	if err := s.getEntity(ctx, dlqKey(entryID.String()), &e); err != nil {
		if isRedisNil(err) {
			return nil, conveyor.ErrDLQNotFound
		}
		return nil, wrapErr("get dlq", err)
	}
	return &e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	e, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return s.setEntity(ctx, dlqKey(entryID.String()), e)
}

// PurgeDLQ removes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, dlqIDsKey, rangeUpTo(before.Add(-time.Millisecond))).Result()
	if err != nil {
		return 0, wrapErr("purge dlq range", err)
	}

	var removed int64
	for _, eID := range ids {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, dlqKey(eID))
		pipe.ZRem(ctx, dlqIDsKey, eID)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return removed, wrapErr("purge dlq", pErr)
		}
		removed++
	}
	return removed, nil
}

// CountDLQ returns the number of entries, optionally filtered by queue.
func (s *Store) CountDLQ(ctx context.Context, queueName string) (int64, error) {
	if queueName == "" {
		return s.rdb.ZCard(ctx, dlqIDsKey).Result()
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Queue: queueName})
	if err != nil {
		return 0, err
	}
	return int64(len(entries)), nil
}
