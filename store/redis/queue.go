package redis

import (
	"context"
	"sort"

	"github.com/conveyorhq/conveyor"
	"github.com/conveyorhq/conveyor/queue"
)

// CreateQueue persists a new queue entity.
func (s *Store) CreateQueue(ctx context.Context, q *queue.Queue) error {
	key := queueKey(q.Name)
	exists, err := s.entityExists(ctx, key)
	if err != nil {
		return wrapErr("create queue exists", err)
	}
	if exists {
		return conveyor.ErrQueueAlreadyExists
	}

	if err := s.setEntity(ctx, key, q); err != nil {
		return wrapErr("create queue", err)
	}
	if err := s.rdb.SAdd(ctx, queueNamesKey, q.Name).Err(); err != nil {
		return wrapErr("create queue index", err)
	}
	if q.Paused {
		return s.rdb.Set(ctx, pausedKey(q.Name), "1", 0).Err()
	}
	return nil
}

// GetQueue retrieves a queue by name.
func (s *Store) GetQueue(ctx context.Context, name string) (*queue.Queue, error) {
	var q queue.Queue
	if err := s.getEntity(ctx, queueKey(name), &q); err != nil {
		if isRedisNil(err) {
			return nil, conveyor.ErrQueueNotFound
		}
		return nil, wrapErr("get queue", err)
	}
	return &q, nil
}

// ListQueues returns all queues ordered by name.
func (s *Store) ListQueues(ctx context.Context) ([]*queue.Queue, error) {
	names, err := s.rdb.SMembers(ctx, queueNamesKey).Result()
	if err != nil {
		return nil, wrapErr("list queues", err)
	}
	sort.Strings(names)

	queues := make([]*queue.Queue, 0, len(names))
	for _, name := range names {
		q, getErr := s.GetQueue(ctx, name)
		if getErr != nil {
			continue
		}
		queues = append(queues, q)
	}
	return queues, nil
}

// SetQueuePaused flips the paused flag. The flag is mirrored to a
// standalone key so ClaimNext checks it without decoding the entity.
func (s *Store) SetQueuePaused(ctx context.Context, name string, paused bool) error {
	q, err := s.GetQueue(ctx, name)
	if err != nil {
		return err
	}

	q.Paused = paused
	q.Touch()
	if err := s.setEntity(ctx, queueKey(name), q); err != nil {
		return wrapErr("set queue paused", err)
	}

	if paused {
		return s.rdb.Set(ctx, pausedKey(name), "1", 0).Err()
	}
	return s.rdb.Del(ctx, pausedKey(name)).Err()
}

// DeleteQueue removes a queue record. Jobs referencing the queue are
// not touched.
func (s *Store) DeleteQueue(ctx context.Context, name string) error {
	exists, err := s.entityExists(ctx, queueKey(name))
	if err != nil {
		return wrapErr("delete queue exists", err)
	}
	if !exists {
		return conveyor.ErrQueueNotFound
	}

	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, queueKey(name))
	pipe.Del(ctx, pausedKey(name))
	pipe.SRem(ctx, queueNamesKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("delete queue", err)
	}
	return nil
}
