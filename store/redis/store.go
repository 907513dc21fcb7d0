// Package redis implements store.Store using Redis for high-throughput
// ephemeral workloads. Per-queue Sorted Sets order claimable jobs by
// (priority, created_at); delayed and active jobs live in time-scored
// Sorted Sets swept by the promoter and the lease reaper; entities are
// stored as JSON strings.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor/dlq"
	"github.com/conveyorhq/conveyor/job"
	"github.com/conveyorhq/conveyor/queue"
	"github.com/conveyorhq/conveyor/recurring"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ queue.Store     = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	rdb    goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis
// client lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{rdb: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.rdb }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ── entity helpers ──

func (s *Store) setEntity(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("conveyor/redis: marshal entity: %w", err)
	}
	return s.rdb.Set(ctx, key, data, 0).Err()
}

func (s *Store) getEntity(ctx context.Context, key string, v any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Store) entityExists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func isRedisNil(err error) bool {
	return errors.Is(err, goredis.Nil)
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("conveyor/redis: %s: %w", op, err)
}

// redisPipeliner is the slice of the go-redis pipeline API the index
// helpers need.
type redisPipeliner = goredis.Pipeliner

func zMember(member string, score float64) goredis.Z {
	return goredis.Z{Score: score, Member: member}
}

// rangeUpTo selects every member scored at or before t (millisecond
// scores).
func rangeUpTo(t time.Time) *goredis.ZRangeBy {
	return &goredis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(t.UnixMilli(), 10)}
}
