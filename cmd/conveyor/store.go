package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor/store"
	"github.com/conveyorhq/conveyor/store/memory"
	"github.com/conveyorhq/conveyor/store/postgres"
	"github.com/conveyorhq/conveyor/store/redis"
)

// openStore connects the configured backend. Postgres is migrated on
// open so the CLI works against a fresh database.
func openStore(ctx context.Context, cfg config) (store.Store, error) {
	switch cfg.Store {
	case "postgres":
		s, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redis.New(client), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q (want postgres, redis, or memory)", cfg.Store)
	}
}
