package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/kv"
	"github.com/xraph/grove/kv/drivers/redisdriver"

	"github.com/graniteshield/outbox/store"
	"github.com/graniteshield/outbox/store/memory"
	"github.com/graniteshield/outbox/store/mongo"
	"github.com/graniteshield/outbox/store/postgres"
	redisstore "github.com/graniteshield/outbox/store/redis"
	"github.com/graniteshield/outbox/store/sqlite"
)

// openStore connects the configured backend.
func openStore(ctx context.Context, e env) (store.Store, error) {
	switch e.StoreDriver {
	case "memory":
		return memory.New(), nil

	case "postgres":
		drv := pgdriver.New()
		if err := drv.Open(ctx, e.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.New(db), nil

	case "sqlite":
		drv := sqlitedriver.New()
		if err := drv.Open(ctx, e.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlite.New(db), nil

	case "mongo":
		drv := mongodriver.New()
		if err := drv.Open(ctx, e.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return mongo.New(db), nil

	case "redis":
		client, err := redisClient(e.DatabaseURL)
		if err != nil {
			return nil, err
		}
		kvs, err := kv.Open(redisdriver.New(client))
		if err != nil {
			return nil, fmt.Errorf("open redis kv: %w", err)
		}
		return redisstore.New(kvs), nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", e.StoreDriver)
	}
}

func redisClient(url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opt), nil
}
