package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// Backend is the store picked by STORE_DRIVER plus the connections behind it.
// Redis is non-nil whenever a Redis address is configured, even for the
// postgres and memory drivers, so the schedule locker can use it.
type Backend struct {
	Store Store
	Redis *redis.Client
	Pool  *pgxpool.Pool
}

func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	b := &Backend{}

	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		b.Redis = rdb
	}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 10)
		cancel()
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		b.Pool = pool
		pg := NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Store = pg
	case config.StoreRedis:
		b.Store = NewRedis(b.Redis, "clinic", 5)
	default:
		b.Store = NewMemory()
	}

	return b, nil
}

func (b *Backend) Close() {
	if b.Pool != nil {
		b.Pool.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}
