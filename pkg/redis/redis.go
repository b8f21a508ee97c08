package redis

import (
	"context"
	"time"

	"smallbiznis-licensing/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const (
	readyAttempts = 4
	readyBackoff  = 2 * time.Second
)

// New builds the shared client used by asynq and readiness checks. A redis
// that is still down after the start-up retries is logged, not fatal: the
// HTTP binary keeps gating tenants and /readyz reports the outage.
func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	rdb := redis.NewClient(Options(c))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zapLog := zap.L().With(zap.String("addr", c.Redis.Addr), zap.Int("db", c.Redis.DB))
			if err := waitReady(ctx, rdb, readyAttempts, readyBackoff); err != nil {
				zapLog.Error("[Redis] giving up on Redis, readiness will report it", zap.Error(err))
				return nil
			}
			zapLog.Info("[Redis] Connected to Redis")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}

func Options(c *config.Config) *redis.Options {
	return &redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	}
}

func waitReady(ctx context.Context, rdb *redis.Client, attempts int, backoff time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			return nil
		}
		zap.L().Warn("[Redis] Redis not ready, retrying", zap.Int("retry", i+1), zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
