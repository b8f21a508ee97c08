package redis

import (
	"context"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/config"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "cache:6379"
	cfg.Redis.DB = 3
	cfg.Redis.PoolSize = 20
	cfg.Redis.PoolTimeout = time.Second

	opts := Options(cfg)
	require.Equal(t, "cache:6379", opts.Addr)
	require.Equal(t, 3, opts.DB)
	require.Equal(t, 20, opts.PoolSize)
	require.Equal(t, time.Second, opts.PoolTimeout)
}

func TestWaitReadyGivesUp(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()

	err := waitReady(context.Background(), rdb, 2, time.Millisecond)
	require.Error(t, err)
}

func TestWaitReadyStopsOnCancel(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitReady(ctx, rdb, 5, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}
