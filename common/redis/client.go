package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/anantaryaaa/health-record-dapps-sub001/common/config"

	"github.com/go-redis/redis/v8"
)

// Connect 创建客户端并 Ping；失败时关闭客户端
// nonce 预留依赖 redis，启动时连不上直接报错，不做惰性重连
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = time.Duration(cfg.DialTimeout) * time.Second
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}
	return client, nil
}
