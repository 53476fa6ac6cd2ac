package database

import (
	"context"
	"fmt"
	"time"

	"entitlement-workers/internal/common/config"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = time.Hour

// RedisClient backs the entitlement lookup cache. Every read has Postgres
// behind it, so the client fails fast instead of retrying: a slow Redis
// must cost an activation milliseconds, not seconds.
type RedisClient struct {
	Client   *redis.Client
	CacheTTL time.Duration
}

func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}

	ttl := time.Duration(cfg.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		MaxRetries:   -1,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	return &RedisClient{Client: rdb, CacheTTL: ttl}, nil
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}
