package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from url, applies the pool and
// timeout settings of cfg and checks the connection.
func NewRedisClient(url string, cfg *config.Redis) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg != nil {
		if cfg.PoolSize > 0 {
			opt.PoolSize = cfg.PoolSize
		}
		if cfg.DialTimeout > 0 {
			opt.DialTimeout = cfg.DialTimeout
		}
		if cfg.ReadTimeout > 0 {
			opt.ReadTimeout = cfg.ReadTimeout
		}
		if cfg.WriteTimeout > 0 {
			opt.WriteTimeout = cfg.WriteTimeout
		}
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
