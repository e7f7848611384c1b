package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"tokenserver/internal/config"
)

// Client wraps a *goredis.Client. Two independent Clients are dialed by the
// composition root against the same addr — one used for commands, one
// reserved for Subscribe — because a Redis connection in subscribe mode
// cannot multiplex ordinary commands.
type Client struct {
	*goredis.Client
}

func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{rdb}, nil
}
