package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventCache remembers processed webhook event ids. It only short-circuits
// replays; the audit ledger remains the durable record.
type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// RedisEventCache stores event ids as keys with a TTL
type RedisEventCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisEventCache creates a cache over an existing client
func NewRedisEventCache(client *redis.Client, ttl time.Duration) *RedisEventCache {
	return &RedisEventCache{
		client: client,
		ttl:    ttl,
		prefix: "webhook:event:",
	}
}

// NewRedisClient builds a client from connection settings
func NewRedisClient(addr, password string, db, poolSize int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
}

// PingRedis checks the connection
func PingRedis(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Seen reports whether the event id was remembered
func (c *RedisEventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	_, err := c.client.Get(ctx, c.prefix+eventID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read event cache: %w", err)
	}
	return true, nil
}

// Remember stores the event id until the TTL elapses
func (c *RedisEventCache) Remember(ctx context.Context, eventID string) error {
	if err := c.client.SetNX(ctx, c.prefix+eventID, time.Now().Unix(), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write event cache: %w", err)
	}
	return nil
}
