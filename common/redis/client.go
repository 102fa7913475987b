package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with the operations the queue and the trigger
// supervisors need, plus logging
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// Connect dials Redis from a redis:// URL
func Connect(url string, logger Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return NewClient(redis.NewClient(opts), logger), nil
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the connection
func (c *Client) Close() error {
	return c.redis.Close()
}

// Get retrieves a value by key. Missing keys return ("", false, nil).
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, true, nil
}

// Set sets a key with optional expiration (0 = no expiration)
func (c *Client) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := c.redis.Set(ctx, key, value, expiry).Err(); err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// SetNX sets a key only if it doesn't exist (for idempotency checks)
func (c *Client) SetNX(ctx context.Context, key, value string, expiry time.Duration) (bool, error) {
	wasSet, err := c.redis.SetNX(ctx, key, value, expiry).Result()
	if err != nil {
		c.logger.Error("redis SETNX failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to setnx key %s: %w", key, err)
	}
	return wasSet, nil
}

// Delete removes keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// AddToSet adds a member to a set; returns true if it was newly added
func (c *Client) AddToSet(ctx context.Context, key, member string) (bool, error) {
	added, err := c.redis.SAdd(ctx, key, member).Result()
	if err != nil {
		c.logger.Error("redis SADD failed", "key", key, "error", err)
		return false, fmt.Errorf("failed to sadd to %s: %w", key, err)
	}
	return added > 0, nil
}

// SetHash sets hash fields from a map
func (c *Client) SetHash(ctx context.Context, key string, fields map[string]interface{}) error {
	if err := c.redis.HSet(ctx, key, fields).Err(); err != nil {
		c.logger.Error("redis HSET failed", "key", key, "error", err)
		return fmt.Errorf("failed to hset %s: %w", key, err)
	}
	return nil
}

// GetAllHash retrieves all fields and values of a hash
func (c *Client) GetAllHash(ctx context.Context, key string) (map[string]string, error) {
	val, err := c.redis.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("redis HGETALL failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to hgetall %s: %w", key, err)
	}
	return val, nil
}

// PushToList pushes values onto the left of a list
func (c *Client) PushToList(ctx context.Context, key string, values ...interface{}) error {
	if err := c.redis.LPush(ctx, key, values...).Err(); err != nil {
		c.logger.Error("redis LPUSH failed", "key", key, "error", err)
		return fmt.Errorf("failed to lpush to %s: %w", key, err)
	}
	return nil
}

// MoveListEntry atomically moves one entry between lists (the queue's
// exclusive claim). Returns ("", false, nil) when the source is empty.
func (c *Client) MoveListEntry(ctx context.Context, src, dst string) (string, bool, error) {
	val, err := c.redis.LMove(ctx, src, dst, "RIGHT", "LEFT").Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.logger.Error("redis LMOVE failed", "src", src, "dst", dst, "error", err)
		return "", false, fmt.Errorf("failed to lmove %s -> %s: %w", src, dst, err)
	}
	return val, true, nil
}

// RemoveFromList removes count occurrences of value from a list
func (c *Client) RemoveFromList(ctx context.Context, key string, count int64, value string) error {
	if err := c.redis.LRem(ctx, key, count, value).Err(); err != nil {
		c.logger.Error("redis LREM failed", "key", key, "error", err)
		return fmt.Errorf("failed to lrem from %s: %w", key, err)
	}
	return nil
}

// TrimList trims a list to the given bounds
func (c *Client) TrimList(ctx context.Context, key string, start, stop int64) error {
	if err := c.redis.LTrim(ctx, key, start, stop).Err(); err != nil {
		c.logger.Error("redis LTRIM failed", "key", key, "error", err)
		return fmt.Errorf("failed to ltrim %s: %w", key, err)
	}
	return nil
}

// ListLength returns the length of a list
func (c *Client) ListLength(ctx context.Context, key string) (int64, error) {
	n, err := c.redis.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to llen %s: %w", key, err)
	}
	return n, nil
}

// AddToDelayed adds a member to a sorted set scored by readiness time
func (c *Client) AddToDelayed(ctx context.Context, key, member string, readyAt time.Time) error {
	err := c.redis.ZAdd(ctx, key, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		c.logger.Error("redis ZADD failed", "key", key, "error", err)
		return fmt.Errorf("failed to zadd to %s: %w", key, err)
	}
	return nil
}

// PopDue removes and returns members whose score is <= now
func (c *Client) PopDue(ctx context.Context, key string, now time.Time) ([]string, error) {
	max := fmt.Sprintf("%d", now.UnixMilli())
	members, err := c.redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		c.logger.Error("redis ZRANGEBYSCORE failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to zrangebyscore %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := c.redis.ZRem(ctx, key, args...).Err(); err != nil {
		return nil, fmt.Errorf("failed to zrem from %s: %w", key, err)
	}
	return members, nil
}
