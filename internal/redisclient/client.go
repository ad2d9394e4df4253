package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/claim_event.lua
var claimEventScript string

const (
	eventStateInFlight = "in_flight"
	eventStateDone     = "done"
)

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	claimScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithRedis(rdb), nil
}

// NewWithRedis wraps an existing go-redis client
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		claimScript:   redis.NewScript(claimEventScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock acquires a distributed lock and returns the owner token needed to release it
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.rdb.SetNX(ctx, lockName(lockKey), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", lockKey, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases a distributed lock if it is still held by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

// ClaimEvent marks an event as in flight. It returns false when the event is
// already being handled or has been handled.
func (c *Client) ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	_, err := c.claimScript.Run(ctx, c.rdb, []string{eventName(eventID)},
		eventStateInFlight, ttl.Milliseconds()).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim event script failed: %w", err)
	}
	return false, nil
}

// CompleteEvent records that an event's effect is durable
func (c *Client) CompleteEvent(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, eventName(eventID), eventStateDone, ttl).Err()
}

// ReleaseEvent drops an in-flight claim so a redelivery can be processed
func (c *Client) ReleaseEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, eventName(eventID)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the stored value, or "" when the key is absent
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func lockName(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

func eventName(id string) string {
	return fmt.Sprintf("webhook-event:%s", id)
}
