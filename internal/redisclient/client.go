package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Davronbekjonbek/planshet-back/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
}

// NewClient creates a new Redis client and verifies the connection
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

// NewWithRedis wraps an existing redis client
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func periodKey(cadence models.Cadence, day string) string {
	return fmt.Sprintf("period:current:%s:%s", cadence, day)
}

// GetCurrentPeriodDate reads a cached period date. The bool is false on a miss.
func (c *Client) GetCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day string) (*models.PeriodDate, bool, error) {
	raw, err := c.rdb.Get(ctx, periodKey(cadence, day)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var pd models.PeriodDate
	if err := json.Unmarshal(raw, &pd); err != nil {
		return nil, false, fmt.Errorf("corrupt period cache entry: %w", err)
	}
	return &pd, true, nil
}

// SetCurrentPeriodDate caches a period date for the day
func (c *Client) SetCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day string, pd *models.PeriodDate, ttl time.Duration) error {
	raw, err := json.Marshal(pd)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, periodKey(cadence, day), raw, ttl).Err()
}

// InvalidateCurrentPeriodDate drops the cached period date for the day
func (c *Client) InvalidateCurrentPeriodDate(ctx context.Context, cadence models.Cadence, day string) error {
	return c.rdb.Del(ctx, periodKey(cadence, day)).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// CheckIdempotencyKey checks if an idempotency key exists
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// AcquireLock acquires a distributed lock. The returned token must be passed
// to ReleaseLock; it is empty when the lock is held by someone else.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock releases a distributed lock if it is still owned by token
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{fmt.Sprintf("lock:%s", lockKey)}, token).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}
