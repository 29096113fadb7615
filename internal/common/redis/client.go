package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/logger"
)

// Client wraps redis.Client with the helpers the gateway's rate limiter,
// load balancer sticky sessions, and workflow engine locks build on.
type Client struct {
	*redis.Client
	logger *logger.Logger
}

func Connect(cfg config.RedisConfig, log *logger.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Connected to Redis")

	return &Client{Client: rdb, logger: log}, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// AcquireLock takes a distributed lock (SETNX with a TTL). The rate
// limiter's Redis store uses it to serialize updates to one key.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := fmt.Sprintf("lock:%s", key)

	ok, err := c.SetNX(ctx, lockKey, "locked", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}

	if ok {
		c.logger.Debugf("Lock acquired: %s", lockKey)
	}

	return ok, nil
}

func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	lockKey := fmt.Sprintf("lock:%s", key)

	err := c.Del(ctx, lockKey).Err()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	c.logger.Debugf("Lock released: %s", lockKey)
	return nil
}

// CheckIdempotency reports whether an idempotency key has been recorded;
// SetIdempotency records one with a TTL. No gateway or event bus code in
// this repository calls them.
func (c *Client) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	idempotencyKey := fmt.Sprintf("idempotency:%s", key)

	exists, err := c.Exists(ctx, idempotencyKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency: %w", err)
	}

	return exists > 0, nil
}

func (c *Client) SetIdempotency(ctx context.Context, key string, ttl time.Duration) error {
	idempotencyKey := fmt.Sprintf("idempotency:%s", key)

	err := c.Set(ctx, idempotencyKey, "used", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set idempotency: %w", err)
	}

	c.logger.Debugf("Idempotency key set: %s", idempotencyKey)
	return nil
}

// SetStickySession and GetStickySession back the load balancer's
// cookie/header based sticky routing: once a client is bound to a backend,
// later requests in the session should land on the same server.
func (c *Client) SetStickySession(ctx context.Context, sessionID, serverID string, ttl time.Duration) error {
	key := fmt.Sprintf("sticky:%s", sessionID)

	if err := c.Set(ctx, key, serverID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set sticky session: %w", err)
	}

	return nil
}

func (c *Client) GetStickySession(ctx context.Context, sessionID string) (string, error) {
	key := fmt.Sprintf("sticky:%s", sessionID)

	serverID, err := c.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sticky session: %w", err)
	}

	return serverID, nil
}

func (c *Client) ClearStickySession(ctx context.Context, sessionID string) error {
	key := fmt.Sprintf("sticky:%s", sessionID)
	return c.Del(ctx, key).Err()
}

// IncrCounterWithTTL increments a counter and resets its expiry to ttl on
// every call, both in one transaction pipeline. The gateway's rate limiter
// stores do not use it; they keep JSON state through Get/Set.
func (c *Client) IncrCounterWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incr.Val(), nil
}

func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}

	return val, nil
}
