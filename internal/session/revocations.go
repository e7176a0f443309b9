package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/dust-check/internal/logging"
)

// Cache abstracts the Redis operations used for revocations to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// RedisRevocations stores revoked session IDs, retrying transient failures.
type RedisRevocations struct {
	cache          Cache
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisRevocations creates a revocation store on top of cache.
func NewRedisRevocations(cache Cache, logger *zap.Logger) *RedisRevocations {
	return &RedisRevocations{
		cache:          cache,
		logger:         logger.Named("revocations"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

func revocationKey(sessionID string) string {
	return fmt.Sprintf("session:revoked:%s", sessionID)
}

// Revoke marks the session as signed out for ttl. A zero ttl never expires.
func (r *RedisRevocations) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	return r.withRetry(ctx, sessionID, "revocations.set", func() error {
		return r.cache.Set(ctx, revocationKey(sessionID), "1", ttl)
	})
}

// IsRevoked reports whether the session has been signed out.
func (r *RedisRevocations) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	revoked := false
	err := r.withRetry(ctx, sessionID, "revocations.get", func() error {
		_, err := r.cache.Get(ctx, revocationKey(sessionID))
		if errors.Is(err, redis.Nil) {
			revoked = false
			return nil
		}
		if err != nil {
			return err
		}
		revoked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return revoked, nil
}

func (r *RedisRevocations) withRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
