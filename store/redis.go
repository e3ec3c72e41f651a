package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/freshen/retrier"
)

// DefaultQueryTimeout bounds every Redis round trip.
const DefaultQueryTimeout = 5 * time.Second

// Redis is an Adapter backed by a Redis server. The caller owns the client.
type Redis struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	logger  *zap.Logger
}

var _ Adapter = (*Redis)(nil)

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix namespaces every key as "<prefix>:<key>".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithQueryTimeout overrides DefaultQueryTimeout.
func WithQueryTimeout(d time.Duration) RedisOption {
	return func(r *Redis) { r.timeout = d }
}

// WithCircuitBreaker guards Redis calls with a breaker built from settings.
func WithCircuitBreaker(settings gobreaker.Settings) RedisOption {
	return func(r *Redis) { r.breaker = gobreaker.NewCircuitBreaker(settings) }
}

// WithRetrier retries transient Redis failures.
func WithRetrier(rt *retrier.Retrier) RedisOption {
	return func(r *Redis) { r.retrier = rt }
}

// WithLogger sets the logger used for degraded operations.
func WithLogger(logger *zap.Logger) RedisOption {
	return func(r *Redis) { r.logger = logger }
}

// NewRedis returns a Redis-backed store.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		timeout: DefaultQueryTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Redis) executeWithResilience(ctx context.Context, f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	run := func() error { return f(ctx) }
	if r.retrier != nil {
		run = func() error { return r.retrier.Run(ctx, func() error { return f(ctx) }) }
	}
	if r.breaker == nil {
		return run()
	}
	_, err := r.breaker.Execute(func() (any, error) {
		return nil, run()
	})
	return err
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := r.executeWithResilience(ctx, func(ctx context.Context) error {
		v, err := r.client.Get(ctx, r.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		value, found = v, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return value, found, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.executeWithResilience(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, r.key(key), value, 0).Err()
	}); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.executeWithResilience(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, r.key(key)).Err()
	}); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *Redis) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = r.key(key)
	}
	if err := r.executeWithResilience(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, prefixed...).Err()
	}); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Keys scans the keyspace under the configured prefix.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	pattern := "*"
	if r.prefix != "" {
		pattern = r.prefix + ":*"
	}

	var (
		result []string
		cursor uint64
	)
	for {
		var (
			keys []string
			err  error
		)
		keys, cursor, err = r.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			r.logger.Error("Failed to scan Redis keys", zap.Error(err))
			return nil, fmt.Errorf("redis scan failed: %w", err)
		}
		for _, key := range keys {
			if r.prefix != "" {
				key = strings.TrimPrefix(key, r.prefix+":")
			}
			result = append(result, key)
		}
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

// Close is a no-op, the caller owns the client.
func (r *Redis) Close() error {
	return nil
}
