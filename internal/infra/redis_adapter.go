// Package infra provides concrete infrastructure adapters for Redis.
//
// This adapter wraps go-redis v9 and implements the minimal client
// interfaces expected by the task queue, the result backend, and the live
// event feed. Callers that cannot reach Redis decide their own fallback.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound marks a missing key or an empty blocking pop.
var ErrNotFound = errors.New("redis: key not found")

// GoRedisAdapter wraps go-redis v9 behind the narrow interfaces the queue,
// result backend, and feed publisher consume.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects using a redis:// URL. Returns the adapter and
// any connection error; the caller decides whether to fall back.
func NewGoRedisAdapter(url string) (*GoRedisAdapter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.PoolSize = 20

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}

	slog.Info("Redis connected", "addr", opts.Addr, "db", opts.DB)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// NewGoRedisAdapterAddr connects to a bare host:port, used by tests.
func NewGoRedisAdapterAddr(addr string) (*GoRedisAdapter, error) {
	return NewGoRedisAdapter("redis://" + addr)
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// Ping verifies connectivity, used by health checks.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}

// =============================================================================
// Key/value operations (result backend)
// =============================================================================

func (a *GoRedisAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, err
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.rdb.Del(ctx, keys...).Err()
}

// =============================================================================
// List operations (task broker)
// =============================================================================

func (a *GoRedisAdapter) LPush(ctx context.Context, key string, value []byte) error {
	return a.rdb.LPush(ctx, key, value).Err()
}

// BRPop blocks up to timeout for the next queue entry. A timeout with no
// entry reports ErrNotFound rather than an empty payload.
func (a *GoRedisAdapter) BRPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	res, err := a.rdb.BRPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected brpop reply for %s: %d items", key, len(res))
	}
	return []byte(res[1]), nil
}

func (a *GoRedisAdapter) LLen(ctx context.Context, key string) (int64, error) {
	return a.rdb.LLen(ctx, key).Result()
}

// =============================================================================
// Pub/Sub (live assessment feed)
// =============================================================================

func (a *GoRedisAdapter) Publish(ctx context.Context, channel string, message []byte) error {
	return a.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe registers a handler for messages on a Redis Pub/Sub channel.
// Returns an unsubscribe function.
func (a *GoRedisAdapter) Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error) {
	sub := a.rdb.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	_, err := sub.Receive(ctx)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return func() { sub.Close() }, nil
}
