package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps the shared Redis client with a circuit breaker so a
// dead cache degrades to misses instead of stalling requests.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", RedisConfig(), logger)
	register("redis", "oracle", cb)
	return &RedisWrapper{client: client, cb: cb}
}

// Ping wraps Redis Ping with the circuit breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	recordRequest("redis", "oracle", rw.cb.State(), err == nil)
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps Redis Get; redis.Nil is a miss, not a breaker failure.
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})
	recordRequest("redis", "oracle", rw.cb.State(), err == nil)
	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps Redis Set with the circuit breaker.
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	recordRequest("redis", "oracle", rw.cb.State(), err == nil)
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LRange wraps Redis LRANGE, used by the session history store.
func (rw *RedisWrapper) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.LRange(ctx, key, start, stop)
		return result.Err()
	})
	recordRequest("redis", "oracle", rw.cb.State(), err == nil)
	if err != nil {
		result = redis.NewStringSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// RPush wraps Redis RPUSH, used by the session history store.
func (rw *RedisWrapper) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.RPush(ctx, key, values...)
		return result.Err()
	})
	recordRequest("redis", "oracle", rw.cb.State(), err == nil)
	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LTrim wraps Redis LTRIM, used to cap session history length.
func (rw *RedisWrapper) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.LTrim(ctx, key, start, stop)
		return result.Err()
	})
	recordRequest("redis", "oracle", rw.cb.State(), err == nil)
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Expire wraps Redis EXPIRE.
func (rw *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	var result *redis.BoolCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Expire(ctx, key, ttl)
		return result.Err()
	})
	recordRequest("redis", "oracle", rw.cb.State(), err == nil)
	if err != nil {
		result = redis.NewBoolCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen reports whether the breaker currently rejects requests.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
