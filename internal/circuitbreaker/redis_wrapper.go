package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker. Only the commands
// the behavior store and rate limiter use are exposed; redis.Nil never counts
// as a failure.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", DefaultConfig(), logger)
	return &RedisWrapper{
		client: client,
		cb:     cb,
		logger: logger,
	}
}

// IsCircuitBreakerOpen reports whether the breaker currently rejects calls
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}

// Client exposes the underlying client for health checks
func (rw *RedisWrapper) Client() *redis.Client {
	return rw.client
}

func isFailure(err error) bool {
	return err != nil && err != redis.Nil
}

// Ping wraps Redis PING
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Get wraps Redis GET
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if isFailure(result.Err()) {
			return result.Err()
		}
		return nil
	})
	if err != nil && result == nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Set wraps Redis SET with expiration
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Del wraps Redis DEL
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LPush wraps Redis LPUSH
func (rw *RedisWrapper) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.LPush(ctx, key, values...)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LTrim wraps Redis LTRIM
func (rw *RedisWrapper) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.LTrim(ctx, key, start, stop)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// LRange wraps Redis LRANGE
func (rw *RedisWrapper) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.LRange(ctx, key, start, stop)
		if isFailure(result.Err()) {
			return result.Err()
		}
		return nil
	})
	if err != nil && result == nil {
		result = redis.NewStringSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// ZIncrBy wraps Redis ZINCRBY
func (rw *RedisWrapper) ZIncrBy(ctx context.Context, key string, increment float64, member string) *redis.FloatCmd {
	var result *redis.FloatCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.ZIncrBy(ctx, key, increment, member)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewFloatCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// ZRevRangeWithScores wraps Redis ZREVRANGE WITHSCORES
func (rw *RedisWrapper) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) *redis.ZSliceCmd {
	var result *redis.ZSliceCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.ZRevRangeWithScores(ctx, key, start, stop)
		if isFailure(result.Err()) {
			return result.Err()
		}
		return nil
	})
	if err != nil && result == nil {
		result = redis.NewZSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// ZScore wraps Redis ZSCORE
func (rw *RedisWrapper) ZScore(ctx context.Context, key, member string) *redis.FloatCmd {
	var result *redis.FloatCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.ZScore(ctx, key, member)
		if isFailure(result.Err()) {
			return result.Err()
		}
		return nil
	})
	if err != nil && result == nil {
		result = redis.NewFloatCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Scan wraps Redis SCAN
func (rw *RedisWrapper) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	var result *redis.ScanCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Scan(ctx, cursor, match, count)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewScanCmd(ctx, nil)
		result.SetErr(err)
	}
	return result
}

// Incr wraps Redis INCR
func (rw *RedisWrapper) Incr(ctx context.Context, key string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Incr(ctx, key)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// Expire wraps Redis EXPIRE
func (rw *RedisWrapper) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	var result *redis.BoolCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Expire(ctx, key, expiration)
		return result.Err()
	})
	if err != nil && result == nil {
		result = redis.NewBoolCmd(ctx)
		result.SetErr(err)
	}
	return result
}
