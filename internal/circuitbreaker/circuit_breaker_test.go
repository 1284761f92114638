package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpensAfterFailureThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		SuccessThreshold: 1,
	}, zap.NewNop())

	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error { return failing })
		assert.ErrorIs(t, err, failing)
	}
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          10 * time.Millisecond,
		FailureThreshold: 1,
		SuccessThreshold: 2,
	}, zap.NewNop())

	require.Error(t, cb.Execute(context.Background(), func() error { return errors.New("boom") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestSuccessKeepsClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", DefaultConfig(), zap.NewNop())
	for i := 0; i < 10; i++ {
		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestRedisWrapperNilIsNotFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rw := NewRedisWrapper(client, zap.NewNop())
	ctx := context.Background()

	// Repeated misses must never trip the breaker.
	for i := 0; i < 20; i++ {
		_, err := rw.Get(ctx, "missing").Result()
		assert.ErrorIs(t, err, redis.Nil)
	}
	assert.False(t, rw.IsCircuitBreakerOpen())
}

func TestRedisWrapperRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rw := NewRedisWrapper(client, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, rw.Set(ctx, "k", "v", time.Minute).Err())
	v, err := rw.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, rw.ZIncrBy(ctx, "z", 2, "m").Err())
	score, err := rw.ZScore(ctx, "z", "m").Result()
	require.NoError(t, err)
	assert.Equal(t, float64(2), score)
}

func TestRedisWrapperOpensOnRealFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rw := NewRedisWrapper(client, zap.NewNop())
	ctx := context.Background()

	mr.Close()
	for i := 0; i < 10; i++ {
		_ = rw.Ping(ctx).Err()
	}
	assert.True(t, rw.IsCircuitBreakerOpen())
}
