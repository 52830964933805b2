package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRedisRateLimiter 실제 Redis 서버가 필요 (localhost:6379)
func setupRedisRateLimiter(t *testing.T) *RedisRateLimiter {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 테스트용 DB
	})
	t.Cleanup(func() { client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis server not available: %v", err)
	}

	return NewRedisRateLimiter(client, "test:ratelimit:")
}

func cleanupRedis(limiter *RedisRateLimiter, keys ...string) {
	ctx := context.Background()
	for _, key := range keys {
		limiter.Reset(ctx, key)
	}
}

func TestRedisRateLimiter_TokenBucket(t *testing.T) {
	limiter := setupRedisRateLimiter(t)

	ctx := context.Background()
	key := "user:456"
	cleanupRedis(limiter, key)
	defer cleanupRedis(limiter, key)

	limit := 3
	window := time.Minute

	t.Run("제한 내 요청은 모두 허용", func(t *testing.T) {
		for i := 0; i < limit; i++ {
			allowed, err := limiter.Allow(ctx, key, limit, window)
			require.NoError(t, err)
			assert.True(t, allowed, "Request %d should be allowed", i+1)
		}
	})

	t.Run("제한 초과 요청은 거부", func(t *testing.T) {
		allowed, err := limiter.Allow(ctx, key, limit, window)
		require.NoError(t, err)
		assert.False(t, allowed, "Request over limit should be denied")
	})
}

func TestRedisRateLimiter_AllowWithInfo(t *testing.T) {
	limiter := setupRedisRateLimiter(t)

	ctx := context.Background()
	key := "user:789"
	cleanupRedis(limiter, key)
	defer cleanupRedis(limiter, key)

	limit := 5
	window := time.Minute

	allowed, info, err := limiter.AllowWithInfo(ctx, key, limit, window)
	require.NoError(t, err)
	assert.True(t, allowed)
	require.NotNil(t, info)
	assert.Equal(t, limit, info.Limit)
	assert.Equal(t, limit-1, info.Remaining)
	assert.False(t, info.ResetTime.IsZero())
}

func TestRedisRateLimiter_InvalidLimit(t *testing.T) {
	limiter := setupRedisRateLimiter(t)

	_, _, err := limiter.AllowWithInfo(context.Background(), "user:invalid", 0, time.Minute)
	assert.Error(t, err)
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	limiter := setupRedisRateLimiter(t)

	ctx := context.Background()
	key := "user:reset"
	cleanupRedis(limiter, key)

	limiter.Allow(ctx, key, 2, time.Minute)
	limiter.Allow(ctx, key, 2, time.Minute)

	allowed, _ := limiter.Allow(ctx, key, 2, time.Minute)
	assert.False(t, allowed)

	require.NoError(t, limiter.Reset(ctx, key))

	allowed, _ = limiter.Allow(ctx, key, 2, time.Minute)
	assert.True(t, allowed)
	cleanupRedis(limiter, key)
}

func TestRedisRateLimiter_ConcurrentRequests(t *testing.T) {
	limiter := setupRedisRateLimiter(t)

	ctx := context.Background()
	key := "user:concurrent"
	cleanupRedis(limiter, key)
	defer cleanupRedis(limiter, key)

	limit := 10
	concurrency := 20
	results := make(chan bool, concurrency)

	for i := 0; i < concurrency; i++ {
		go func() {
			allowed, _ := limiter.Allow(ctx, key, limit, time.Minute)
			results <- allowed
		}()
	}

	allowedCount := 0
	for i := 0; i < concurrency; i++ {
		if <-results {
			allowedCount++
		}
	}

	// limit 만큼만 허용
	assert.Equal(t, limit, allowedCount)
}
