package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coursekitlabs/coursekit/internal/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewWithClient(rdb, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow(ctx, "job-1"), "call %d should be allowed", i+1)
	}
	assert.False(t, limiter.Allow(ctx, "job-1"))

	// Other keys have their own window.
	assert.True(t, limiter.Allow(ctx, "job-2"))
}

func TestWindowResets(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewWithClient(rdb, 1, time.Minute)
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, "job-1"))
	assert.False(t, limiter.Allow(ctx, "job-1"))

	mr.FastForward(time.Minute + time.Second)
	assert.True(t, limiter.Allow(ctx, "job-1"))
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	limiter := ratelimit.NewWithClient(nil, 0, time.Minute)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow(ctx, "job-1"))
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewWithClient(rdb, 1, time.Minute)
	mr.Close()

	// The CAS claim downstream stays the correctness guard.
	assert.True(t, limiter.Allow(context.Background(), "job-1"))
}
