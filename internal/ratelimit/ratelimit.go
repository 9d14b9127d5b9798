// Package ratelimit guards the scheduler-facing trigger endpoint with a redis
// fixed-window counter. A misbehaving scheduler retrying a job in a tight loop
// gets 429s instead of hammering the claim path.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/coursekitlabs/coursekit/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("ratelimit",
	fx.Provide(New),
)

type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    *zap.Logger
}

func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*Limiter, error) {
	l := &Limiter{
		limit:  cfg.TriggerRateLimit,
		window: cfg.TriggerRateWindow,
		log:    log.Named("ratelimit"),
	}
	if l.window <= 0 {
		l.window = time.Minute
	}

	if cfg.RedisAddr == "" || cfg.TriggerRateLimit <= 0 {
		l.log.Info("trigger rate limiting disabled")
		return l, nil
	}

	l.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return l.rdb.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return l.rdb.Close()
		},
	})

	return l, nil
}

// NewWithClient builds a limiter around an existing client; used by tests.
func NewWithClient(rdb *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, log: zap.NewNop()}
}

// Allow reports whether another trigger for key fits in the current window.
// Redis being unavailable fails open; the pending-only claim downstream is
// still the correctness guard.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l.rdb == nil || l.limit <= 0 {
		return true
	}

	redisKey := fmt.Sprintf("ratelimit:trigger:%s", key)
	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		l.log.Warn("rate limit check failed", zap.Error(err))
		return true
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			l.log.Warn("rate limit expire failed", zap.Error(err))
		}
	}

	return count <= int64(l.limit)
}
