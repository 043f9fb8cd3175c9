package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// redisCounter is the subset of the redis client the fixed-window limiter
// needs.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

type RateLimiter struct {
	client redisCounter
	prefix string
	limits []RateLimit
	logger *Logger
}

type RateLimit struct {
	requests int
	window   time.Duration
}

// Development key limits published by Riot.
var riotRateLimits = []RateLimit{
	{requests: 20, window: 1 * time.Second},
	{requests: 100, window: 2 * time.Minute},
}

func NewRateLimiter(cfg *Config, logger *Logger) *RateLimiter {
	return &RateLimiter{
		client: newRedisClient(cfg),
		prefix: cfg.RateLimitRedisPrefix,
		limits: riotRateLimits,
		logger: logger,
	}
}

func newRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	for _, limit := range rl.limits {
		allowed, err := rl.checkLimit(ctx, key, limit)
		if err != nil {
			rl.logger.Error("rate_limit_check_failed").
				Component("rate_limiter").
				Operation("check_limit").
				Err(err).
				Meta("key", key).
				Log()
			return false, err
		}
		if !allowed {
			rl.logger.Debug("rate_limit_blocked").
				Component("rate_limiter").
				Operation("check_limit").
				Meta("key", key).
				Meta("limit_requests", limit.requests).
				Meta("limit_window", limit.window.String()).
				Log()
			return false, nil
		}
	}
	return true, nil
}

func (rl *RateLimiter) checkLimit(ctx context.Context, key string, limit RateLimit) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, int(limit.window.Seconds()))

	count, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}

	if count == 1 {
		if err := rl.client.Expire(ctx, redisKey, limit.window).Err(); err != nil {
			return false, err
		}
	}

	return int(count) <= limit.requests, nil
}

// LocalRateLimiter enforces the same windows in process when Redis is off.
// Each window becomes a token bucket refilled at requests/window.
type LocalRateLimiter struct {
	buckets []*rate.Limiter
}

func NewLocalRateLimiter(limits ...RateLimit) *LocalRateLimiter {
	if len(limits) == 0 {
		limits = riotRateLimits
	}
	buckets := make([]*rate.Limiter, len(limits))
	for i, l := range limits {
		buckets[i] = rate.NewLimiter(rate.Every(l.window/time.Duration(l.requests)), l.requests)
	}
	return &LocalRateLimiter{buckets: buckets}
}

func (l *LocalRateLimiter) Allow(_ context.Context, _ string) (bool, error) {
	now := time.Now()
	for _, b := range l.buckets {
		if !b.AllowN(now, 1) {
			return false, nil
		}
	}
	return true, nil
}
