package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ramory-l/gopusher/log"
)

type redisLimiter struct {
	client  redis.UniversalClient
	logger  zerolog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedis returns a limiter shared by every node using the same Redis.
// Keys are prefix, a colon, then the limiter key. Redis errors fail open.
func NewRedis(client redis.UniversalClient, prefix string) Limiter {
	if prefix == "" {
		prefix = "gopusher:ratelimit"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &redisLimiter{
		client:  client,
		logger:  log.WithComponent("ratelimit"),
		prefix:  prefix,
		timeout: 250 * time.Millisecond,
	}
}

func (rl *redisLimiter) Consume(ctx context.Context, key string, points, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true, Limit: limit}
	}
	if window <= 0 {
		window = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, rl.timeout)
	defer cancel()

	redisKey := rl.key(key)
	counter, err := rl.client.IncrBy(ctx, redisKey, int64(points)).Result()
	if err != nil {
		rl.logger.Error().Err(err).Str("op", "incrby").Msg("redis rate limiter error")
		return Decision{Allowed: true, Limit: limit, Remaining: limit}
	}
	if counter == int64(points) {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			rl.logger.Error().Err(err).Str("op", "expire").Msg("redis rate limiter error")
		}
	}
	ttl, err := rl.client.PTTL(ctx, redisKey).Result()
	if err != nil || ttl <= 0 {
		ttl = window
	}

	used := int(counter)
	allowed := counter <= int64(limit)
	if !allowed {
		// rejected points must not count against the window
		rl.client.DecrBy(ctx, redisKey, int64(points))
		used -= points
	}
	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-used, 0),
		ResetAt:   time.Now().Add(ttl),
	}
}

func (rl *redisLimiter) key(key string) string {
	return rl.prefix + key
}

func (rl *redisLimiter) Close() error {
	return nil
}
