// Package ratelimit enforces the chat message rate limit (N messages per
// sliding window, per user per channel) using a Redis sorted set, the same
// sliding-window pattern the rest of this codebase uses for publisher and
// adapter quotas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Limiter enforces sliding-window rate limits backed by Redis.
type Limiter struct {
	redis *redis.Client
}

// New builds a Limiter over an existing Redis client.
func New(redisClient *redis.Client) *Limiter {
	return &Limiter{redis: redisClient}
}

// Allow reports whether one more event under key is permitted within the
// trailing window, recording the event if so.
func (l *Limiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - window.Nanoseconds()

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	count := countCmd.Val()
	if count >= limit {
		log.WithFields(log.Fields{"key": key, "count": count, "limit": limit}).Warn("rate limit exceeded")
		return false, nil
	}

	pipe = l.redis.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: fmt.Sprintf("%d", now)})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// AllowMessage checks the per-user, per-channel chat message rate limit.
func (l *Limiter) AllowMessage(ctx context.Context, userID, channelID int64, limit int64, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:message:%d:%d", channelID, userID)
	return l.Allow(ctx, key, limit, window)
}
