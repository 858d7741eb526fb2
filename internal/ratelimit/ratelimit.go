// Package ratelimit caps how many bot commands a user may issue per day.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/appwatch/mvcr-status-bot/internal/logger"
)

// Limiter counts commands per chat in Redis with a rolling daily window.
// Admins are exempt; Redis outages fail open so users are never locked
// out by infrastructure trouble.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	admins map[int64]bool
	log    zerolog.Logger
}

func New(client *redis.Client, limit int, window time.Duration, adminIDs []int64) *Limiter {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Limiter{
		client: client,
		limit:  limit,
		window: window,
		admins: admins,
		log:    logger.Component("ratelimit"),
	}
}

// Allow reports whether chatID may issue another command now.
func (l *Limiter) Allow(ctx context.Context, chatID int64) bool {
	if l.admins[chatID] {
		return true
	}
	if l.client == nil {
		return true
	}

	key := fmt.Sprintf("ratelimit:chat:%d", chatID)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		// fail open
		l.log.Warn().Err(err).Int64("chat_id", chatID).Msg("rate limit check failed, allowing")
		return true
	}
	if count == 1 {
		l.client.Expire(ctx, key, l.window)
	}
	if count > int64(l.limit) {
		l.log.Info().Int64("chat_id", chatID).Int64("count", count).Msg("command rate limit exceeded")
		return false
	}
	return true
}

// Ping verifies the Redis connection for health checks.
func (l *Limiter) Ping(ctx context.Context) error {
	if l.client == nil {
		return fmt.Errorf("redis client not configured")
	}
	return l.client.Ping(ctx).Err()
}
