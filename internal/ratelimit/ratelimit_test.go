package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAllowWithinLimit(t *testing.T) {
	l := New(setupTestRedis(t), 5, 24*time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(ctx, 42), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow(ctx, 42), "sixth request should be blocked")
}

func TestAllowPerChatIsolation(t *testing.T) {
	l := New(setupTestRedis(t), 2, 24*time.Hour, nil)
	ctx := context.Background()

	l.Allow(ctx, 1)
	l.Allow(ctx, 1)
	assert.False(t, l.Allow(ctx, 1))
	assert.True(t, l.Allow(ctx, 2))
}

func TestAdminExempt(t *testing.T) {
	l := New(setupTestRedis(t), 1, 24*time.Hour, []int64{99})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow(ctx, 99))
	}
}

func TestAllowFailsOpenWithoutRedis(t *testing.T) {
	l := New(nil, 1, 24*time.Hour, nil)
	assert.True(t, l.Allow(context.Background(), 42))
	assert.True(t, l.Allow(context.Background(), 42))
}
