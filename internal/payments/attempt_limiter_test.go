package payments

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestAttemptLimiterAllow(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewAttemptLimiter(client, 3, time.Hour, nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		sessionID   string
		attempts    int
		wantAllowed bool
	}{
		{name: "first attempt allowed", sessionID: "s-1", attempts: 1, wantAllowed: true},
		{name: "at limit allowed", sessionID: "s-2", attempts: 3, wantAllowed: true},
		{name: "over limit blocked", sessionID: "s-3", attempts: 4, wantAllowed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result *LimitResult
			var err error
			for i := 0; i < tt.attempts; i++ {
				result, err = limiter.Allow(ctx, "store-1", tt.sessionID)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantAllowed, result.Allowed)
			assert.Equal(t, tt.attempts, result.CurrentCount)
			assert.Equal(t, 3, result.MaxAllowed)
			if !tt.wantAllowed {
				assert.NotEmpty(t, result.Message)
			}
		})
	}
}

func TestAttemptLimiterWindowExpires(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewAttemptLimiter(client, 1, time.Hour, nil)
	ctx := context.Background()

	result, err := limiter.Allow(ctx, "store-1", "s-1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = limiter.Allow(ctx, "store-1", "s-1")
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	mr.FastForward(61 * time.Minute)
	result, err = limiter.Allow(ctx, "store-1", "s-1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestAttemptLimiterReset(t *testing.T) {
	_, client := setupTestRedis(t)
	limiter := NewAttemptLimiter(client, 1, time.Hour, nil)
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "store-1", "s-1")
	require.NoError(t, limiter.Reset(ctx, "store-1", "s-1"))
	result, err := limiter.Allow(ctx, "store-1", "s-1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestAttemptLimiterFailsOpen(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewAttemptLimiter(client, 1, time.Hour, nil)
	mr.Close()

	result, err := limiter.Allow(context.Background(), "store-1", "s-1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestAttemptLimiterNil(t *testing.T) {
	var limiter *AttemptLimiter
	result, err := limiter.Allow(context.Background(), "store-1", "s-1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}
