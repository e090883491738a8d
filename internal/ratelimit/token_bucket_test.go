package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	bucket := NewTokenBucket(client, 2, 1, time.Minute)

	allowed, _, err := bucket.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, allowed, "first token")

	allowed, _, err = bucket.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.True(t, allowed, "second token")

	allowed, _, err = bucket.Allow(ctx, "org-1")
	require.NoError(t, err)
	assert.False(t, allowed, "bucket exhausted")

	allowed, _, err = bucket.Allow(ctx, "org-2")
	require.NoError(t, err)
	assert.True(t, allowed, "separate bucket per organization")
	assert.True(t, mr.Exists("rl:enqueue:org-1"))

	// Refill is not exercised: the script takes time from the caller, not from
	// the miniredis clock, so FastForward has no effect.
}
