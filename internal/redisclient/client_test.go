package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewWithRedis(rdb), mr
}

func TestLock_SingleOwner(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale token must not release someone else's lock
	require.NoError(t, c.ReleaseLock(ctx, "sweeper", "not-the-owner"))
	_, ok, err = c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "sweeper", token))
	_, ok, err = c.AcquireLock(ctx, "sweeper", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_Expires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.AcquireLock(ctx, "sweeper", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = c.AcquireLock(ctx, "sweeper", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClaimEvent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	claimed, err := c.ClaimEvent(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = c.ClaimEvent(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, c.ReleaseEvent(ctx, "evt_1"))
	claimed, err = c.ClaimEvent(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, c.CompleteEvent(ctx, "evt_1", time.Hour))
	claimed, err = c.ClaimEvent(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestIdempotencyKey(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	val, err := c.GetIdempotencyKey(ctx, "k")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, c.SetIdempotencyKey(ctx, "k", "res-1", time.Minute))
	val, err = c.GetIdempotencyKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "res-1", val)
}
