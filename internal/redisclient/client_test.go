package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestLockIsExclusiveAndOwned(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	token, ok, err := c.AcquireLock(ctx, "renewals:2026-10-19", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, "renewals:2026-10-19", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	// a stranger's token does not release it
	require.NoError(t, c.ReleaseLock(ctx, "renewals:2026-10-19", "not-the-owner"))
	assert.True(t, mr.Exists("lock:renewals:2026-10-19"))

	require.NoError(t, c.ReleaseLock(ctx, "renewals:2026-10-19", token))
	assert.False(t, mr.Exists("lock:renewals:2026-10-19"))
}

func TestLockExpires(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	_, ok, err := c.AcquireLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = c.AcquireLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdempotencyLifecycle(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	first, err := c.ClaimIdempotencyKey(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.True(t, first.Claimed)

	second, err := c.ClaimIdempotencyKey(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, second.Claimed)
	assert.True(t, second.InFlight)

	require.NoError(t, c.CompleteIdempotencyKey(ctx, "abc", first.Token, "1234", time.Hour))

	third, err := c.ClaimIdempotencyKey(ctx, "abc", time.Hour)
	require.NoError(t, err)
	assert.False(t, third.Claimed)
	assert.False(t, third.InFlight)
	assert.Equal(t, "1234", third.Result)
}

func TestAbandonedClaimCanBeRetried(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	claim, err := c.ClaimIdempotencyKey(ctx, "retry-me", time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.AbandonIdempotencyKey(ctx, "retry-me", claim.Token))

	again, err := c.ClaimIdempotencyKey(ctx, "retry-me", time.Hour)
	require.NoError(t, err)
	assert.True(t, again.Claimed)
}
