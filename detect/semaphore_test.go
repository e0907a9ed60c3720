package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalSemaphoreCap(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := AcquireGlobal(ctx, 3)
		require.NoError(t, err)
		assert.True(t, ok, "slot %d below cap", i)
	}
	ok, err := AcquireGlobal(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok, "cap reached")

	require.NoError(t, ReleaseGlobal(ctx))
	ok, err = AcquireGlobal(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok, "released slot is reusable")
}

func TestChannelSemaphoresAreIndependent(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	ok, err := AcquireChannel(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = AcquireChannel(ctx, 1, 1)
	require.NoError(t, err)
	assert.False(t, ok, "channel 1 saturated")

	ok, err = AcquireChannel(ctx, 2, 1)
	require.NoError(t, err)
	assert.True(t, ok, "channel 2 has its own counter")
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	require.NoError(t, ReleaseGlobal(ctx))
	require.NoError(t, ReleaseGlobal(ctx))

	ok, err := AcquireGlobal(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = AcquireGlobal(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok, "floor at zero means cap still holds")
}

func TestResetSemaphores(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	_, err := AcquireGlobal(ctx, 10)
	require.NoError(t, err)
	_, err = AcquireChannel(ctx, 5, 10)
	require.NoError(t, err)

	require.NoError(t, ResetSemaphores(ctx))

	global, perChannel, err := SemaphoreCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, global)
	for id, n := range perChannel {
		assert.Zero(t, n, "channel %s", id)
	}
}

func TestStopFlag(t *testing.T) {
	mr := setupRedis(t)
	ctx := context.Background()

	assert.False(t, IsStopped(ctx))
	require.NoError(t, SetStopFlag(ctx))
	assert.True(t, IsStopped(ctx))

	require.NoError(t, ClearStopFlag(ctx))
	assert.False(t, IsStopped(ctx))

	// flag expires on its own after the TTL
	require.NoError(t, SetStopFlag(ctx))
	mr.FastForward(stopFlagTTL + time.Minute)
	assert.False(t, IsStopped(ctx))
}
