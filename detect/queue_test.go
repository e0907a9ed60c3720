package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuchsia74/modelcheck/relay/detector"
	"github.com/fuchsia74/modelcheck/relay/endpoint"
)

func testInput(channelId int, modelId int, ep endpoint.Type) detector.Input {
	return detector.Input{
		ChannelId:   channelId,
		ChannelName: fmt.Sprintf("ch-%d", channelId),
		BaseURL:     "https://u.example",
		Key:         "K",
		ModelId:     modelId,
		ModelName:   "gpt-4o",
		Endpoint:    ep,
	}
}

func TestNewJobIdShape(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	a, err := NewJob(ctx, testInput(3, 7, endpoint.TypeChat))
	require.NoError(t, err)
	b, err := NewJob(ctx, testInput(3, 7, endpoint.TypeChat))
	require.NoError(t, err)

	assert.Contains(t, a.Id, "3-7-CHAT-")
	assert.NotEqual(t, a.Id, b.Id, "simultaneous enqueues stay distinct")
	assert.Equal(t, defaultMaxAttempts, a.MaxAttempts)
}

func TestEnqueueLeaseFIFO(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	first, err := NewJob(ctx, testInput(1, 10, endpoint.TypeChat))
	require.NoError(t, err)
	second, err := NewJob(ctx, testInput(1, 10, endpoint.TypeClaude))
	require.NoError(t, err)
	require.NoError(t, Enqueue(ctx, []*Job{first, second}))

	counts, err := Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Waiting)

	got, err := Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.Id, got.Id, "oldest job leases first")

	counts, err = Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
	assert.Equal(t, int64(1), counts.Active)

	got2, err := Lease(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Id, got2.Id)

	empty, err := Lease(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestDelayedPromotion(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	job, err := NewJob(ctx, testInput(1, 10, endpoint.TypeChat))
	require.NoError(t, err)
	require.NoError(t, EnqueueDelayed(ctx, job, -time.Second)) // already due

	counts, err := Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)

	require.NoError(t, PromoteDueJobs(ctx))

	counts, err = Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Delayed)
	assert.Equal(t, int64(1), counts.Waiting)
}

func TestDelayedNotPromotedEarly(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	job, err := NewJob(ctx, testInput(1, 10, endpoint.TypeChat))
	require.NoError(t, err)
	require.NoError(t, EnqueueDelayed(ctx, job, time.Hour))
	require.NoError(t, PromoteDueJobs(ctx))

	counts, err := Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Delayed)
	assert.Equal(t, int64(0), counts.Waiting)
}

func TestCompleteTracksModelCompletion(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	chat, err := NewJob(ctx, testInput(1, 10, endpoint.TypeChat))
	require.NoError(t, err)
	claude, err := NewJob(ctx, testInput(1, 10, endpoint.TypeClaude))
	require.NoError(t, err)
	require.NoError(t, Enqueue(ctx, []*Job{chat, claude}))

	j1, err := Lease(ctx)
	require.NoError(t, err)
	j2, err := Lease(ctx)
	require.NoError(t, err)

	assert.False(t, Complete(ctx, j1), "one endpoint still pending")
	assert.True(t, Fail(ctx, j2, "boom"), "last endpoint completes the model")

	counts, err := Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts.Active)
	assert.Equal(t, int64(1), counts.Completed)
	assert.Equal(t, int64(1), counts.Failed)
}

func TestRetryDelayBackoff(t *testing.T) {
	assert.Equal(t, 5*time.Second, RetryDelay(1))
	assert.Equal(t, 10*time.Second, RetryDelay(2))
	assert.Equal(t, 20*time.Second, RetryDelay(3))
}

func TestDropQueuedAndIdempotence(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	var jobs []*Job
	for i := 0; i < 5; i++ {
		job, err := NewJob(ctx, testInput(1, 10+i, endpoint.TypeChat))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	require.NoError(t, Enqueue(ctx, jobs))
	delayed, err := NewJob(ctx, testInput(2, 20, endpoint.TypeChat))
	require.NoError(t, err)
	require.NoError(t, EnqueueDelayed(ctx, delayed, time.Hour))

	cleared, err := DropQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), cleared)

	pending, err := HasPendingJobs(ctx)
	require.NoError(t, err)
	assert.False(t, pending)

	// second drain clears nothing and still succeeds
	cleared, err = DropQueued(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestChannelHasPendingJobs(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	job, err := NewJob(ctx, testInput(42, 10, endpoint.TypeChat))
	require.NoError(t, err)
	require.NoError(t, Enqueue(ctx, []*Job{job}))

	busy, err := ChannelHasPendingJobs(ctx, 42)
	require.NoError(t, err)
	assert.True(t, busy)

	busy, err = ChannelHasPendingJobs(ctx, 43)
	require.NoError(t, err)
	assert.False(t, busy)
}
