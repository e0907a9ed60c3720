package detect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuchsia74/modelcheck/common"
	"github.com/fuchsia74/modelcheck/model"
	"github.com/fuchsia74/modelcheck/relay/detector"
	"github.com/fuchsia74/modelcheck/relay/endpoint"
)

// zeroJitterConfig stores a scheduler config without inter-probe
// jitter so worker tests finish quickly.
func zeroJitterConfig(t *testing.T) {
	t.Helper()
	cfg, err := model.GetSchedulerConfig()
	require.NoError(t, err)
	cfg.MinDelayMs = 0
	cfg.MaxDelayMs = 0
	require.NoError(t, cfg.Update())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorkerProcessesProbeEndToEnd(t *testing.T) {
	setupRedis(t)
	setupTestDB(t)
	zeroJitterConfig(t)
	ctx := context.Background()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"yes"}}]}`))
	}))
	defer upstream.Close()

	channel := &model.Channel{Name: "up", BaseURL: upstream.URL, Key: "K", Status: model.ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	m, _, err := model.UpsertModel(channel.Id, "llama-3-70b")
	require.NoError(t, err)

	sub, err := Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	job, err := NewJob(ctx, detector.Input{
		ChannelId: channel.Id, ChannelName: channel.Name,
		BaseURL: channel.BaseURL, Key: "K",
		ModelId: m.Id, ModelName: m.Name, Endpoint: endpoint.TypeChat,
	})
	require.NoError(t, err)
	require.NoError(t, Enqueue(ctx, []*Job{job}))

	pool := NewPool(2)
	pool.Start(ctx)
	defer pool.Shutdown()

	waitFor(t, 5*time.Second, func() bool {
		counts, err := Counts(ctx)
		return err == nil && counts.Completed == 1
	})

	logs, err := model.GetProbeLogs(m.Id, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ProbeStatusSuccess, logs[0].Status)
	assert.Equal(t, "yes", logs[0].ResponsePreview)
	assert.Equal(t, http.StatusOK, logs[0].UpstreamStatus)
	assert.Greater(t, logs[0].LatencyMs, int64(0))

	got, err := model.GetModelById(m.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ModelStatusReachable, got.LastStatus)
	assert.ElementsMatch(t, []string{"CHAT"}, got.EndpointList())

	// the progress bus carried the outcome
	select {
	case event := <-sub.Events:
		assert.Equal(t, EventProgress, event.Kind)
		assert.Equal(t, model.ProbeStatusSuccess, event.Status)
		assert.Equal(t, "CHAT", event.EndpointType)
		assert.True(t, event.IsModelComplete)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event received")
	}

	// semaphores fully released
	global, perChannel, err := SemaphoreCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, global)
	for _, n := range perChannel {
		assert.Zero(t, n)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	setupRedis(t)
	setupTestDB(t)
	zeroJitterConfig(t)
	ctx := context.Background()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer upstream.Close()

	channel := &model.Channel{Name: "up", BaseURL: upstream.URL, Key: "K", Status: model.ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	m, _, err := model.UpsertModel(channel.Id, "llama-3-70b")
	require.NoError(t, err)

	job, err := NewJob(ctx, detector.Input{
		ChannelId: channel.Id, ChannelName: channel.Name,
		BaseURL: channel.BaseURL, Key: "K",
		ModelId: m.Id, ModelName: m.Name, Endpoint: endpoint.TypeChat,
	})
	require.NoError(t, err)
	job.MaxAttempts = 1 // terminal on the first failure
	require.NoError(t, Enqueue(ctx, []*Job{job}))

	pool := NewPool(1)
	pool.Start(ctx)
	defer pool.Shutdown()

	waitFor(t, 5*time.Second, func() bool {
		counts, err := Counts(ctx)
		return err == nil && counts.Failed == 1
	})

	logs, err := model.GetProbeLogs(m.Id, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ProbeStatusFail, logs[0].Status)
	assert.Equal(t, "quota exceeded", logs[0].ErrorMessage)
	assert.Equal(t, http.StatusOK, logs[0].UpstreamStatus)

	got, err := model.GetModelById(m.Id)
	require.NoError(t, err)
	assert.Equal(t, model.ModelStatusUnreachable, got.LastStatus)
	assert.Empty(t, got.EndpointList(), "failures never detect endpoints")
}

// expireDelayedJobs rewrites every delayed job's ready-at score into
// the past so the promoter moves it on the next tick, without waiting
// out the real retry backoff.
func expireDelayedJobs(t *testing.T, ctx context.Context) {
	t.Helper()
	members, err := common.RDB.ZRange(ctx, delayedKey, 0, -1).Result()
	require.NoError(t, err)
	for _, member := range members {
		require.NoError(t, common.RDB.ZAdd(ctx, delayedKey, &redis.Z{
			Score:  float64(time.Now().Add(-time.Second).UnixMilli()),
			Member: member,
		}).Err())
	}
}

func TestWorkerRequeuesFailedJobBeforeTerminalFailure(t *testing.T) {
	setupRedis(t)
	setupTestDB(t)
	zeroJitterConfig(t)
	ctx := context.Background()

	var hits int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer upstream.Close()

	channel := &model.Channel{Name: "up", BaseURL: upstream.URL, Key: "K", Status: model.ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	m, _, err := model.UpsertModel(channel.Id, "llama-3-70b")
	require.NoError(t, err)

	job, err := NewJob(ctx, detector.Input{
		ChannelId: channel.Id, ChannelName: channel.Name,
		BaseURL: channel.BaseURL, Key: "K",
		ModelId: m.Id, ModelName: m.Name, Endpoint: endpoint.TypeChat,
	})
	require.NoError(t, err)
	require.Equal(t, defaultMaxAttempts, job.MaxAttempts)
	require.NoError(t, Enqueue(ctx, []*Job{job}))

	pool := NewPool(1)
	pool.Start(ctx)
	defer pool.Shutdown()

	// first attempt fails and lands on the delayed queue, not the
	// failed list, with no active leftover
	waitFor(t, 5*time.Second, func() bool {
		counts, err := Counts(ctx)
		return err == nil && counts.Delayed == 1
	})
	counts, err := Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Failed)
	assert.Zero(t, counts.Active)
	assert.Zero(t, counts.Waiting)

	// burn through the remaining attempts without real backoff sleeps
	for attempt := 1; attempt < defaultMaxAttempts; attempt++ {
		expireDelayedJobs(t, ctx)
		waitFor(t, 5*time.Second, func() bool {
			counts, err := Counts(ctx)
			if err != nil {
				return false
			}
			return counts.Failed == 1 || counts.Delayed == 1 && int(atomic.LoadInt32(&hits)) > attempt
		})
	}

	waitFor(t, 5*time.Second, func() bool {
		counts, err := Counts(ctx)
		return err == nil && counts.Failed == 1
	})
	assert.Equal(t, int32(defaultMaxAttempts), atomic.LoadInt32(&hits), "every attempt reached the upstream")

	// only the terminal outcome is recorded
	logs, err := model.GetProbeLogs(m.Id, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ProbeStatusFail, logs[0].Status)
	assert.Equal(t, "quota exceeded", logs[0].ErrorMessage)

	counts, err = Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Active, "terminal failure leaves no active leftovers")
	assert.Zero(t, counts.Delayed)
}

func TestPauseAndDrain(t *testing.T) {
	setupRedis(t)
	setupTestDB(t)
	ctx := context.Background()

	var jobs []*Job
	for i := 0; i < 10; i++ {
		job, err := NewJob(ctx, testInput(1+i%3, 100+i, endpoint.TypeChat))
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	require.NoError(t, Enqueue(ctx, jobs))
	_, err := AcquireGlobal(ctx, 30)
	require.NoError(t, err)

	pool := NewPool(0)
	cleared, err := pool.PauseAndDrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cleared)
	assert.True(t, IsStopped(ctx))

	counts, err := Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
	assert.Zero(t, counts.Delayed)

	global, _, err := SemaphoreCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, global, "drain resets the semaphores")

	// idempotent: a second drain succeeds with nothing to clear
	cleared, err = pool.PauseAndDrain(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared)
}

func TestWorkerDropsJobsWhenStopped(t *testing.T) {
	setupRedis(t)
	setupTestDB(t)
	zeroJitterConfig(t)
	ctx := context.Background()

	channel := &model.Channel{Name: "up", BaseURL: "https://unreachable.example", Key: "K", Status: model.ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	m, _, err := model.UpsertModel(channel.Id, "llama-3-70b")
	require.NoError(t, err)

	job, err := NewJob(ctx, detector.Input{
		ChannelId: channel.Id, ChannelName: channel.Name,
		BaseURL: channel.BaseURL, Key: "K",
		ModelId: m.Id, ModelName: m.Name, Endpoint: endpoint.TypeChat,
	})
	require.NoError(t, err)
	require.NoError(t, Enqueue(ctx, []*Job{job}))
	require.NoError(t, SetStopFlag(ctx))

	pool := NewPool(1)
	pool.Start(ctx)
	defer pool.Shutdown()

	waitFor(t, 5*time.Second, func() bool {
		counts, err := Counts(ctx)
		return err == nil && counts.Failed == 1
	})

	logs, err := model.GetProbeLogs(m.Id, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.ProbeStatusFail, logs[0].Status)
	assert.Contains(t, logs[0].ErrorMessage, "Detection stopped by user")
}
