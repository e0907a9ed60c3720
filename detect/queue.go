package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"

	"github.com/fuchsia74/modelcheck/common"
	"github.com/fuchsia74/modelcheck/relay/detector"
)

const (
	waitingKey   = "detection:queue:waiting"
	delayedKey   = "detection:queue:delayed"
	activeKey    = "detection:queue:active"
	seqKey       = "detection:queue:seq"
	completedKey = "detection:counters:completed"
	failedKey    = "detection:counters:failed"
	runSetPrefix = "detection:run:"

	// retention of finished jobs for snapshot endpoints
	completedCap = 1000
	completedTTL = time.Hour
	failedCap    = 500
	failedTTL    = 24 * time.Hour

	// enumeration caps for inspection calls
	snapshotWaitingLimit = 1000
	snapshotDelayedLimit = 1000
	snapshotActiveLimit  = 100

	defaultMaxAttempts = 3
	retryBaseDelay     = 5 * time.Second

	runSetTTL = 24 * time.Hour
)

// Job is one queued probe. The id embeds channel, model, endpoint,
// enqueue timestamp and a sequence number: duplicates across separate
// enqueues stay distinct while retries keep their identity.
type Job struct {
	Id string `json:"id"`
	detector.Input
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"maxAttempts"`
	EnqueuedAt  int64  `json:"enqueuedAt"`
	LastError   string `json:"lastError,omitempty"`
}

func (j *Job) encode() string {
	buf, _ := json.Marshal(j)
	return string(buf)
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, errors.Wrap(err, "decode job")
	}
	return &j, nil
}

// NewJob stamps a deterministic id onto the probe input.
func NewJob(ctx context.Context, in detector.Input) (*Job, error) {
	seq, err := common.RDB.Incr(ctx, seqKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "next job sequence")
	}
	now := time.Now().UnixMilli()
	return &Job{
		Id:          fmt.Sprintf("%d-%d-%s-%d-%d", in.ChannelId, in.ModelId, in.Endpoint, now, seq),
		Input:       in,
		MaxAttempts: defaultMaxAttempts,
		EnqueuedAt:  now,
	}, nil
}

// Enqueue pushes jobs onto the waiting list and registers their
// endpoints in the per-model run set used for isModelComplete.
func Enqueue(ctx context.Context, jobs []*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	pipe := common.RDB.Pipeline()
	for _, j := range jobs {
		pipe.LPush(ctx, waitingKey, j.encode())
		runKey := runSetPrefix + strconv.Itoa(j.ModelId)
		pipe.SAdd(ctx, runKey, string(j.Endpoint))
		pipe.Expire(ctx, runKey, runSetTTL)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "enqueue jobs")
}

// EnqueueDelayed parks the job until readyAt.
func EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	err := common.RDB.ZAdd(ctx, delayedKey, &redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: job.encode(),
	}).Err()
	return errors.Wrap(err, "enqueue delayed job")
}

// PromoteDueJobs moves delayed jobs whose time has come back onto the
// waiting list.
func PromoteDueJobs(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := common.RDB.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 100,
	}).Result()
	if err != nil || len(due) == 0 {
		return errors.Wrap(err, "list due jobs")
	}
	pipe := common.RDB.Pipeline()
	for _, raw := range due {
		pipe.ZRem(ctx, delayedKey, raw)
		pipe.LPush(ctx, waitingKey, raw)
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "promote due jobs")
}

// Lease pops the oldest waiting job and registers it active. Returns
// nil when the queue is empty.
func Lease(ctx context.Context) (*Job, error) {
	raw, err := common.RDB.RPop(ctx, waitingKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "lease job")
	}
	job, err := decodeJob(raw)
	if err != nil {
		return nil, err
	}
	if err := common.RDB.HSet(ctx, activeKey, job.Id, raw).Err(); err != nil {
		return nil, errors.Wrap(err, "register active job")
	}
	return job, nil
}

func removeActive(ctx context.Context, job *Job) {
	common.RDB.HDel(ctx, activeKey, job.Id)
}

// finishRun removes the endpoint from the model's pending set and
// reports whether this probe completed the model for the current run.
func finishRun(ctx context.Context, job *Job) bool {
	runKey := runSetPrefix + strconv.Itoa(job.ModelId)
	pipe := common.RDB.Pipeline()
	pipe.SRem(ctx, runKey, string(job.Endpoint))
	card := pipe.SCard(ctx, runKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false
	}
	return card.Val() == 0
}

// Complete records a finished job on the capped completed list.
func Complete(ctx context.Context, job *Job) bool {
	removeActive(ctx, job)
	pipe := common.RDB.Pipeline()
	pipe.LPush(ctx, completedKey, job.encode())
	pipe.LTrim(ctx, completedKey, 0, completedCap-1)
	pipe.Expire(ctx, completedKey, completedTTL)
	_, _ = pipe.Exec(ctx)
	return finishRun(ctx, job)
}

// Fail records a terminally failed job on the capped failed list.
func Fail(ctx context.Context, job *Job, message string) bool {
	removeActive(ctx, job)
	job.LastError = message
	pipe := common.RDB.Pipeline()
	pipe.LPush(ctx, failedKey, job.encode())
	pipe.LTrim(ctx, failedKey, 0, failedCap-1)
	pipe.Expire(ctx, failedKey, failedTTL)
	_, _ = pipe.Exec(ctx)
	return finishRun(ctx, job)
}

// RetryDelay is the exponential backoff applied before attempt n+1.
func RetryDelay(attempts int) time.Duration {
	d := retryBaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// Requeue puts a leased job back with a delay, e.g. when a semaphore
// refused admission. The attempt counter is untouched.
func Requeue(ctx context.Context, job *Job, delay time.Duration) error {
	removeActive(ctx, job)
	return EnqueueDelayed(ctx, job, delay)
}

// QueueCounts is the queue inspection snapshot served by the detect API.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func Counts(ctx context.Context) (QueueCounts, error) {
	pipe := common.RDB.Pipeline()
	waiting := pipe.LLen(ctx, waitingKey)
	active := pipe.HLen(ctx, activeKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	completed := pipe.LLen(ctx, completedKey)
	failed := pipe.LLen(ctx, failedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return QueueCounts{}, errors.Wrap(err, "queue counts")
	}
	return QueueCounts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// HasPendingJobs reports whether any job is waiting, delayed or active;
// a fresh trigger refuses while this holds.
func HasPendingJobs(ctx context.Context) (bool, error) {
	counts, err := Counts(ctx)
	if err != nil {
		return false, err
	}
	return counts.Waiting > 0 || counts.Active > 0 || counts.Delayed > 0, nil
}

// PendingJobs enumerates queued and active jobs under the paging caps.
func PendingJobs(ctx context.Context) ([]*Job, error) {
	var jobs []*Job
	waiting, err := common.RDB.LRange(ctx, waitingKey, 0, snapshotWaitingLimit-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "list waiting jobs")
	}
	delayed, err := common.RDB.ZRange(ctx, delayedKey, 0, snapshotDelayedLimit-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "list delayed jobs")
	}
	active, err := common.RDB.HVals(ctx, activeKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "list active jobs")
	}
	if len(active) > snapshotActiveLimit {
		active = active[:snapshotActiveLimit]
	}
	for _, raw := range append(append(waiting, delayed...), active...) {
		if job, err := decodeJob(raw); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// ChannelHasPendingJobs reports whether any queued or active job
// targets the channel.
func ChannelHasPendingJobs(ctx context.Context, channelId int) (bool, error) {
	jobs, err := PendingJobs(ctx)
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		if j.ChannelId == channelId {
			return true, nil
		}
	}
	return false, nil
}

// DropQueued clears waiting and delayed jobs, returning how many were
// removed. Active jobs are handled by their workers via cancellation.
func DropQueued(ctx context.Context) (int64, error) {
	pipe := common.RDB.Pipeline()
	waiting := pipe.LLen(ctx, waitingKey)
	delayed := pipe.ZCard(ctx, delayedKey)
	pipe.Del(ctx, waitingKey, delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "drop queued jobs")
	}
	// run sets describe a cancelled run now
	if keys, err := common.RDB.Keys(ctx, runSetPrefix+"*").Result(); err == nil && len(keys) > 0 {
		common.RDB.Del(ctx, keys...)
	}
	return waiting.Val() + delayed.Val(), nil
}

// ClearFinished wipes the completed/failed retention lists, used when a
// fresh detection run starts.
func ClearFinished(ctx context.Context) error {
	err := common.RDB.Del(ctx, completedKey, failedKey).Err()
	return errors.Wrap(err, "clear finished lists")
}
