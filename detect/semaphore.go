package detect

import (
	"context"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/go-redis/redis/v8"

	"github.com/fuchsia74/modelcheck/common"
)

// Shared-memory key layout. Counters are compare-and-set via Lua so
// concurrent workers on different nodes observe the same caps.
const (
	stopFlagKey      = "detection:stopped"
	globalSemKey     = "detection:semaphore:global"
	channelSemPrefix = "detection:semaphore:channel:"

	stopFlagTTL = time.Hour
)

var acquireScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur < tonumber(ARGV[1]) then
  redis.call('INCR', KEYS[1])
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur > 0 then
  redis.call('DECR', KEYS[1])
end
return 1
`)

func channelSemKey(channelId int) string {
	return channelSemPrefix + strconv.Itoa(channelId)
}

// AcquireGlobal tries to take a global probe slot below cap.
func AcquireGlobal(ctx context.Context, cap int) (bool, error) {
	n, err := acquireScript.Run(ctx, common.RDB, []string{globalSemKey}, cap).Int()
	if err != nil {
		return false, errors.Wrap(err, "acquire global semaphore")
	}
	return n == 1, nil
}

func ReleaseGlobal(ctx context.Context) error {
	err := releaseScript.Run(ctx, common.RDB, []string{globalSemKey}).Err()
	return errors.Wrap(err, "release global semaphore")
}

// AcquireChannel tries to take a per-channel probe slot below cap.
func AcquireChannel(ctx context.Context, channelId int, cap int) (bool, error) {
	n, err := acquireScript.Run(ctx, common.RDB, []string{channelSemKey(channelId)}, cap).Int()
	if err != nil {
		return false, errors.Wrap(err, "acquire channel semaphore")
	}
	return n == 1, nil
}

func ReleaseChannel(ctx context.Context, channelId int) error {
	err := releaseScript.Run(ctx, common.RDB, []string{channelSemKey(channelId)}).Err()
	return errors.Wrap(err, "release channel semaphore")
}

// ResetSemaphores zeroes every counter. Part of pause-and-drain: any
// slot still held belongs to a job being cancelled.
func ResetSemaphores(ctx context.Context) error {
	keys := []string{globalSemKey}
	iter, err := common.RDB.Keys(ctx, channelSemPrefix+"*").Result()
	if err != nil {
		return errors.Wrap(err, "list channel semaphores")
	}
	keys = append(keys, iter...)
	if err := common.RDB.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "reset semaphores")
	}
	return nil
}

// SemaphoreCounts reports current counter values for snapshots.
func SemaphoreCounts(ctx context.Context) (global int, perChannel map[string]int, err error) {
	global, _ = common.RDB.Get(ctx, globalSemKey).Int()
	perChannel = map[string]int{}
	keys, err := common.RDB.Keys(ctx, channelSemPrefix+"*").Result()
	if err != nil {
		return 0, nil, errors.Wrap(err, "list channel semaphores")
	}
	for _, k := range keys {
		n, _ := common.RDB.Get(ctx, k).Int()
		perChannel[k[len(channelSemPrefix):]] = n
	}
	return global, perChannel, nil
}

// SetStopFlag halts the probing engine. The TTL guards against a flag
// leaking forever if no detection ever restarts.
func SetStopFlag(ctx context.Context) error {
	err := common.RDB.Set(ctx, stopFlagKey, "1", stopFlagTTL).Err()
	return errors.Wrap(err, "set stop flag")
}

// ClearStopFlag re-arms the engine; called on every fresh detection
// start.
func ClearStopFlag(ctx context.Context) error {
	err := common.RDB.Del(ctx, stopFlagKey).Err()
	return errors.Wrap(err, "clear stop flag")
}

// IsStopped is polled by workers before each job lease.
func IsStopped(ctx context.Context) bool {
	n, err := common.RDB.Exists(ctx, stopFlagKey).Result()
	return err == nil && n > 0
}
