package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyKeyAllows(t *testing.T) {
	allowAll := &ProxyKey{AllowAll: true}
	assert.True(t, allowAll.Allows(1, 2))

	// empty lists deny everything
	denyAll := &ProxyKey{AllowAll: false}
	assert.False(t, denyAll.Allows(1, 2))

	byChannel := &ProxyKey{AllowedChannelIds: `[1,3]`}
	assert.True(t, byChannel.Allows(1, 99))
	assert.True(t, byChannel.Allows(3, 99))
	assert.False(t, byChannel.Allows(2, 99))

	byModel := &ProxyKey{AllowedModelIds: `[7]`}
	assert.True(t, byModel.Allows(99, 7))
	assert.False(t, byModel.Allows(99, 8))

	// channel OR model membership suffices
	both := &ProxyKey{AllowedChannelIds: `[1]`, AllowedModelIds: `[7]`}
	assert.True(t, both.Allows(1, 999))
	assert.True(t, both.Allows(999, 7))
	assert.False(t, both.Allows(2, 8))
}

func TestProxyKeyLifecycle(t *testing.T) {
	setupTestDB(t)

	key := &ProxyKey{Name: "ci", Status: ProxyKeyStatusEnabled, AllowAll: true}
	require.NoError(t, key.Insert())
	assert.NotEmpty(t, key.Key)
	assert.Contains(t, key.Key, "sk-")

	found, err := GetProxyKeyByValue(key.Key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, key.Id, found.Id)

	// unknown values resolve to nil, not an error
	missing, err := GetProxyKeyByValue("sk-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	oldValue := key.Key
	require.NoError(t, key.Regenerate())
	assert.NotEqual(t, oldValue, key.Key)

	stale, err := GetProxyKeyByValue(oldValue)
	require.NoError(t, err)
	assert.Nil(t, stale, "regenerated secret must stop resolving")

	require.NoError(t, key.Delete())
	gone, err := GetProxyKeyByValue(key.Key)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSchedulerConfigSeedAndUpdate(t *testing.T) {
	setupTestDB(t)

	cfg, err := GetSchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Id)
	assert.True(t, cfg.ProbeAll)
	assert.NotEmpty(t, cfg.Cron)
	assert.LessOrEqual(t, cfg.MinDelayMs, cfg.MaxDelayMs)

	cfg.Cron = "*/10 * * * *"
	cfg.Enabled = true
	cfg.ChannelIds = `[1,2]`
	cfg.ModelIds = `{"1":[10,11]}`
	require.NoError(t, cfg.Update())

	again, err := GetSchedulerConfig()
	require.NoError(t, err)
	assert.Equal(t, "*/10 * * * *", again.Cron)
	assert.True(t, again.Enabled)
	assert.Equal(t, []int{1, 2}, again.SelectedChannelIds())
	assert.Equal(t, map[int][]int{1: {10, 11}}, again.SelectedModelIds())
}
