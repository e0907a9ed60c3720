package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelKeys(t *testing.T) {
	c := &Channel{Key: "sk-one\n sk-two \n\nsk-three\n"}
	assert.Equal(t, []string{"sk-one", "sk-two", "sk-three"}, c.Keys())

	c = &Channel{Key: "sk-single"}
	assert.Equal(t, []string{"sk-single"}, c.Keys())

	c = &Channel{}
	assert.Empty(t, c.Keys())
}

func TestChannelNextKeyRoundRobin(t *testing.T) {
	c := &Channel{Id: 901, Key: "a\nb\nc"}
	got := []string{c.NextKey(), c.NextKey(), c.NextKey(), c.NextKey()}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)

	single := &Channel{Id: 902, Key: "only"}
	assert.Equal(t, "only", single.NextKey())
	assert.Equal(t, "only", single.NextKey())
}

func TestChannelModelFilterTerms(t *testing.T) {
	c := &Channel{ModelFilter: "GPT, claude ,"}
	assert.Equal(t, []string{"gpt", "claude"}, c.ModelFilterTerms())
	assert.Nil(t, (&Channel{}).ModelFilterTerms())
}

func TestChannelCRUDAndCascade(t *testing.T) {
	setupTestDB(t)

	channel := &Channel{Name: "upstream", BaseURL: "https://u.example", Key: "K", Status: ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	require.NotZero(t, channel.Id)

	m, created, err := UpsertModel(channel.Id, "gpt-4o")
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = UpsertModel(channel.Id, "gpt-4o")
	require.NoError(t, err)
	assert.False(t, created, "second upsert must not duplicate")

	log := &ProbeLog{ModelId: m.Id, ChannelId: channel.Id, Endpoint: "CHAT", Status: ProbeStatusSuccess}
	require.NoError(t, log.Insert())

	require.NoError(t, channel.Delete())

	models, err := GetModelsByChannel(channel.Id)
	require.NoError(t, err)
	assert.Empty(t, models, "deleting a channel cascades to models")

	logs, err := GetProbeLogs(m.Id, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, logs, "deleting a channel cascades to probe logs")
}

func TestGetEnabledChannelsOrdering(t *testing.T) {
	setupTestDB(t)

	for _, c := range []*Channel{
		{Name: "zeta", BaseURL: "https://z.example", Key: "K", Status: ChannelStatusEnabled, Sort: 1},
		{Name: "alpha", BaseURL: "https://a.example", Key: "K", Status: ChannelStatusEnabled, Sort: 1},
		{Name: "first", BaseURL: "https://f.example", Key: "K", Status: ChannelStatusEnabled, Sort: 0},
		{Name: "off", BaseURL: "https://o.example", Key: "K", Status: ChannelStatusDisabled},
	} {
		require.NoError(t, c.Insert())
	}

	channels, err := GetEnabledChannels()
	require.NoError(t, err)
	require.Len(t, channels, 3)
	assert.Equal(t, "first", channels[0].Name)
	assert.Equal(t, "alpha", channels[1].Name)
	assert.Equal(t, "zeta", channels[2].Name)
}

func TestFindChannelByTuple(t *testing.T) {
	setupTestDB(t)

	c := &Channel{Name: "upstream", BaseURL: "https://u.example", Key: "K1", Status: ChannelStatusEnabled}
	require.NoError(t, c.Insert())

	found, err := FindChannelByTuple("https://u.example", "K1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, c.Id, found.Id)

	missing, err := FindChannelByTuple("https://u.example", "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
