package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordProbeSuccessAccumulatesEndpoints(t *testing.T) {
	setupTestDB(t)

	channel := &Channel{Name: "upstream", BaseURL: "https://u.example", Key: "K", Status: ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	m, _, err := UpsertModel(channel.Id, "claude-3-opus")
	require.NoError(t, err)
	assert.False(t, m.Detected())
	assert.Equal(t, ModelStatusNever, m.LastStatus)

	require.NoError(t, RecordProbeSuccess(m.Id, "CHAT", 120))
	require.NoError(t, RecordProbeSuccess(m.Id, "CLAUDE", 80))
	require.NoError(t, RecordProbeSuccess(m.Id, "CHAT", 90)) // set semantics

	got, err := GetModelById(m.Id)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"CHAT", "CLAUDE"}, got.EndpointList())
	assert.Equal(t, ModelStatusReachable, got.LastStatus)
	assert.Equal(t, int64(90), got.LastLatencyMs)
	assert.NotZero(t, got.LastCheckedAt)
	assert.True(t, got.Detected())
	assert.True(t, got.HasDetectedEndpoint("CLAUDE"))
}

func TestRecordProbeFailureKeepsDetectedEndpoints(t *testing.T) {
	setupTestDB(t)

	channel := &Channel{Name: "upstream", BaseURL: "https://u.example", Key: "K", Status: ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	m, _, err := UpsertModel(channel.Id, "gpt-4o")
	require.NoError(t, err)

	require.NoError(t, RecordProbeSuccess(m.Id, "CHAT", 100))
	require.NoError(t, RecordProbeFailure(m.Id))

	got, err := GetModelById(m.Id)
	require.NoError(t, err)
	assert.Equal(t, ModelStatusUnreachable, got.LastStatus)
	// a transient failure must not un-detect the endpoint
	assert.ElementsMatch(t, []string{"CHAT"}, got.EndpointList())
	assert.True(t, got.Detected())
}

func TestFindModelForRoutingFirstMatch(t *testing.T) {
	setupTestDB(t)

	a := &Channel{Name: "A", BaseURL: "https://a.example", Key: "KA", Status: ChannelStatusEnabled, Sort: 0}
	b := &Channel{Name: "B", BaseURL: "https://b.example", Key: "KB", Status: ChannelStatusEnabled, Sort: 1}
	require.NoError(t, a.Insert())
	require.NoError(t, b.Insert())
	_, _, err := UpsertModel(a.Id, "gpt-4o")
	require.NoError(t, err)
	mb, _, err := UpsertModel(b.Id, "gpt-4o")
	require.NoError(t, err)

	// no prefix: deterministic first match by sort order
	m, ch, err := FindModelForRouting("", "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "A", ch.Name)

	// explicit channel filter
	m, ch, err = FindModelForRouting("B", "gpt-4o")
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.Equal(t, "B", ch.Name)
	assert.Equal(t, mb.Id, m.Id)

	// unknown model
	m, ch, err = FindModelForRouting("", "nope")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Nil(t, ch)

	// disabled channels never match
	b.Status = ChannelStatusDisabled
	require.NoError(t, b.Update())
	m, ch, err = FindModelForRouting("B", "gpt-4o")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Nil(t, ch)
}

func TestHasSuccessfulProbe(t *testing.T) {
	setupTestDB(t)

	channel := &Channel{Name: "upstream", BaseURL: "https://u.example", Key: "K", Status: ChannelStatusEnabled}
	require.NoError(t, channel.Insert())
	m, _, err := UpsertModel(channel.Id, "gpt-4o")
	require.NoError(t, err)

	ok, err := HasSuccessfulProbe(m.Id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, (&ProbeLog{ModelId: m.Id, ChannelId: channel.Id, Endpoint: "CHAT", Status: ProbeStatusFail}).Insert())
	ok, err = HasSuccessfulProbe(m.Id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, (&ProbeLog{ModelId: m.Id, ChannelId: channel.Id, Endpoint: "CHAT", Status: ProbeStatusSuccess}).Insert())
	ok, err = HasSuccessfulProbe(m.Id)
	require.NoError(t, err)
	assert.True(t, ok)
}
