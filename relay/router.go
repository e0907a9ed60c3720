package relay

import (
	"strings"

	"github.com/fuchsia74/modelcheck/model"
)

// Route is the resolved forwarding target for one inbound request.
type Route struct {
	ChannelId       int
	ChannelName     string
	BaseURL         string
	UpstreamKey     string
	ChannelProxy    string
	ActualModelName string
	ModelId         int
	LastStatus      int
}

// ParseModelSpec splits a requested model of the form
// "<channelName>/<model>" into its channel filter and upstream model
// name. A missing or empty prefix means any enabled channel may match.
func ParseModelSpec(spec string) (channelName string, modelName string) {
	if idx := strings.Index(spec, "/"); idx > 0 {
		return spec[:idx], spec[idx+1:]
	}
	return "", spec
}

// Resolve maps (proxy key, requested model) onto the first matching
// enabled channel, honoring the key's permission policy. Returns nil
// when nothing matches or the key is denied; the caller answers 404
// either way, permission failures are indistinguishable from absence.
func Resolve(spec string, key *model.ProxyKey) (*Route, error) {
	channelName, modelName := ParseModelSpec(spec)
	if modelName == "" {
		return nil, nil
	}
	m, channel, err := model.FindModelForRouting(channelName, modelName)
	if err != nil {
		return nil, err
	}
	if m == nil || channel == nil {
		return nil, nil
	}
	if key != nil && !key.Allows(channel.Id, m.Id) {
		return nil, nil
	}
	return &Route{
		ChannelId:       channel.Id,
		ChannelName:     channel.Name,
		BaseURL:         channel.BaseURL,
		UpstreamKey:     channel.NextKey(),
		ChannelProxy:    channel.Proxy,
		ActualModelName: m.Name,
		ModelId:         m.Id,
		LastStatus:      m.LastStatus,
	}, nil
}

// ListedModel is one entry of the gateway's /v1/models response.
type ListedModel struct {
	Id      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels enumerates "<channel>/<model>" ids visible to the key:
// models with at least one historical success on an enabled channel,
// filtered by the permission predicate. Denied entries are omitted.
func ListModels(key *model.ProxyKey) ([]ListedModel, error) {
	channels, err := model.GetEnabledChannels()
	if err != nil {
		return nil, err
	}
	list := make([]ListedModel, 0)
	for _, ch := range channels {
		models, err := model.GetModelsByChannel(ch.Id)
		if err != nil {
			return nil, err
		}
		for _, m := range models {
			if !m.Detected() {
				continue
			}
			if key != nil && !key.Allows(ch.Id, m.Id) {
				continue
			}
			list = append(list, ListedModel{
				Id:      ch.Name + "/" + m.Name,
				Object:  "model",
				Created: 0,
				OwnedBy: ch.Name,
			})
		}
	}
	return list, nil
}
