package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/fuchsia74/modelcheck/common/helper"
)

const (
	ModelStatusNever       = 0
	ModelStatusReachable   = 1
	ModelStatusUnreachable = 2
)

// Model is a (channel, model-name) pair known to the gateway.
// DetectedEndpoints accumulates every endpoint type that succeeded at
// least once; a later failure refreshes LastStatus but never removes
// an entry, so transient errors do not un-detect an endpoint.
type Model struct {
	Id                int    `json:"id"`
	ChannelId         int    `json:"channel_id" gorm:"uniqueIndex:idx_models_channel_name"`
	Name              string `json:"name" gorm:"uniqueIndex:idx_models_channel_name;size:191"`
	DetectedEndpoints string `json:"detected_endpoints" gorm:"type:text"`
	LastStatus        int    `json:"last_status" gorm:"default:0"`
	LastLatencyMs     int64  `json:"last_latency_ms"`
	LastCheckedAt     int64  `json:"last_checked_at" gorm:"bigint"`
	CreatedTime       int64  `json:"created_time" gorm:"bigint"`
}

// EndpointList decodes the detected-endpoints JSON array.
func (m *Model) EndpointList() []string {
	if m.DetectedEndpoints == "" {
		return nil
	}
	var endpoints []string
	if err := json.Unmarshal([]byte(m.DetectedEndpoints), &endpoints); err != nil {
		return nil
	}
	return endpoints
}

func (m *Model) HasDetectedEndpoint(endpoint string) bool {
	for _, e := range m.EndpointList() {
		if e == endpoint {
			return true
		}
	}
	return false
}

// Detected reports whether any probe ever succeeded; only detected
// models are listed on /v1/models.
func (m *Model) Detected() bool {
	return len(m.EndpointList()) > 0
}

func GetModelById(id int) (*Model, error) {
	var m Model
	if err := DB.First(&m, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get model %d", id)
	}
	return &m, nil
}

func GetModelsByChannel(channelId int) ([]*Model, error) {
	var models []*Model
	err := DB.Where("channel_id = ?", channelId).Order("name asc").Find(&models).Error
	return models, errors.Wrap(err, "get models by channel")
}

func GetModelsByIds(ids []int) ([]*Model, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var models []*Model
	err := DB.Where("id IN ?", ids).Find(&models).Error
	return models, errors.Wrap(err, "get models by ids")
}

// FindModelForRouting returns the first enabled channel owning name,
// optionally restricted to one channel name. Selection order is the
// channel's (sort, name, id), so identical inputs pick the same row.
func FindModelForRouting(channelName string, modelName string) (*Model, *Channel, error) {
	channels, err := GetEnabledChannels()
	if err != nil {
		return nil, nil, err
	}
	for _, ch := range channels {
		if channelName != "" && ch.Name != channelName {
			continue
		}
		var m Model
		err := DB.Where("channel_id = ? AND name = ?", ch.Id, modelName).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "find model for routing")
		}
		return &m, ch, nil
	}
	return nil, nil, nil
}

// UpsertModel inserts the (channel, name) row when missing and returns
// it either way.
func UpsertModel(channelId int, name string) (*Model, bool, error) {
	var m Model
	err := DB.Where("channel_id = ? AND name = ?", channelId, name).First(&m).Error
	if err == nil {
		return &m, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, errors.Wrap(err, "lookup model")
	}
	m = Model{
		ChannelId:   channelId,
		Name:        name,
		LastStatus:  ModelStatusNever,
		CreatedTime: helper.GetTimestamp(),
	}
	if err := DB.Create(&m).Error; err != nil {
		// lost a concurrent insert race on the unique index; re-read
		var again Model
		if err2 := DB.Where("channel_id = ? AND name = ?", channelId, name).First(&again).Error; err2 == nil {
			return &again, false, nil
		}
		return nil, false, errors.Wrap(err, "insert model")
	}
	return &m, true, nil
}

// RecordProbeSuccess refreshes the row after a successful probe and
// adds endpoint to the detected set.
func RecordProbeSuccess(modelId int, endpoint string, latencyMs int64) error {
	return errors.Wrap(DB.Transaction(func(tx *gorm.DB) error {
		var m Model
		if err := tx.First(&m, "id = ?", modelId).Error; err != nil {
			return err
		}
		endpoints := m.EndpointList()
		found := false
		for _, e := range endpoints {
			if e == endpoint {
				found = true
				break
			}
		}
		if !found {
			endpoints = append(endpoints, endpoint)
		}
		buf, err := json.Marshal(endpoints)
		if err != nil {
			return err
		}
		return tx.Model(&Model{}).Where("id = ?", modelId).Updates(map[string]any{
			"detected_endpoints": string(buf),
			"last_status":        ModelStatusReachable,
			"last_latency_ms":    latencyMs,
			"last_checked_at":    helper.GetTimestamp(),
		}).Error
	}), "record probe success")
}

// RecordProbeFailure refreshes status and timestamp only; the detected
// set is left untouched.
func RecordProbeFailure(modelId int) error {
	return errors.Wrap(DB.Model(&Model{}).Where("id = ?", modelId).Updates(map[string]any{
		"last_status":     ModelStatusUnreachable,
		"last_checked_at": helper.GetTimestamp(),
	}).Error, "record probe failure")
}

func DeleteModelById(id int) error {
	return errors.Wrap(DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("model_id = ?", id).Delete(&ProbeLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Model{}, "id = ?", id).Error
	}), "delete model")
}
