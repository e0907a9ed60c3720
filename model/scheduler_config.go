package model

import (
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/common/helper"
)

const schedulerConfigId = 1

// SchedulerConfig is the singleton row driving cron-triggered
// detection. Updates replace the whole row atomically; the scheduler
// rebuilds its cron entry afterwards.
type SchedulerConfig struct {
	Id                 int    `json:"id" gorm:"primaryKey"`
	Enabled            bool   `json:"enabled"`
	Cron               string `json:"cron"`
	Timezone           string `json:"timezone"`
	ChannelConcurrency int    `json:"channel_concurrency"`
	GlobalConcurrency  int    `json:"global_concurrency"`
	MinDelayMs         int    `json:"min_delay_ms"`
	MaxDelayMs         int    `json:"max_delay_ms"`
	ProbeAll           bool   `json:"probe_all"`
	ChannelIds         string `json:"channel_ids" gorm:"type:text"`
	ModelIds           string `json:"model_ids" gorm:"type:text"`
	SyncBeforeDetect   bool   `json:"sync_before_detect"`
	UpdatedTime        int64  `json:"updated_time" gorm:"bigint"`
}

// SelectedChannelIds decodes the channel selection used when ProbeAll
// is false.
func (s *SchedulerConfig) SelectedChannelIds() []int {
	return decodeIntList(s.ChannelIds)
}

// SelectedModelIds decodes the per-channel model selection, keyed by
// channel id.
func (s *SchedulerConfig) SelectedModelIds() map[int][]int {
	if s.ModelIds == "" {
		return nil
	}
	var m map[int][]int
	if err := json.Unmarshal([]byte(s.ModelIds), &m); err != nil {
		return nil
	}
	return m
}

// GetSchedulerConfig loads the singleton, seeding it from process-wide
// defaults on first access.
func GetSchedulerConfig() (*SchedulerConfig, error) {
	var cfg SchedulerConfig
	err := DB.First(&cfg, "id = ?", schedulerConfigId).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "get scheduler config")
	}
	cfg = SchedulerConfig{
		Id:                 schedulerConfigId,
		Enabled:            config.AutoDetectEnabled,
		Cron:               config.CronSchedule,
		Timezone:           config.CronTimezone,
		ChannelConcurrency: config.ChannelConcurrency,
		GlobalConcurrency:  config.MaxGlobalConcurrency,
		MinDelayMs:         config.DetectionMinDelayMs,
		MaxDelayMs:         config.DetectionMaxDelayMs,
		ProbeAll:           true,
		UpdatedTime:        helper.GetTimestamp(),
	}
	if err := DB.Create(&cfg).Error; err != nil {
		// another node may have seeded concurrently
		var again SchedulerConfig
		if err2 := DB.First(&again, "id = ?", schedulerConfigId).Error; err2 == nil {
			return &again, nil
		}
		return nil, errors.Wrap(err, "seed scheduler config")
	}
	return &cfg, nil
}

func (s *SchedulerConfig) Update() error {
	s.Id = schedulerConfigId
	s.UpdatedTime = helper.GetTimestamp()
	return errors.Wrap(DB.Save(s).Error, "update scheduler config")
}
