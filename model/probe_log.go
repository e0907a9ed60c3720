package model

import (
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/fuchsia74/modelcheck/common/helper"
)

const (
	ProbeStatusSuccess = "SUCCESS"
	ProbeStatusFail    = "FAIL"
)

const probeLogFieldLimit = 500

// ProbeLog is the append-only outcome of a single probe. Rows are never
// mutated; the retention job purges old ones.
type ProbeLog struct {
	Id              int    `json:"id"`
	ModelId         int    `json:"model_id" gorm:"index:idx_probe_logs_model_created"`
	ChannelId       int    `json:"channel_id" gorm:"index"`
	Endpoint        string `json:"endpoint" gorm:"size:16"`
	Status          string `json:"status" gorm:"size:16"`
	LatencyMs       int64  `json:"latency_ms"`
	UpstreamStatus  int    `json:"upstream_status"`
	ErrorMessage    string `json:"error_message" gorm:"type:text"`
	ResponsePreview string `json:"response_preview" gorm:"type:text"`
	CreatedAt       int64  `json:"created_at" gorm:"bigint;index:idx_probe_logs_model_created;index:idx_probe_logs_created"`
}

func (l *ProbeLog) Insert() error {
	l.CreatedAt = helper.GetTimestamp()
	l.ErrorMessage = helper.Truncate(l.ErrorMessage, probeLogFieldLimit)
	l.ResponsePreview = helper.Truncate(l.ResponsePreview, probeLogFieldLimit)
	return errors.Wrap(DB.Create(l).Error, "insert probe log")
}

func GetProbeLogs(modelId int, startIdx int, num int) ([]*ProbeLog, error) {
	var logs []*ProbeLog
	tx := DB.Order("created_at desc, id desc").Limit(num).Offset(startIdx)
	if modelId != 0 {
		tx = tx.Where("model_id = ?", modelId)
	}
	err := tx.Find(&logs).Error
	return logs, errors.Wrap(err, "get probe logs")
}

// DeleteOldProbeLogs purges rows older than the retention window and
// returns the number removed.
func DeleteOldProbeLogs(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result := DB.Where("created_at < ?", cutoff).Delete(&ProbeLog{})
	return result.RowsAffected, errors.Wrap(result.Error, "delete old probe logs")
}

// HasSuccessfulProbe reports whether the model ever produced a SUCCESS
// row for any endpoint.
func HasSuccessfulProbe(modelId int) (bool, error) {
	var count int64
	err := DB.Model(&ProbeLog{}).
		Where("model_id = ? AND status = ?", modelId, ProbeStatusSuccess).
		Limit(1).Count(&count).Error
	return count > 0, errors.Wrap(err, "check successful probe")
}
