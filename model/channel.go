package model

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Laisky/errors/v2"
	"gorm.io/gorm"

	"github.com/fuchsia74/modelcheck/common/helper"
)

const (
	ChannelStatusEnabled  = 1 // don't use 0, 0 is the default value!
	ChannelStatusDisabled = 2
)

// Channel is a configured upstream provider. Key may hold several
// upstream secrets separated by newlines; NextKey round-robins across
// them.
type Channel struct {
	Id          int    `json:"id"`
	Name        string `json:"name" gorm:"index"`
	BaseURL     string `json:"base_url" gorm:"column:base_url"`
	Key         string `json:"key" gorm:"type:text"`
	Proxy       string `json:"proxy"`
	Status      int    `json:"status" gorm:"default:1"`
	Sort        int    `json:"sort" gorm:"default:0"`
	ModelFilter string `json:"model_filter" gorm:"type:text"`
	CreatedTime int64  `json:"created_time" gorm:"bigint"`
	UpdatedTime int64  `json:"updated_time" gorm:"bigint"`
}

func (c *Channel) Enabled() bool {
	return c.Status == ChannelStatusEnabled
}

// Keys splits the newline-delimited credential into individual secrets.
func (c *Channel) Keys() []string {
	parts := strings.Split(c.Key, "\n")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

// roundRobin holds advisory per-channel cursors for multi-key
// credentials. Not persisted; recomputed from zero after restart and
// dropped whenever the channel row is edited.
var roundRobin sync.Map

// NextKey selects the upstream secret for the next request. Single-key
// channels always return that key.
func (c *Channel) NextKey() string {
	keys := c.Keys()
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	}
	v, _ := roundRobin.LoadOrStore(c.Id, new(uint64))
	n := atomic.AddUint64(v.(*uint64), 1)
	return keys[(n-1)%uint64(len(keys))]
}

// ModelFilterTerms returns the lowercase comma-separated keyword filter
// applied during model-list sync, nil when unset.
func (c *Channel) ModelFilterTerms() []string {
	raw := strings.TrimSpace(c.ModelFilter)
	if raw == "" {
		return nil
	}
	var terms []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

func GetAllChannels(startIdx int, num int) ([]*Channel, error) {
	var channels []*Channel
	err := DB.Order("sort asc, name asc, id asc").Limit(num).Offset(startIdx).Find(&channels).Error
	return channels, errors.Wrap(err, "get all channels")
}

// GetEnabledChannels yields enabled channels in deterministic router
// order: sort, then name, then id.
func GetEnabledChannels() ([]*Channel, error) {
	var channels []*Channel
	err := DB.Where("status = ?", ChannelStatusEnabled).
		Order("sort asc, name asc, id asc").Find(&channels).Error
	return channels, errors.Wrap(err, "get enabled channels")
}

func GetChannelById(id int) (*Channel, error) {
	channel := Channel{Id: id}
	err := DB.First(&channel, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "get channel %d", id)
	}
	return &channel, nil
}

func GetChannelCount() (int64, error) {
	var count int64
	err := DB.Model(&Channel{}).Count(&count).Error
	return count, errors.Wrap(err, "count channels")
}

func (c *Channel) Insert() error {
	c.CreatedTime = helper.GetTimestamp()
	c.UpdatedTime = c.CreatedTime
	if err := DB.Create(c).Error; err != nil {
		return errors.Wrap(err, "insert channel")
	}
	return nil
}

func (c *Channel) Update() error {
	c.UpdatedTime = helper.GetTimestamp()
	if err := DB.Model(c).Select(
		"name", "base_url", "key", "proxy", "status", "sort", "model_filter", "updated_time",
	).Updates(c).Error; err != nil {
		return errors.Wrap(err, "update channel")
	}
	// Editing the credential invalidates the advisory key cursor.
	roundRobin.Delete(c.Id)
	return nil
}

// Delete removes the channel and cascades to its models and their
// probe logs in one transaction.
func (c *Channel) Delete() error {
	return errors.Wrap(DB.Transaction(func(tx *gorm.DB) error {
		var modelIds []int
		if err := tx.Model(&Model{}).Where("channel_id = ?", c.Id).Pluck("id", &modelIds).Error; err != nil {
			return err
		}
		if len(modelIds) > 0 {
			if err := tx.Where("model_id IN ?", modelIds).Delete(&ProbeLog{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("channel_id = ?", c.Id).Delete(&Model{}).Error; err != nil {
			return err
		}
		return tx.Delete(c).Error
	}), "delete channel")
}

// FindChannelByTuple matches a channel by its (base_url, key) natural
// tuple, the dedup key used by import reconciliation.
func FindChannelByTuple(baseURL string, key string) (*Channel, error) {
	var channel Channel
	// map condition so gorm quotes the reserved "key" column per dialect
	err := DB.Where(map[string]any{"base_url": baseURL, "key": key}).First(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find channel by tuple")
	}
	return &channel, nil
}
