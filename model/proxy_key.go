package model

import (
	"encoding/json"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/fuchsia74/modelcheck/common/helper"
	"github.com/fuchsia74/modelcheck/common/logger"
	"github.com/fuchsia74/modelcheck/common/random"
)

const (
	ProxyKeyStatusEnabled  = 1
	ProxyKeyStatusDisabled = 2
)

// keyCache short-circuits the per-request key lookup on the relay hot
// path. Entries are dropped when the row is updated, regenerated or
// deleted; Touch leaves them in place, so cached usage fields go stale.
var keyCache = gocache.New(30*time.Second, time.Minute)

// ProxyKey is a credential accepted at the gateway boundary. When
// AllowAll is false, access requires membership in either allow-list;
// two empty lists deny everything.
type ProxyKey struct {
	Id                int    `json:"id"`
	Name              string `json:"name"`
	Key               string `json:"key" gorm:"uniqueIndex;size:64"`
	Status            int    `json:"status" gorm:"default:1"`
	AllowAll          bool   `json:"allow_all"`
	AllowedChannelIds string `json:"allowed_channel_ids" gorm:"type:text"`
	AllowedModelIds   string `json:"allowed_model_ids" gorm:"type:text"`
	LastUsedAt        int64  `json:"last_used_at" gorm:"bigint"`
	UsageCount        int64  `json:"usage_count" gorm:"default:0"`
	CreatedTime       int64  `json:"created_time" gorm:"bigint"`
	UpdatedTime       int64  `json:"updated_time" gorm:"bigint"`
}

func (k *ProxyKey) Enabled() bool {
	return k.Status == ProxyKeyStatusEnabled
}

func decodeIntList(raw string) []int {
	if raw == "" {
		return nil
	}
	var ids []int
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

func (k *ProxyKey) ChannelIds() []int { return decodeIntList(k.AllowedChannelIds) }
func (k *ProxyKey) ModelIds() []int   { return decodeIntList(k.AllowedModelIds) }

// Allows applies the permission predicate of the gateway: allow-all
// wins, otherwise channel OR model membership.
func (k *ProxyKey) Allows(channelId int, modelId int) bool {
	if k.AllowAll {
		return true
	}
	for _, id := range k.ChannelIds() {
		if id == channelId {
			return true
		}
	}
	for _, id := range k.ModelIds() {
		if id == modelId {
			return true
		}
	}
	return false
}

// GetProxyKeyByValue resolves a presented secret to its row, serving
// repeats from cache.
func GetProxyKeyByValue(value string) (*ProxyKey, error) {
	if value == "" {
		return nil, errors.New("empty key")
	}
	if cached, ok := keyCache.Get(value); ok {
		return cached.(*ProxyKey), nil
	}
	var key ProxyKey
	err := DB.Where(map[string]any{"key": value}).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get proxy key by value")
	}
	keyCache.SetDefault(value, &key)
	return &key, nil
}

// Touch bumps the usage counter and last-used timestamp. Called
// fire-and-forget from the auth path.
func (k *ProxyKey) Touch() {
	err := DB.Model(&ProxyKey{}).Where("id = ?", k.Id).Updates(map[string]any{
		"usage_count":  gorm.Expr("usage_count + 1"),
		"last_used_at": helper.GetTimestamp(),
	}).Error
	if err != nil {
		logger.Logger.Warn("failed to touch proxy key", zap.Int("id", k.Id), zap.Error(err))
	}
}

func GetAllProxyKeys(startIdx int, num int) ([]*ProxyKey, error) {
	var keys []*ProxyKey
	err := DB.Order("id desc").Limit(num).Offset(startIdx).Find(&keys).Error
	return keys, errors.Wrap(err, "get all proxy keys")
}

func GetProxyKeyById(id int) (*ProxyKey, error) {
	var key ProxyKey
	if err := DB.First(&key, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(err, "get proxy key %d", id)
	}
	return &key, nil
}

func (k *ProxyKey) Insert() error {
	if k.Key == "" {
		k.Key = "sk-" + random.GenerateKey()
	}
	k.CreatedTime = helper.GetTimestamp()
	k.UpdatedTime = k.CreatedTime
	return errors.Wrap(DB.Create(k).Error, "insert proxy key")
}

func (k *ProxyKey) Update() error {
	old, err := GetProxyKeyById(k.Id)
	if err != nil {
		return err
	}
	k.UpdatedTime = helper.GetTimestamp()
	err = DB.Model(k).Select(
		"name", "status", "allow_all", "allowed_channel_ids", "allowed_model_ids", "updated_time",
	).Updates(k).Error
	if err != nil {
		return errors.Wrap(err, "update proxy key")
	}
	keyCache.Delete(old.Key)
	return nil
}

// Regenerate replaces the secret value, invalidating the old one.
func (k *ProxyKey) Regenerate() error {
	oldKey := k.Key
	k.Key = "sk-" + random.GenerateKey()
	k.UpdatedTime = helper.GetTimestamp()
	err := DB.Model(k).Select("key", "updated_time").Updates(k).Error
	if err != nil {
		return errors.Wrap(err, "regenerate proxy key")
	}
	keyCache.Delete(oldKey)
	return nil
}

func (k *ProxyKey) Delete() error {
	if err := DB.Delete(k).Error; err != nil {
		return errors.Wrap(err, "delete proxy key")
	}
	keyCache.Delete(k.Key)
	return nil
}
