package controller

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/common/client"
	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/detect"
	"github.com/fuchsia74/modelcheck/model"
)

func respondError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"message": err.Error(),
	})
}

func respondData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "",
		"data":    data,
	})
}

func pageParams(c *gin.Context) (offset int, limit int) {
	p, _ := strconv.Atoi(c.Query("p"))
	if p < 0 {
		p = 0
	}
	size, _ := strconv.Atoi(c.Query("size"))
	if size <= 0 {
		size = config.DefaultItemsPerPage
	}
	if size > config.MaxItemsPerPage {
		size = config.MaxItemsPerPage
	}
	return p * size, size
}

func GetAllChannels(c *gin.Context) {
	offset, limit := pageParams(c)
	channels, err := model.GetAllChannels(offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	total, err := model.GetChannelCount()
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"items": channels, "total": total})
}

func GetChannel(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid channel id"))
		return
	}
	channel, err := model.GetChannelById(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, channel)
}

func validateChannel(channel *model.Channel) error {
	if strings.TrimSpace(channel.Name) == "" {
		return errors.New("channel name is required")
	}
	if strings.Contains(channel.Name, "/") {
		return errors.New("channel name must not contain '/'")
	}
	if !strings.HasPrefix(channel.BaseURL, "http://") && !strings.HasPrefix(channel.BaseURL, "https://") {
		return errors.New("base url must start with http:// or https://")
	}
	if channel.Proxy != "" {
		if err := client.ValidateProxyURL(channel.Proxy); err != nil {
			return err
		}
	}
	return nil
}

func AddChannel(c *gin.Context) {
	var channel model.Channel
	if err := c.ShouldBindJSON(&channel); err != nil {
		respondError(c, errors.Wrap(err, "invalid channel payload"))
		return
	}
	if err := validateChannel(&channel); err != nil {
		respondError(c, err)
		return
	}
	if channel.Status == 0 {
		channel.Status = model.ChannelStatusEnabled
	}
	if err := channel.Insert(); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, channel)
}

func UpdateChannel(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid channel id"))
		return
	}
	var channel model.Channel
	if err := c.ShouldBindJSON(&channel); err != nil {
		respondError(c, errors.Wrap(err, "invalid channel payload"))
		return
	}
	channel.Id = id
	if err := validateChannel(&channel); err != nil {
		respondError(c, err)
		return
	}
	if err := channel.Update(); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, channel)
}

func DeleteChannel(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid channel id"))
		return
	}
	channel, err := model.GetChannelById(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := channel.Delete(); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, nil)
}

// GetChannelModels lists the Model rows known for one channel.
func GetChannelModels(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid channel id"))
		return
	}
	models, err := model.GetModelsByChannel(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, models)
}

// SyncChannelModels fetches the channel's upstream /v1/models and
// merges previously-unknown names.
func SyncChannelModels(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		respondError(c, errors.New("invalid channel id"))
		return
	}
	channel, err := model.GetChannelById(id)
	if err != nil {
		respondError(c, err)
		return
	}
	result := detect.SyncChannelModels(gmw.Ctx(c), channel)
	if result.Error != "" {
		respondError(c, errors.New(result.Error))
		return
	}
	respondData(c, result)
}

// channelExport is the import/export wire shape, keyed for
// reconciliation by the (base_url, key) tuple.
type channelExport struct {
	Name        string `json:"name"`
	BaseURL     string `json:"base_url"`
	Key         string `json:"key"`
	Proxy       string `json:"proxy,omitempty"`
	Status      int    `json:"status,omitempty"`
	Sort        int    `json:"sort,omitempty"`
	ModelFilter string `json:"model_filter,omitempty"`
}

// ExportChannels dumps the channel list; the WebDAV mirror consumes
// this boundary.
func ExportChannels(c *gin.Context) {
	channels, err := model.GetAllChannels(0, config.MaxItemsPerPage*100)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]channelExport, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelExport{
			Name:        ch.Name,
			BaseURL:     ch.BaseURL,
			Key:         ch.Key,
			Proxy:       ch.Proxy,
			Status:      ch.Status,
			Sort:        ch.Sort,
			ModelFilter: ch.ModelFilter,
		})
	}
	respondData(c, out)
}

// ImportChannels reconciles an exported list: rows are matched by the
// (base_url, key) tuple, new tuples inserted, matches updated in place.
func ImportChannels(c *gin.Context) {
	var payload []channelExport
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondError(c, errors.Wrap(err, "invalid import payload"))
		return
	}
	lg := gmw.GetLogger(c)
	var created, updated int
	for _, item := range payload {
		existing, err := model.FindChannelByTuple(item.BaseURL, item.Key)
		if err != nil {
			respondError(c, err)
			return
		}
		if existing == nil {
			channel := model.Channel{
				Name:        item.Name,
				BaseURL:     item.BaseURL,
				Key:         item.Key,
				Proxy:       item.Proxy,
				Status:      item.Status,
				Sort:        item.Sort,
				ModelFilter: item.ModelFilter,
			}
			if channel.Status == 0 {
				channel.Status = model.ChannelStatusEnabled
			}
			if err := validateChannel(&channel); err != nil {
				lg.Warn("skipping invalid imported channel",
					zap.String("name", item.Name), zap.Error(err))
				continue
			}
			if err := channel.Insert(); err != nil {
				respondError(c, err)
				return
			}
			created++
			continue
		}
		existing.Name = item.Name
		existing.Proxy = item.Proxy
		existing.Sort = item.Sort
		existing.ModelFilter = item.ModelFilter
		if err := existing.Update(); err != nil {
			respondError(c, err)
			return
		}
		updated++
	}
	respondData(c, gin.H{"created": created, "updated": updated})
}
