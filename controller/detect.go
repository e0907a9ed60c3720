package controller

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/detect"
	"github.com/fuchsia74/modelcheck/model"
)

// ThePool is wired by main before routes are served.
var ThePool *detect.Pool

const sseHeartbeatInterval = 25 * time.Second

type detectRequest struct {
	ChannelId int   `json:"channelId"`
	ModelId   int   `json:"modelId"`
	ModelIds  []int `json:"modelIds"`
	WithSync  bool  `json:"withSync"`
}

// TriggerDetection starts a full, per-channel or per-model run.
// Conflicting runs answer 409 with the current queue snapshot.
func TriggerDetection(c *gin.Context) {
	var req detectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": errors.Wrap(err, "invalid detect payload").Error(),
			})
			return
		}
	}

	ctx := gmw.Ctx(c)
	var result *detect.TriggerResult
	var err error
	switch {
	case req.ChannelId != 0:
		modelIds := req.ModelIds
		if req.ModelId != 0 {
			modelIds = append(modelIds, req.ModelId)
		}
		result, err = detect.TriggerChannelDetection(ctx, req.ChannelId, modelIds)
	case req.ModelId != 0:
		m, merr := model.GetModelById(req.ModelId)
		if merr != nil {
			respondError(c, merr)
			return
		}
		result, err = detect.TriggerChannelDetection(ctx, m.ChannelId, []int{m.Id})
	default:
		result, err = detect.TriggerFullDetection(ctx, req.WithSync)
	}

	if errors.Is(err, detect.ErrDetectionRunning) {
		counts, _ := detect.Counts(ctx)
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"message": err.Error(),
			"data":    counts,
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, result)
}

// StopDetection is pause-and-drain: flag, cancel, drop, reset.
// Idempotent; a second call reports zero cleared jobs.
func StopDetection(c *gin.Context) {
	if ThePool == nil {
		respondError(c, errors.New("detection engine not running"))
		return
	}
	cleared, err := ThePool.PauseAndDrain(gmw.Ctx(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, gin.H{"cleared": cleared})
}

// GetDetectionStatus reports queue counts plus which channels/models
// are currently being probed.
func GetDetectionStatus(c *gin.Context) {
	ctx := gmw.Ctx(c)
	counts, err := detect.Counts(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	jobs, err := detect.PendingJobs(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	channelSet := map[int]struct{}{}
	modelSet := map[int]struct{}{}
	for _, j := range jobs {
		channelSet[j.ChannelId] = struct{}{}
		modelSet[j.ModelId] = struct{}{}
	}
	channelIds := make([]int, 0, len(channelSet))
	for id := range channelSet {
		channelIds = append(channelIds, id)
	}
	modelIds := make([]int, 0, len(modelSet))
	for id := range modelSet {
		modelIds = append(modelIds, id)
	}
	respondData(c, gin.H{
		"waiting":           counts.Waiting,
		"active":            counts.Active,
		"delayed":           counts.Delayed,
		"completed":         counts.Completed,
		"failed":            counts.Failed,
		"testingChannelIds": channelIds,
		"testingModelIds":   modelIds,
	})
}

// GetProbeLogs pages recent probe outcomes, optionally per model.
func GetProbeLogs(c *gin.Context) {
	offset, limit := pageParams(c)
	modelId, _ := strconv.Atoi(c.Query("modelId"))
	logs, err := model.GetProbeLogs(modelId, offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, logs)
}

// ProgressSSE subscribes the caller to the progress bus. An initial
// connected event is sent immediately; heartbeats keep idle
// connections alive.
func ProgressSSE(c *gin.Context) {
	lg := gmw.GetLogger(c)
	sub, err := detect.Subscribe(gmw.Ctx(c))
	if err != nil {
		respondError(c, err)
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeEvent(c, detect.Event{Kind: detect.EventConnected})

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			if !writeEvent(c, detect.Event{Kind: detect.EventHeartbeat}) {
				return
			}
		case event, ok := <-sub.Events:
			if !ok {
				lg.Debug("progress subscription closed")
				writeEvent(c, detect.Event{Kind: detect.EventError, Message: "subscription closed"})
				return
			}
			if !writeEvent(c, event) {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, event detect.Event) bool {
	c.SSEvent(event.Kind, event)
	if f, ok := c.Writer.(http.Flusher); ok {
		f.Flush()
	}
	return c.Request.Context().Err() == nil
}
