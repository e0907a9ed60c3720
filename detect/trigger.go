package detect

import (
	"context"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fuchsia74/modelcheck/common/logger"
	"github.com/fuchsia74/modelcheck/model"
	"github.com/fuchsia74/modelcheck/relay/detector"
	"github.com/fuchsia74/modelcheck/relay/endpoint"
)

// ErrDetectionRunning is returned when a trigger conflicts with jobs
// already in flight; callers translate it to 409.
var ErrDetectionRunning = errors.New("a detection run is already in progress")

// TriggerResult summarizes what a trigger enqueued.
type TriggerResult struct {
	ChannelCount int          `json:"channelCount"`
	ModelCount   int          `json:"modelCount"`
	JobCount     int          `json:"jobCount"`
	SyncResults  []SyncResult `json:"syncResults,omitempty"`
}

// SyncResult reports one channel's model-list sync.
type SyncResult struct {
	ChannelId   int    `json:"channelId"`
	ChannelName string `json:"channelName"`
	Added       int    `json:"added"`
	Total       int    `json:"total"`
	Error       string `json:"error,omitempty"`
}

// SyncChannelModels fetches the channel's /v1/models and inserts any
// previously-unknown names, honoring the channel's keyword filter.
func SyncChannelModels(ctx context.Context, channel *model.Channel) SyncResult {
	result := SyncResult{ChannelId: channel.Id, ChannelName: channel.Name}
	ids, err := detector.FetchModelList(ctx, channel.BaseURL, channel.NextKey(), channel.Proxy)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	terms := channel.ModelFilterTerms()
	for _, id := range ids {
		if len(terms) > 0 && !matchesFilter(id, terms) {
			continue
		}
		_, created, err := model.UpsertModel(channel.Id, id)
		if err != nil {
			result.Error = err.Error()
			continue
		}
		result.Total++
		if created {
			result.Added++
		}
	}
	return result
}

func matchesFilter(name string, terms []string) bool {
	lower := strings.ToLower(name)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// buildJobs enumerates (channel, model, endpoint) probes and stamps
// job ids.
func buildJobs(ctx context.Context, channel *model.Channel, models []*model.Model) ([]*Job, error) {
	var jobs []*Job
	for _, m := range models {
		for _, ep := range endpoint.ForModelName(m.Name) {
			job, err := NewJob(ctx, detector.Input{
				ChannelId:   channel.Id,
				ChannelName: channel.Name,
				BaseURL:     channel.BaseURL,
				Key:         channel.NextKey(),
				Proxy:       channel.Proxy,
				ModelId:     m.Id,
				ModelName:   m.Name,
				Endpoint:    ep,
			})
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// TriggerFullDetection enqueues probes for every enabled channel,
// optionally syncing each channel's model list first. Refuses with
// ErrDetectionRunning while any job is pending.
func TriggerFullDetection(ctx context.Context, withSync bool) (*TriggerResult, error) {
	pending, err := HasPendingJobs(ctx)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrDetectionRunning
	}
	if err := ClearStopFlag(ctx); err != nil {
		return nil, err
	}
	if err := ClearFinished(ctx); err != nil {
		return nil, err
	}

	channels, err := model.GetEnabledChannels()
	if err != nil {
		return nil, err
	}

	result := &TriggerResult{ChannelCount: len(channels)}

	if withSync {
		results := make([]SyncResult, len(channels))
		var g errgroup.Group
		g.SetLimit(8)
		for i, ch := range channels {
			g.Go(func() error {
				results[i] = SyncChannelModels(ctx, ch)
				return nil
			})
		}
		_ = g.Wait()
		result.SyncResults = results
	}

	var jobs []*Job
	for _, ch := range channels {
		models, err := model.GetModelsByChannel(ch.Id)
		if err != nil {
			return nil, err
		}
		chJobs, err := buildJobs(ctx, ch, models)
		if err != nil {
			return nil, err
		}
		result.ModelCount += len(models)
		jobs = append(jobs, chJobs...)
	}
	if err := Enqueue(ctx, jobs); err != nil {
		return nil, err
	}
	result.JobCount = len(jobs)

	logger.Logger.Info("full detection triggered",
		zap.Int("channels", result.ChannelCount),
		zap.Int("models", result.ModelCount),
		zap.Int("jobs", result.JobCount))
	return result, nil
}

// TriggerChannelDetection enqueues probes for one channel, optionally
// restricted to specific model ids. Refuses only while that channel
// already has jobs in flight.
func TriggerChannelDetection(ctx context.Context, channelId int, modelIds []int) (*TriggerResult, error) {
	busy, err := ChannelHasPendingJobs(ctx, channelId)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrDetectionRunning
	}
	if err := ClearStopFlag(ctx); err != nil {
		return nil, err
	}

	channel, err := model.GetChannelById(channelId)
	if err != nil {
		return nil, err
	}
	if !channel.Enabled() {
		return nil, errors.Errorf("channel %d is disabled", channelId)
	}

	var models []*model.Model
	if len(modelIds) > 0 {
		models, err = model.GetModelsByIds(modelIds)
	} else {
		models, err = model.GetModelsByChannel(channelId)
	}
	if err != nil {
		return nil, err
	}
	// drop models of other channels handed in by mistake
	filtered := models[:0]
	for _, m := range models {
		if m.ChannelId == channelId {
			filtered = append(filtered, m)
		}
	}
	models = filtered

	jobs, err := buildJobs(ctx, channel, models)
	if err != nil {
		return nil, err
	}
	if err := Enqueue(ctx, jobs); err != nil {
		return nil, err
	}

	logger.Logger.Info("channel detection triggered",
		zap.Int("channel", channelId),
		zap.Int("models", len(models)),
		zap.Int("jobs", len(jobs)))
	return &TriggerResult{ChannelCount: 1, ModelCount: len(models), JobCount: len(jobs)}, nil
}
