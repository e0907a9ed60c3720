package detect

import (
	"context"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/robfig/cron/v3"

	"github.com/fuchsia74/modelcheck/common/config"
	"github.com/fuchsia74/modelcheck/common/logger"
	"github.com/fuchsia74/modelcheck/model"
)

// Scheduler owns the single detection cron entry plus the probe-log
// retention cron. Configuration changes tear the cron down and rebuild
// it.
type Scheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

func NewScheduler() *Scheduler {
	return &Scheduler{ctx: context.Background()}
}

// ValidateCron accepts the 5-field expressions stored in
// SchedulerConfig.
func ValidateCron(expr string) error {
	_, err := cron.ParseStandard(expr)
	return errors.Wrapf(err, "invalid cron expression %q", expr)
}

// Start loads the singleton config (seeding it on first run) and
// builds the cron entries.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	cfg, err := model.GetSchedulerConfig()
	if err != nil {
		return err
	}
	return s.Reload(cfg)
}

// Reload rebuilds the cron from a fresh config. Called on startup and
// after every PUT /api/scheduler/config.
func (s *Scheduler) Reload(cfg *model.SchedulerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Timezone); err != nil {
			return errors.Wrapf(err, "invalid timezone %q", cfg.Timezone)
		}
	}
	c := cron.New(cron.WithLocation(loc))

	if cfg.Enabled {
		if err := ValidateCron(cfg.Cron); err != nil {
			return err
		}
		if _, err := c.AddFunc(cfg.Cron, func() { s.runDetection(s.ctx) }); err != nil {
			return errors.Wrap(err, "schedule detection cron")
		}
		logger.Logger.Info("detection cron scheduled",
			zap.String("cron", cfg.Cron),
			zap.String("timezone", loc.String()))
	}

	if _, err := c.AddFunc(config.CleanupSchedule, func() { s.runCleanup() }); err != nil {
		return errors.Wrap(err, "schedule cleanup cron")
	}

	c.Start()
	s.cron = c
	return nil
}

// Stop halts cron firing; running jobs are unaffected.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}

// runDetection dispatches the configured detection when the cron
// fires. A run already in flight is skipped, not queued behind.
func (s *Scheduler) runDetection(ctx context.Context) {
	cfg, err := model.GetSchedulerConfig()
	if err != nil {
		logger.Logger.Error("scheduled detection: failed to load config", zap.Error(err))
		return
	}
	if !cfg.Enabled {
		return
	}

	if cfg.ProbeAll {
		_, err = TriggerFullDetection(ctx, cfg.SyncBeforeDetect)
	} else {
		err = s.runSelective(ctx, cfg)
	}
	if errors.Is(err, ErrDetectionRunning) {
		logger.Logger.Warn("scheduled detection skipped: previous run still active")
		return
	}
	if err != nil {
		logger.Logger.Error("scheduled detection failed", zap.Error(err))
	}
}

func (s *Scheduler) runSelective(ctx context.Context, cfg *model.SchedulerConfig) error {
	modelIds := cfg.SelectedModelIds()
	for _, channelId := range cfg.SelectedChannelIds() {
		if _, err := TriggerChannelDetection(ctx, channelId, modelIds[channelId]); err != nil {
			if errors.Is(err, ErrDetectionRunning) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Scheduler) runCleanup() {
	deleted, err := model.DeleteOldProbeLogs(config.LogRetentionDays)
	if err != nil {
		logger.Logger.Error("probe log cleanup failed", zap.Error(err))
		return
	}
	logger.Logger.Info("probe log cleanup finished",
		zap.Int64("deleted", deleted),
		zap.Int("retention_days", config.LogRetentionDays))
}
