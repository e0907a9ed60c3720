package controller

import (
	"net/http"

	"github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/fuchsia74/modelcheck/detect"
	"github.com/fuchsia74/modelcheck/model"
)

// TheScheduler is wired by main before routes are served.
var TheScheduler *detect.Scheduler

func GetSchedulerConfig(c *gin.Context) {
	cfg, err := model.GetSchedulerConfig()
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, cfg)
}

func validateSchedulerConfig(cfg *model.SchedulerConfig) error {
	if err := detect.ValidateCron(cfg.Cron); err != nil {
		return err
	}
	if cfg.MinDelayMs < 0 || cfg.MaxDelayMs < 0 {
		return errors.New("delay bounds must not be negative")
	}
	if cfg.MinDelayMs > cfg.MaxDelayMs {
		return errors.New("min_delay_ms must not exceed max_delay_ms")
	}
	if cfg.ChannelConcurrency <= 0 || cfg.GlobalConcurrency <= 0 {
		return errors.New("concurrency limits must be positive")
	}
	return nil
}

// UpdateSchedulerConfig replaces the singleton atomically and rebuilds
// the cron entry. Invalid configs are rejected without applying
// anything.
func UpdateSchedulerConfig(c *gin.Context) {
	var cfg model.SchedulerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": errors.Wrap(err, "invalid scheduler config").Error(),
		})
		return
	}
	if err := validateSchedulerConfig(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	if err := cfg.Update(); err != nil {
		respondError(c, err)
		return
	}
	if TheScheduler != nil {
		if err := TheScheduler.Reload(&cfg); err != nil {
			respondError(c, err)
			return
		}
	}
	respondData(c, cfg)
}
