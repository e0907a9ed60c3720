package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuchsia74/modelcheck/model"
)

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("0 2 * * *"))
	assert.NoError(t, ValidateCron("*/5 * * * *"))
	assert.Error(t, ValidateCron("not a cron"))
	assert.Error(t, ValidateCron("61 2 * * *"))
	assert.Error(t, ValidateCron(""))
}

func TestSchedulerStartAndReload(t *testing.T) {
	setupRedis(t)
	setupTestDB(t)

	s := NewScheduler()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	cfg, err := model.GetSchedulerConfig()
	require.NoError(t, err)

	cfg.Enabled = true
	cfg.Cron = "*/10 * * * *"
	require.NoError(t, s.Reload(cfg))

	cfg.Cron = "garbage"
	assert.Error(t, s.Reload(cfg), "invalid cron must be rejected")

	cfg.Cron = "*/10 * * * *"
	cfg.Timezone = "Not/AZone"
	assert.Error(t, s.Reload(cfg), "invalid timezone must be rejected")
}
