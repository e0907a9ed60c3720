package detect

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fuchsia74/modelcheck/common"
	"github.com/fuchsia74/modelcheck/model"
)

// setupRedis points the shared client at a fresh miniredis.
func setupRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	prev := common.RDB
	common.RDB = client
	t.Cleanup(func() {
		common.RDB = prev
		_ = client.Close()
	})
	return mr
}

func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Channel{}, &model.Model{}, &model.ProbeLog{}, &model.ProxyKey{}, &model.SchedulerConfig{}))

	prev := model.DB
	model.DB = db
	t.Cleanup(func() {
		model.DB = prev
		_ = sqlDB.Close()
	})
}
