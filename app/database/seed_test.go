package database

import (
	"fmt"
	"testing"

	"tubeforge/app/auth"
	"tubeforge/app/config"
	"tubeforge/app/logger"
	"tubeforge/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func TestSyncChannels(t *testing.T) {
	db := openTestDB(t)
	log := logger.NewNop()
	off := false

	require.NoError(t, SyncChannels(db, []config.ChannelConfig{
		{ChannelID: "UC001", Name: "深海"},
		{ChannelID: "UC002", DailyQuota: 50000},
	}, log))

	var ch model.Channel
	require.NoError(t, db.Where("channel_id = ?", "UC002").Take(&ch).Error)
	assert.True(t, ch.IsActive)
	assert.Equal(t, "UC002", ch.Name)
	assert.Equal(t, "local", ch.StorageStrategy)
	assert.Equal(t, 50000, ch.QuotaLimit(10000))

	// 再次同步时停用频道，记录不重复
	require.NoError(t, SyncChannels(db, []config.ChannelConfig{
		{ChannelID: "UC001", Name: "深海2", Active: &off},
	}, log))

	var count int64
	require.NoError(t, db.Model(&model.Channel{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	var updated model.Channel
	require.NoError(t, db.Where("channel_id = ?", "UC001").Take(&updated).Error)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "深海2", updated.Name)
}

func TestInitOperator(t *testing.T) {
	db := openTestDB(t)
	log := logger.NewNop()
	cfg := &config.Config{Server: config.ServerConfig{Username: "ops", Password: "secret123"}}

	require.NoError(t, InitOperator(db, cfg, log))

	var op model.Operator
	require.NoError(t, db.Where("username = ?", "ops").Take(&op).Error)
	assert.True(t, op.IsActive)
	assert.True(t, auth.VerifyPassword("secret123", op.Password))

	cfg.Server.Password = "changed456"
	require.NoError(t, InitOperator(db, cfg, log))
	var updated model.Operator
	require.NoError(t, db.Where("username = ?", "ops").Take(&updated).Error)
	assert.True(t, auth.VerifyPassword("changed456", updated.Password))
}

func TestInitOperatorSkipsWithoutCredentials(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, InitOperator(db, &config.Config{}, logger.NewNop()))

	var count int64
	require.NoError(t, db.Model(&model.Operator{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestWithStatementTimeout(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db?statement_timeout=5000", withStatementTimeout("postgres://u@h/db", 5000))
	assert.Equal(t, "postgres://u@h/db?sslmode=disable&statement_timeout=5000", withStatementTimeout("postgres://u@h/db?sslmode=disable", 5000))
	assert.Equal(t, "host=h user=u statement_timeout=5000", withStatementTimeout("host=h user=u", 5000))
	assert.Equal(t, "host=h", withStatementTimeout("host=h", 0))
}
