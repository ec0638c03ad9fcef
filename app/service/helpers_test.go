package service

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"tubeforge/app/config"
	"tubeforge/app/database"
	"tubeforge/app/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// newTestDB 每个测试独立的内存数据库，单连接串行访问
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedChannel(t *testing.T, db *gorm.DB, channelID string, active bool, dailyQuota int) {
	t.Helper()
	require.NoError(t, db.Create(&model.Channel{
		ChannelID:  channelID,
		Name:       channelID,
		IsActive:   active,
		DailyQuota: dailyQuota,
	}).Error)
}

func seedTask(t *testing.T, db *gorm.DB, channelID string, p model.Priority, status model.TaskStatus, createdAt time.Time) *model.Task {
	t.Helper()
	task := &model.Task{
		ChannelID: channelID,
		Title:     fmt.Sprintf("%s-%s", channelID, createdAt.Format("150405")),
		Status:    status,
		Priority:  p,
		StepMeta:  map[string]model.StepInfo{},
		CreatedAt: createdAt,
	}
	require.NoError(t, db.Create(task).Error)
	return task
}

func reloadTask(t *testing.T, db *gorm.DB, id uint) *model.Task {
	t.Helper()
	var task model.Task
	require.NoError(t, db.Take(&task, id).Error)
	return &task
}

// fakeClock 每次读取前进一个步长，保证认领时间严格递增
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(start time.Time, step time.Duration) *fakeClock {
	return &fakeClock{now: start, step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testQuotaConfig() config.QuotaConfig {
	return config.QuotaConfig{
		DailyLimit:        10000,
		Timezone:          "UTC",
		WarningThreshold:  0.8,
		CriticalThreshold: 1.0,
		AlertThrottle:     5 * time.Minute,
		Costs: map[string]int{
			"upload": 1600,
			"update": 50,
			"list":   1,
		},
	}
}
