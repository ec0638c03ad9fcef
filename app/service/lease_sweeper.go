package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sweepBatchSize = 100

// LeaseSweeper 回收崩溃 worker 遗留的过期认领
type LeaseSweeper struct {
	db       *gorm.DB
	log      *logger.Logger
	schedule string
	now      Clock
	cron     *cron.Cron
}

// NewLeaseSweeper 创建租约回收器，schedule 为 cron 表达式
func NewLeaseSweeper(db *gorm.DB, schedule string, log *logger.Logger) *LeaseSweeper {
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &LeaseSweeper{
		db:       db,
		log:      log,
		schedule: schedule,
		now:      time.Now,
	}
}

// SetClock 替换时间源
func (s *LeaseSweeper) SetClock(now Clock) {
	s.now = now
}

// Start 按计划周期执行回收
func (s *LeaseSweeper) Start() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.SweepExpired(ctx); err != nil {
			s.log.Error("回收过期认领失败", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("无效的回收计划 %q: %w", s.schedule, err)
	}

	s.cron = c
	c.Start()
	s.log.Info("租约回收器已启动", zap.String("schedule", s.schedule))
	return nil
}

// Stop 停止计划任务并等待正在执行的回收完成
func (s *LeaseSweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("租约回收器已停止")
}

// SweepExpired 把租约过期的任务退回可认领状态，返回回收数量
func (s *LeaseSweeper) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	reclaimed := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tasks []model.Task
		if err := tx.Where("status IN ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?", model.ActiveStatuses(), now).
			Order("lease_expires_at ASC").
			Limit(sweepBatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&tasks).Error; err != nil {
			return err
		}

		for i := range tasks {
			task := &tasks[i]
			st, ok := model.StageByActive(task.Status)
			if !ok {
				continue
			}

			from := task.Status
			worker := task.ClaimedBy
			if err := task.Transition(st.From, now); err != nil {
				return err
			}
			task.ReleaseClaim()
			task.ErrorLog = fmt.Sprintf("[%s] %s: worker %s 租约过期，任务已回收", now.Format(time.RFC3339), st.Name, worker)

			if err := saveTaskState(tx, task, from); err != nil {
				if errors.Is(err, errStaleTask) {
					continue
				}
				return err
			}
			reclaimed++
			s.log.Warn("回收过期认领",
				zap.Uint("task_id", task.ID),
				zap.String("channel_id", task.ChannelID),
				zap.String("stage", st.Name),
				zap.String("worker_id", worker))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reclaimed, nil
}
