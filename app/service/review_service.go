package service

import (
	"context"
	"errors"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ReviewService 人工审核与错误修复
type ReviewService struct {
	db  *gorm.DB
	log *logger.Logger
	now Clock
}

// NewReviewService 创建审核服务
func NewReviewService(db *gorm.DB, log *logger.Logger) *ReviewService {
	return &ReviewService{db: db, log: log, now: time.Now}
}

// SetClock 替换时间源
func (s *ReviewService) SetClock(now Clock) {
	s.now = now
}

// Approve 审核通过，任务进入下一阶段的可认领状态
func (s *ReviewService) Approve(ctx context.Context, id uint, reviewer string) (*model.Task, error) {
	task, err := s.mutate(ctx, id, func(t *model.Task) error {
		next, ok := t.Status.ApprovedStatus()
		if !ok {
			return ErrNotReviewable
		}
		return t.Transition(next, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("✅ 审核通过",
		zap.Uint("task_id", id),
		zap.String("reviewer", reviewer),
		zap.String("status", string(task.Status)))
	return task, nil
}

// Remediate 错误修复后把任务退回该阶段的可认领状态，并清零重试次数
func (s *ReviewService) Remediate(ctx context.Context, id uint, operator string) (*model.Task, error) {
	task, err := s.mutate(ctx, id, func(t *model.Task) error {
		st, ok := model.StageByError(t.Status)
		if !ok {
			return ErrNotRemediable
		}
		if err := t.Transition(st.From, s.now()); err != nil {
			return err
		}
		t.RetryCount = 0
		t.ErrorLog = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("🔧 任务已修复并重新入队",
		zap.Uint("task_id", id),
		zap.String("operator", operator),
		zap.String("status", string(task.Status)))
	return task, nil
}

// mutate 在短事务中加锁读取任务并写回状态
func (s *ReviewService) mutate(ctx context.Context, id uint, fn func(*model.Task) error) (*model.Task, error) {
	var task *model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTask(tx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskNotFound
			}
			return err
		}
		from := t.Status
		if err := fn(t); err != nil {
			return err
		}
		if err := saveTaskState(tx, t, from); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}
