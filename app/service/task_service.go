package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateTaskRequest 创建任务参数
type CreateTaskRequest struct {
	ChannelID string         `json:"channel_id" binding:"required"`
	Title     string         `json:"title" binding:"required"`
	Priority  model.Priority `json:"priority"`
	Submit    bool           `json:"submit"` // 为 true 时直接进入队列
}

// TaskListQuery 任务列表查询条件
type TaskListQuery struct {
	ChannelID string           `form:"channel_id"`
	Status    model.TaskStatus `form:"status"`
	Priority  model.Priority   `form:"priority"`
	Page      int              `form:"page"`
	PageSize  int              `form:"page_size"`
}

// TaskService 任务录入与查询
type TaskService struct {
	db       *gorm.DB
	channels *ChannelDirectory
	log      *logger.Logger
	now      Clock
}

// NewTaskService 创建任务服务
func NewTaskService(db *gorm.DB, channels *ChannelDirectory, log *logger.Logger) *TaskService {
	return &TaskService{
		db:       db,
		channels: channels,
		log:      log,
		now:      time.Now,
	}
}

// SetClock 替换时间源
func (s *TaskService) SetClock(now Clock) {
	s.now = now
}

// Create 创建任务，频道必须存在
func (s *TaskService) Create(ctx context.Context, req CreateTaskRequest) (*model.Task, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, errors.New("任务标题不能为空")
	}
	if req.Priority == "" {
		req.Priority = model.PriorityNormal
	}
	if !req.Priority.IsValid() {
		return nil, fmt.Errorf("无效的优先级: %s", req.Priority)
	}
	if _, err := s.channels.Get(ctx, req.ChannelID); err != nil {
		return nil, err
	}

	task := &model.Task{
		ChannelID: req.ChannelID,
		Title:     req.Title,
		Status:    model.StatusDraft,
		Priority:  req.Priority,
		StepMeta:  map[string]model.StepInfo{},
	}
	if req.Submit {
		if err := task.Transition(model.StatusQueued, s.now()); err != nil {
			return nil, err
		}
	}

	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("创建任务失败: %w", err)
	}

	s.log.Info("任务已创建",
		zap.Uint("task_id", task.ID),
		zap.String("channel_id", task.ChannelID),
		zap.String("priority", string(task.Priority)),
		zap.String("status", string(task.Status)))
	return task, nil
}

// Submit 草稿进入队列
func (s *TaskService) Submit(ctx context.Context, id uint) (*model.Task, error) {
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
		if err := t.Transition(model.StatusQueued, s.now()); err != nil {
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

	s.log.Info("任务已提交", zap.Uint("task_id", id))
	return task, nil
}

// Get 获取任务
func (s *TaskService) Get(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).Take(&task, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// List 分页查询任务，按创建时间倒序
func (s *TaskService) List(ctx context.Context, q TaskListQuery) ([]model.Task, int64, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 || q.PageSize > 200 {
		q.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&model.Task{})
	if q.ChannelID != "" {
		query = query.Where("channel_id = ?", q.ChannelID)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.Priority != "" {
		query = query.Where("priority = ?", q.Priority)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tasks []model.Task
	err := query.Order("created_at DESC").Order("id DESC").
		Offset((q.Page - 1) * q.PageSize).
		Limit(q.PageSize).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// StatusCounts 按状态统计任务数量
func (s *TaskService) StatusCounts(ctx context.Context, channelID string) (map[model.TaskStatus]int64, error) {
	var rows []struct {
		Status model.TaskStatus
		Count  int64
	}
	query := s.db.WithContext(ctx).Model(&model.Task{}).Select("status, COUNT(*) AS count")
	if channelID != "" {
		query = query.Where("channel_id = ?", channelID)
	}
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[model.TaskStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
