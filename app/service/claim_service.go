package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimFilter 认领时需要跳过的任务
type ClaimFilter struct {
	// BlockedStatuses 整个阶段暂不可认领（本地并发已满或上游资源耗尽）
	BlockedStatuses []model.TaskStatus
	// BlockedChannels 某个可认领状态下暂不可认领的频道（配额耗尽）
	BlockedChannels map[model.TaskStatus][]string
}

// claimable 去掉被阻塞的阶段后剩余的可认领状态
func (f ClaimFilter) claimable() []model.TaskStatus {
	blocked := make(map[model.TaskStatus]bool, len(f.BlockedStatuses))
	for _, s := range f.BlockedStatuses {
		blocked[s] = true
	}
	var out []model.TaskStatus
	for _, s := range model.ClaimableStatuses() {
		if !blocked[s] {
			out = append(out, s)
		}
	}
	return out
}

// ClaimSelector 从任务表中原子地认领一个任务。
// 排序：优先级 -> 同优先级内按频道ID轮转 -> 同频道内先进先出。
type ClaimSelector struct {
	db    *gorm.DB
	log   *logger.Logger
	lease time.Duration
	now   Clock
}

// NewClaimSelector 创建认领器
func NewClaimSelector(db *gorm.DB, lease time.Duration, log *logger.Logger) *ClaimSelector {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &ClaimSelector{
		db:    db,
		log:   log,
		lease: lease,
		now:   time.Now,
	}
}

// SetClock 替换时间源
func (c *ClaimSelector) SetClock(now Clock) {
	c.now = now
}

// Claim 认领一个任务，没有可认领任务时返回 nil, nil
func (c *ClaimSelector) Claim(ctx context.Context, workerID string, filter ClaimFilter) (*model.Task, error) {
	statuses := filter.claimable()
	if len(statuses) == 0 {
		return nil, nil
	}

	for _, p := range model.Priorities {
		task, err := c.claimAtPriority(ctx, workerID, p, statuses, filter)
		if err != nil {
			return nil, err
		}
		if task != nil {
			c.log.Info("认领任务",
				zap.Uint("task_id", task.ID),
				zap.String("channel_id", task.ChannelID),
				zap.String("priority", string(task.Priority)),
				zap.String("status", string(task.Status)),
				zap.String("worker_id", workerID))
			return task, nil
		}
	}
	return nil, nil
}

// claimAtPriority 在一个优先级内认领：先找轮转游标之后的频道，找不到再从头开始
func (c *ClaimSelector) claimAtPriority(ctx context.Context, workerID string, p model.Priority, statuses []model.TaskStatus, filter ClaimFilter) (*model.Task, error) {
	var claimed *model.Task

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cursor, err := c.rotationCursor(tx, p)
		if err != nil {
			return err
		}

		passes := []string{""}
		if cursor != "" {
			passes = []string{cursor, ""}
		}

		for _, after := range passes {
			task, err := c.selectCandidate(tx, p, statuses, filter, after)
			if err != nil {
				return err
			}
			if task == nil {
				continue
			}

			if err := c.markClaimed(tx, task, workerID); err != nil {
				if errors.Is(err, errStaleTask) {
					// 被其他 worker 抢先认领
					continue
				}
				return err
			}
			claimed = task
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("认领任务失败: %w", err)
	}
	return claimed, nil
}

// rotationCursor 该优先级下最近一次被认领的任务所属频道，按认领序号而不是 worker 时钟排序
func (c *ClaimSelector) rotationCursor(tx *gorm.DB, p model.Priority) (string, error) {
	var last []model.Task
	err := tx.Select("channel_id").
		Where("priority = ? AND claim_seq > 0", p).
		Order("claim_seq DESC").
		Order("id DESC").
		Limit(1).
		Find(&last).Error
	if err != nil {
		return "", err
	}
	if len(last) == 0 {
		return "", nil
	}
	return last[0].ChannelID, nil
}

// selectCandidate 加锁选出一个候选任务，已被其他事务锁住的行直接跳过
func (c *ClaimSelector) selectCandidate(tx *gorm.DB, p model.Priority, statuses []model.TaskStatus, filter ClaimFilter, after string) (*model.Task, error) {
	activeChannels := tx.Model(&model.Channel{}).Select("channel_id").Where("is_active = ?", true)

	q := tx.Where("status IN ?", statuses).
		Where("priority = ?", p).
		Where("channel_id IN (?)", activeChannels)

	for status, channels := range filter.BlockedChannels {
		if len(channels) > 0 {
			q = q.Where("NOT (status = ? AND channel_id IN ?)", status, channels)
		}
	}
	if after != "" {
		q = q.Where("channel_id > ?", after)
	}

	var tasks []model.Task
	err := q.Order("channel_id ASC").
		Order("created_at ASC").
		Order("id ASC").
		Limit(1).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// markClaimed 在同一事务中把任务移出可认领状态
func (c *ClaimSelector) markClaimed(tx *gorm.DB, task *model.Task, workerID string) error {
	st, ok := model.StageByFrom(task.Status)
	if !ok {
		return fmt.Errorf("状态 %s 不可认领", task.Status)
	}

	seq, err := nextClaimSeq(tx)
	if err != nil {
		return err
	}

	from := task.Status
	now := c.now()
	if err := task.Transition(st.Claimed, now); err != nil {
		return err
	}
	task.Claim(workerID, seq, now, c.lease)
	return saveTaskState(tx, task, from)
}

// nextClaimSeq 下一个认领序号。并发事务可能拿到相同序号，轮转游标再按 id 区分
func nextClaimSeq(tx *gorm.DB) (int64, error) {
	var last int64
	if err := tx.Model(&model.Task{}).Select("COALESCE(MAX(claim_seq), 0)").Scan(&last).Error; err != nil {
		return 0, fmt.Errorf("查询认领序号失败: %w", err)
	}
	return last + 1, nil
}

// Release 准入被拒时把任务退回可认领状态
func (c *ClaimSelector) Release(ctx context.Context, taskID uint, workerID, reason string) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := lockTask(tx, taskID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskVanished
			}
			return err
		}
		if task.ClaimedBy != workerID {
			return ErrTaskNotOwned
		}

		st, ok := model.StageByActive(task.Status)
		if !ok {
			return fmt.Errorf("任务 %d 状态 %s 不可释放", task.ID, task.Status)
		}

		from := task.Status
		if err := task.Transition(st.From, c.now()); err != nil {
			return err
		}
		task.ReleaseClaim()
		return saveTaskState(tx, task, from)
	})
	if err != nil {
		return fmt.Errorf("释放任务失败: %w", err)
	}

	c.log.Info("释放任务", zap.Uint("task_id", taskID), zap.String("worker_id", workerID), zap.String("reason", reason))
	return nil
}

// Heartbeat 延长租约，租约已被回收时返回 ErrTaskNotOwned
func (c *ClaimSelector) Heartbeat(ctx context.Context, taskID uint, workerID string) error {
	expires := c.now().Add(c.lease)
	res := c.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND claimed_by = ?", taskID, workerID).
		Update("lease_expires_at", expires)
	if res.Error != nil {
		return fmt.Errorf("续约失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotOwned
	}
	return nil
}
