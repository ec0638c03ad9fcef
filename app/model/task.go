package model

import (
	"time"
)

// Priority 任务优先级
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Priorities 按认领顺序排列的优先级
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

// IsValid 是否为已定义的优先级
func (p Priority) IsValid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// StepInfo 单个阶段的执行记录
type StepInfo struct {
	Completed bool    `json:"completed"`
	Duration  float64 `json:"duration"` // 秒
	Attempts  int     `json:"attempts"`
	OutputRef string  `json:"output_ref,omitempty"`
}

// Task 视频制作任务
type Task struct {
	ID        uint       `json:"id" gorm:"primarykey"`
	ChannelID string     `json:"channel_id" gorm:"size:64;not null;index:idx_tasks_claim,priority:3;comment:所属频道外部ID"`
	Title     string     `json:"title" gorm:"size:255"`
	Status    TaskStatus `json:"status" gorm:"size:32;not null;index:idx_tasks_claim,priority:1"`
	Priority  Priority   `json:"priority" gorm:"size:16;not null;default:normal;index:idx_tasks_claim,priority:2;index:idx_tasks_rotation,priority:1"`

	TotalCost  float64             `json:"total_cost" gorm:"default:0;comment:累计成本"`
	StepMeta   map[string]StepInfo `json:"step_meta" gorm:"type:text;serializer:json;comment:阶段完成情况"`
	ErrorLog   string              `json:"error_log" gorm:"type:text"`
	RetryCount int                 `json:"retry_count" gorm:"default:0"`

	// 认领与租约
	ClaimedBy      string     `json:"claimed_by" gorm:"size:64;index"`
	ClaimedAt      *time.Time `json:"claimed_at"`
	ClaimSeq       int64      `json:"claim_seq" gorm:"not null;default:0;index:idx_tasks_rotation,priority:2;comment:认领序号，频道轮转游标"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at" gorm:"index"`

	PipelineStartedAt   *time.Time `json:"pipeline_started_at"`
	PipelineCompletedAt *time.Time `json:"pipeline_completed_at"`
	ReviewStartedAt     *time.Time `json:"review_started_at"`
	ReviewCompletedAt   *time.Time `json:"review_completed_at"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_tasks_claim,priority:4"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}

// StateColumns 状态变更时需要写回的列
var StateColumns = []string{
	"status", "total_cost", "step_meta", "error_log", "retry_count",
	"claimed_by", "claimed_at", "claim_seq", "lease_expires_at",
	"pipeline_started_at", "pipeline_completed_at",
	"review_started_at", "review_completed_at",
}

// Transition 按状态机变更状态，并维护流水线和审核时间戳
func (t *Task) Transition(to TaskStatus, now time.Time) error {
	from := t.Status
	if !CanTransition(from, to) {
		return transitionError(from, to)
	}

	if from.IsReviewGate() {
		t.ReviewCompletedAt = &now
	}
	if to.IsReviewGate() {
		t.ReviewStartedAt = &now
		t.ReviewCompletedAt = nil
	}
	if t.PipelineStartedAt == nil && from == StatusQueued {
		t.PipelineStartedAt = &now
	}
	if to == StatusPublished {
		t.PipelineCompletedAt = &now
	}

	t.Status = to
	return nil
}

// Claim 记录认领信息，seq 为全局递增的认领序号
func (t *Task) Claim(workerID string, seq int64, now time.Time, lease time.Duration) {
	expires := now.Add(lease)
	t.ClaimedBy = workerID
	t.ClaimSeq = seq
	t.ClaimedAt = &now
	t.LeaseExpiresAt = &expires
}

// ReleaseClaim 清除认领信息，保留 ClaimSeq 作为频道轮转游标
func (t *Task) ReleaseClaim() {
	t.ClaimedBy = ""
	t.LeaseExpiresAt = nil
}

// Step 获取阶段记录
func (t *Task) Step(name string) StepInfo {
	if t.StepMeta == nil {
		return StepInfo{}
	}
	return t.StepMeta[name]
}

// SetStep 更新阶段记录
func (t *Task) SetStep(name string, info StepInfo) {
	if t.StepMeta == nil {
		t.StepMeta = make(map[string]StepInfo)
	}
	t.StepMeta[name] = info
}
