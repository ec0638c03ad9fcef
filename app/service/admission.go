package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"

	"go.uber.org/zap"
)

// Decision 准入结果
type Decision struct {
	Admitted bool   `json:"admitted"`
	Reason   string `json:"reason,omitempty"`
}

// Ticket 占用的并发槽位，Release 可重复调用
type Ticket struct {
	once    sync.Once
	release func()
}

// Release 归还槽位
func (t *Ticket) Release() {
	if t == nil {
		return
	}
	t.once.Do(t.release)
}

// CeilingChange 热加载后实际变化的并发上限
type CeilingChange struct {
	Category model.StageCategory
	Old      int
	New      int
}

// CategorySnapshot 单个类别的准入状态
type CategorySnapshot struct {
	Category       model.StageCategory `json:"category"`
	Active         int                 `json:"active"`
	Ceiling        int                 `json:"ceiling"`
	ExhaustedUntil *time.Time          `json:"exhausted_until,omitempty"`
}

// AdmissionController worker 本地准入控制：配额 + 分类别并发上限 + 上游耗尽标记
type AdmissionController struct {
	mu    sync.Mutex
	state WorkerState
	quota *QuotaLedger
	log   *logger.Logger
	now   Clock
}

// NewAdmissionController 创建准入控制器
func NewAdmissionController(ceilings map[string]int, quota *QuotaLedger, log *logger.Logger) *AdmissionController {
	return &AdmissionController{
		state: NewWorkerState(toCategoryMap(ceilings)),
		quota: quota,
		log:   log,
		now:   time.Now,
	}
}

func toCategoryMap(in map[string]int) map[model.StageCategory]int {
	out := make(map[model.StageCategory]int, len(in))
	for k, v := range in {
		out[model.StageCategory(k)] = v
	}
	return out
}

// SetClock 替换时间源
func (a *AdmissionController) SetClock(now Clock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// ClaimFilter 生成认领过滤条件，认领前跳过当前无法执行的任务
func (a *AdmissionController) ClaimFilter(ctx context.Context) (ClaimFilter, error) {
	var filter ClaimFilter

	a.mu.Lock()
	now := a.now()
	for _, st := range model.Stages {
		if st.Category == model.CategoryNone {
			continue
		}
		if !a.state.CanClaim(st.Category) || a.state.IsExhausted(st.Category, now) {
			filter.BlockedStatuses = append(filter.BlockedStatuses, st.From)
		}
	}
	a.mu.Unlock()

	if a.quota == nil {
		return filter, nil
	}
	for _, st := range model.Stages {
		if st.Quota == "" {
			continue
		}
		channels, err := a.quota.ExhaustedChannels(ctx, st.Quota)
		if err != nil {
			return ClaimFilter{}, err
		}
		if len(channels) == 0 {
			continue
		}
		if filter.BlockedChannels == nil {
			filter.BlockedChannels = make(map[model.TaskStatus][]string)
		}
		filter.BlockedChannels[st.From] = channels
	}
	return filter, nil
}

// Admit 判断已认领的任务能否开始执行；通过时占用一个并发槽位
func (a *AdmissionController) Admit(ctx context.Context, task *model.Task) (*Ticket, Decision, error) {
	st, ok := model.StageByActive(task.Status)
	if !ok {
		return nil, Decision{}, fmt.Errorf("任务 %d 状态 %s 不在执行阶段", task.ID, task.Status)
	}

	a.mu.Lock()
	now := a.now()
	if a.state.IsExhausted(st.Category, now) {
		until, _ := a.state.ExhaustedUntil(st.Category)
		a.mu.Unlock()
		return nil, Decision{Reason: fmt.Sprintf("上游资源[%s]已耗尽，%s 后重置", st.Category, until.Format(time.RFC3339))}, nil
	}
	if !a.state.CanClaim(st.Category) {
		reason := fmt.Sprintf("类别[%s]并发已满 %d/%d", st.Category, a.state.Active(st.Category), a.state.Ceiling(st.Category))
		a.mu.Unlock()
		return nil, Decision{Reason: reason}, nil
	}
	a.state.Increment(st.Category)
	a.mu.Unlock()

	ticket := &Ticket{release: func() { a.done(st.Category) }}

	if st.Quota != "" && a.quota != nil {
		check, err := a.quota.Check(ctx, task.ChannelID, st.Quota)
		if err != nil {
			ticket.Release()
			return nil, Decision{}, err
		}
		if !check.Allowed {
			ticket.Release()
			return nil, Decision{Reason: fmt.Sprintf("频道[%s]配额不足 %d+%d>%d", task.ChannelID, check.Used, check.Cost, check.Limit)}, nil
		}
	}

	return ticket, Decision{Admitted: true}, nil
}

func (a *AdmissionController) done(cat model.StageCategory) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Decrement(cat)
}

// MarkUpstreamExhausted 上游明确限流后调用，直到下一个 UTC 零点前不再认领该类别
func (a *AdmissionController) MarkUpstreamExhausted(cat model.StageCategory) time.Time {
	if cat == model.CategoryNone {
		return time.Time{}
	}
	a.mu.Lock()
	reset := a.state.MarkExhausted(cat, a.now())
	a.mu.Unlock()

	a.log.Warn("上游资源已耗尽，暂停认领该类别任务",
		zap.String("category", string(cat)), zap.Time("reset_at", reset))
	return reset
}

// UpdateCeilings 热加载并发上限，只对实际变化的值输出日志
func (a *AdmissionController) UpdateCeilings(ceilings map[string]int) []CeilingChange {
	a.mu.Lock()
	var changes []CeilingChange
	for cat, n := range toCategoryMap(ceilings) {
		old, changed := a.state.SetCeiling(cat, n)
		if changed {
			changes = append(changes, CeilingChange{Category: cat, Old: old, New: a.state.Ceiling(cat)})
		}
	}
	a.mu.Unlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].Category < changes[j].Category })
	for _, c := range changes {
		a.log.Info("并发上限已更新",
			zap.String("category", string(c.Category)), zap.Int("old", c.Old), zap.Int("new", c.New))
	}
	return changes
}

// Snapshot 当前各类别的准入状态
func (a *AdmissionController) Snapshot() []CategorySnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	out := make([]CategorySnapshot, 0, len(model.Categories))
	for _, cat := range model.Categories {
		snap := CategorySnapshot{
			Category: cat,
			Active:   a.state.Active(cat),
			Ceiling:  a.state.Ceiling(cat),
		}
		if a.state.IsExhausted(cat, now) {
			until, _ := a.state.ExhaustedUntil(cat)
			snap.ExhaustedUntil = &until
		}
		out = append(out, snap)
	}
	return out
}
