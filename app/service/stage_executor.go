package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubeforge/app/logger"
	"tubeforge/app/model"
	"tubeforge/app/stage"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExecutionReport 一次阶段执行的结果
type ExecutionReport struct {
	TaskID   uint
	Stage    string
	Outcome  stage.Outcome
	Status   model.TaskStatus // 执行后的任务状态
	Duration time.Duration
	Err      error // 阶段执行器返回的错误
}

// StageExecutor 短事务执行阶段：
// 事务1 加锁并进入执行状态 -> 不持有任何事务调用外部执行器 -> 事务2 重新加载并写入结果
type StageExecutor struct {
	db                *gorm.DB
	registry          *stage.Registry
	claims            *ClaimSelector
	quota             *QuotaLedger
	admission         *AdmissionController
	log               *logger.Logger
	maxRetries        int
	heartbeatInterval time.Duration
	now               Clock
}

// NewStageExecutor 创建阶段执行器
func NewStageExecutor(db *gorm.DB, registry *stage.Registry, claims *ClaimSelector, quota *QuotaLedger,
	admission *AdmissionController, maxRetries int, heartbeatInterval time.Duration, log *logger.Logger) *StageExecutor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &StageExecutor{
		db:                db,
		registry:          registry,
		claims:            claims,
		quota:             quota,
		admission:         admission,
		log:               log,
		maxRetries:        maxRetries,
		heartbeatInterval: heartbeatInterval,
		now:               time.Now,
	}
}

// SetClock 替换时间源
func (e *StageExecutor) SetClock(now Clock) {
	e.now = now
}

// Execute 执行已认领任务的当前阶段
func (e *StageExecutor) Execute(ctx context.Context, taskID uint, workerID string) (ExecutionReport, error) {
	st, err := e.begin(ctx, taskID, workerID)
	if err != nil {
		return ExecutionReport{TaskID: taskID}, err
	}

	log := e.log.Named("stage",
		zap.Uint("task_id", taskID),
		zap.String("stage", st.Name),
		zap.String("worker_id", workerID))
	log.Info("🔄 开始执行阶段")

	start := time.Now()
	result, runErr := e.run(ctx, st, taskID, workerID, log)
	duration := time.Since(start)

	outcome := stage.Classify(runErr)
	report := ExecutionReport{
		TaskID:   taskID,
		Stage:    st.Name,
		Outcome:  outcome,
		Duration: duration,
		Err:      runErr,
	}

	// 外部调用已经结束，即使 ctx 被取消也要把结果写回
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	status, err := e.complete(saveCtx, taskID, workerID, st, outcome, result, runErr, duration)
	if err != nil {
		log.Error("写入阶段结果失败", zap.Error(err))
		return report, err
	}
	report.Status = status

	switch outcome {
	case stage.OutcomeSuccess:
		log.Info("✅ 阶段完成", zap.Duration("duration", duration), zap.String("status", string(status)))
		if st.Quota != "" && e.quota != nil {
			task, err := e.loadTask(saveCtx, taskID)
			if err != nil {
				return report, err
			}
			if _, err := e.quota.Record(saveCtx, task.ChannelID, st.Quota); err != nil {
				log.Error("阶段已成功但配额记录失败", zap.Error(err))
				return report, err
			}
		}
	case stage.OutcomeRateLimited:
		log.Warn("⏸️ 上游限流，任务退回队列", zap.Error(runErr))
		// 计费阶段的限流视为频道当天配额耗尽
		if st.Quota != "" && e.quota != nil {
			task, err := e.loadTask(saveCtx, taskID)
			if err != nil {
				return report, err
			}
			if _, err := e.quota.MarkExhausted(saveCtx, task.ChannelID); err != nil {
				log.Error("标记频道配额耗尽失败", zap.Error(err))
				return report, err
			}
		} else if e.admission != nil {
			e.admission.MarkUpstreamExhausted(st.Category)
		}
	case stage.OutcomeRetriable:
		log.Warn("❌ 阶段失败，可重试", zap.Error(runErr), zap.String("status", string(status)))
	case stage.OutcomeNonRetriable:
		log.Error("💀 阶段失败，不可重试", zap.Error(runErr), zap.String("status", string(status)))
	}

	return report, nil
}

// begin 事务1：确认认领归属并进入执行状态
func (e *StageExecutor) begin(ctx context.Context, taskID uint, workerID string) (model.Stage, error) {
	var st model.Stage
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
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

		var ok bool
		st, ok = model.StageByActive(task.Status)
		if !ok {
			return fmt.Errorf("任务 %d 状态 %s 不在执行阶段", task.ID, task.Status)
		}

		from := task.Status
		if task.Status == st.Claimed && st.Claimed != st.Working {
			if err := task.Transition(st.Working, e.now()); err != nil {
				return err
			}
		}
		info := task.Step(st.Name)
		info.Attempts++
		task.SetStep(st.Name, info)
		return saveTaskState(tx, task, from)
	})
	if err != nil {
		return model.Stage{}, fmt.Errorf("开始执行阶段失败: %w", err)
	}
	return st, nil
}

// run 不持有事务调用外部执行器，期间定期续约
func (e *StageExecutor) run(ctx context.Context, st model.Stage, taskID uint, workerID string, log *logger.Logger) (result stage.Result, err error) {
	handler, err := e.registry.Get(st.Name)
	if err != nil {
		return stage.Result{}, err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	if e.heartbeatInterval > 0 && e.claims != nil {
		go e.heartbeat(hbCtx, taskID, workerID, log)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("阶段执行器发生panic: %v", r)
		}
	}()

	return handler.Run(ctx, taskID)
}

func (e *StageExecutor) heartbeat(ctx context.Context, taskID uint, workerID string, log *logger.Logger) {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.claims.Heartbeat(ctx, taskID, workerID); err != nil {
				log.Warn("续约失败", zap.Error(err))
				if errors.Is(err, ErrTaskNotOwned) {
					return
				}
			}
		}
	}
}

// complete 事务2：重新加载任务并根据结果写入最终状态
func (e *StageExecutor) complete(ctx context.Context, taskID uint, workerID string, st model.Stage,
	outcome stage.Outcome, result stage.Result, runErr error, duration time.Duration) (model.TaskStatus, error) {
	var status model.TaskStatus

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		task, err := lockTask(tx, taskID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTaskVanished
			}
			return err
		}
		if task.ClaimedBy != workerID || task.Status != st.Working {
			return ErrTaskNotOwned
		}

		from := task.Status
		now := e.now()
		info := task.Step(st.Name)
		info.Duration = duration.Seconds()

		switch outcome {
		case stage.OutcomeSuccess:
			if err := task.Transition(st.Success, now); err != nil {
				return err
			}
			// 合成完成后直接进入终审
			if task.Status == model.StatusAssemblyReady {
				if err := task.Transition(model.StatusFinalReview, now); err != nil {
					return err
				}
			}
			info.Completed = true
			info.OutputRef = result.OutputRef
			task.TotalCost += result.Cost
			task.RetryCount = 0
			task.ErrorLog = ""

		case stage.OutcomeRateLimited:
			if err := task.Transition(st.From, now); err != nil {
				return err
			}
			task.ErrorLog = formatStageError(now, st.Name, runErr)

		case stage.OutcomeRetriable:
			task.RetryCount++
			next := st.From
			if task.RetryCount > e.maxRetries {
				next = st.Error
			}
			if err := task.Transition(next, now); err != nil {
				return err
			}
			task.ErrorLog = formatStageError(now, st.Name, runErr)

		default:
			if err := task.Transition(st.Error, now); err != nil {
				return err
			}
			task.ErrorLog = formatStageError(now, st.Name, runErr)
		}

		task.SetStep(st.Name, info)
		task.ReleaseClaim()
		status = task.Status
		return saveTaskState(tx, task, from)
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (e *StageExecutor) loadTask(ctx context.Context, taskID uint) (*model.Task, error) {
	var task model.Task
	if err := e.db.WithContext(ctx).Take(&task, taskID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskVanished
		}
		return nil, err
	}
	return &task, nil
}

func formatStageError(now time.Time, stageName string, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("[%s] %s: %v", now.Format(time.RFC3339), stageName, err)
}
