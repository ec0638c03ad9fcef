package service

import (
	"context"
	"sync"
	"time"

	"tubeforge/app/config"
	"tubeforge/app/logger"
	"tubeforge/app/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Worker 轮询认领任务并在本地并发执行
type Worker struct {
	id        string
	cfg       config.WorkerConfig
	claims    *ClaimSelector
	admission *AdmissionController
	executor  *StageExecutor
	log       *logger.Logger

	stopCh     chan struct{}
	wg         sync.WaitGroup // 轮询协程
	inFlight   sync.WaitGroup // 正在执行的阶段
	slots      chan struct{}
	execCtx    context.Context
	cancelExec context.CancelFunc
	mu         sync.Mutex
	running    bool
}

// NewWorker 创建 worker，每个进程使用独立的 worker ID
func NewWorker(cfg config.WorkerConfig, claims *ClaimSelector, admission *AdmissionController, executor *StageExecutor, log *logger.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	id := "worker-" + uuid.NewString()
	execCtx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:         id,
		cfg:        cfg,
		claims:     claims,
		admission:  admission,
		executor:   executor,
		log:        log.Named("worker", zap.String("worker_id", id)),
		stopCh:     make(chan struct{}),
		slots:      make(chan struct{}, cfg.MaxInFlight),
		execCtx:    execCtx,
		cancelExec: cancel,
	}
}

// ID worker 标识，写入任务的 claimed_by
func (w *Worker) ID() string {
	return w.id
}

// Start 启动轮询
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.running = true

	w.wg.Add(1)
	go w.loop()

	w.log.Info("🚀 worker已启动",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Int("max_in_flight", w.cfg.MaxInFlight))
}

// Stop 停止认领新任务，等待执行中的阶段完成；超过 drain_timeout 后取消剩余执行
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()

	done := make(chan struct{})
	go func() {
		w.inFlight.Wait()
		close(done)
	}()

	if w.cfg.DrainTimeout > 0 {
		select {
		case <-done:
		case <-time.After(w.cfg.DrainTimeout):
			w.log.Warn("等待执行中的阶段超时，取消剩余任务", zap.Duration("drain_timeout", w.cfg.DrainTimeout))
			w.cancelExec()
			<-done
		}
	} else {
		<-done
	}
	w.cancelExec()

	w.log.Info("worker已停止")
}

// Wait 等待所有已派发的阶段执行完毕
func (w *Worker) Wait() {
	w.inFlight.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.cfg.PollInterval+30*time.Second)
			if _, err := w.Poll(ctx); err != nil {
				w.log.Error("轮询任务失败", zap.Error(err))
			}
			cancel()
		}
	}
}

// Poll 认领并派发任务，直到没有空闲槽位或没有可认领任务，返回派发数量。
// 准入被拒的 (状态, 频道) 在本轮剩余时间内不再认领
func (w *Worker) Poll(ctx context.Context) (int, error) {
	dispatched := 0
	denied := make(map[model.TaskStatus][]string)
	for {
		select {
		case <-w.stopCh:
			return dispatched, nil
		default:
		}

		select {
		case w.slots <- struct{}{}:
		default:
			return dispatched, nil
		}

		result, err := w.dispatchOne(ctx, denied)
		if err != nil || result == dispatchIdle {
			<-w.slots
			return dispatched, err
		}
		if result == dispatchDenied {
			<-w.slots
			continue
		}
		dispatched++
	}
}

type dispatchResult int

const (
	dispatchIdle dispatchResult = iota
	dispatchStarted
	dispatchDenied
)

// dispatchOne 认领一个任务并派发执行；准入被拒时释放任务并记入 denied
func (w *Worker) dispatchOne(ctx context.Context, denied map[model.TaskStatus][]string) (dispatchResult, error) {
	filter, err := w.admission.ClaimFilter(ctx)
	if err != nil {
		return dispatchIdle, err
	}
	for status, channels := range denied {
		if filter.BlockedChannels == nil {
			filter.BlockedChannels = make(map[model.TaskStatus][]string)
		}
		filter.BlockedChannels[status] = append(filter.BlockedChannels[status], channels...)
	}

	task, err := w.claims.Claim(ctx, w.id, filter)
	if err != nil || task == nil {
		return dispatchIdle, err
	}

	ticket, decision, err := w.admission.Admit(ctx, task)
	if err != nil || !decision.Admitted {
		reason := decision.Reason
		if err != nil {
			reason = err.Error()
		}
		if relErr := w.claims.Release(ctx, task.ID, w.id, reason); relErr != nil {
			w.log.Error("释放未准入的任务失败", zap.Uint("task_id", task.ID), zap.Error(relErr))
		}
		if err != nil {
			return dispatchIdle, err
		}
		if st, ok := model.StageByActive(task.Status); ok {
			denied[st.From] = append(denied[st.From], task.ChannelID)
		}
		w.log.Debug("准入被拒，本轮跳过该频道",
			zap.Uint("task_id", task.ID),
			zap.String("channel_id", task.ChannelID),
			zap.String("reason", reason))
		return dispatchDenied, nil
	}

	w.inFlight.Add(1)
	go func(taskID uint) {
		defer w.inFlight.Done()
		defer func() { <-w.slots }()
		defer ticket.Release()

		if _, err := w.executor.Execute(w.execCtx, taskID, w.id); err != nil {
			w.log.Error("执行阶段失败", zap.Uint("task_id", taskID), zap.Error(err))
		}
	}(task.ID)
	return dispatchStarted, nil
}

// RunOnce 同步执行一轮认领和执行，命令行单次运行使用
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	n, err := w.Poll(ctx)
	w.Wait()
	return n, err
}
