package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tubeforge/app/config"
	"tubeforge/app/logger"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert 结构化告警事件
type Alert struct {
	Level   AlertLevel     `json:"level"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
	At      time.Time      `json:"at"`
}

// Notifier 告警投递通道
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

type alertKey struct {
	channelID string
	level     AlertLevel
}

// AlertService 配额阈值告警，同一 (频道, 级别) 在节流窗口内只发送一次
type AlertService struct {
	notifier Notifier
	log      *logger.Logger
	now      Clock

	warningAt  float64
	criticalAt float64
	window     time.Duration
	timeout    time.Duration

	mu       sync.Mutex
	lastSent map[alertKey]time.Time

	queue    chan Alert
	pending  sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

const alertQueueSize = 64

// NewAlertService 创建告警服务
func NewAlertService(quotaCfg config.QuotaConfig, alertCfg config.AlertConfig, notifier Notifier, log *logger.Logger) *AlertService {
	s := &AlertService{
		notifier:   notifier,
		log:        log,
		now:        time.Now,
		warningAt:  quotaCfg.WarningThreshold,
		criticalAt: quotaCfg.CriticalThreshold,
		window:     quotaCfg.AlertThrottle,
		timeout:    alertCfg.Timeout,
		lastSent:   make(map[alertKey]time.Time),
		queue:      make(chan Alert, alertQueueSize),
		stopCh:     make(chan struct{}),
	}
	if s.warningAt <= 0 {
		s.warningAt = 0.8
	}
	if s.criticalAt <= 0 {
		s.criticalAt = 1.0
	}
	if s.window <= 0 {
		s.window = 5 * time.Minute
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	go s.deliverLoop()
	return s
}

// SetClock 替换时间源
func (s *AlertService) SetClock(now Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// LevelFor 根据用量比例计算告警级别
func (s *AlertService) LevelFor(used, limit int) (AlertLevel, bool) {
	if limit <= 0 {
		return "", false
	}
	fraction := float64(used) / float64(limit)
	switch {
	case fraction >= s.criticalAt:
		return AlertCritical, true
	case fraction >= s.warningAt:
		return AlertWarning, true
	default:
		return "", false
	}
}

// EvaluateQuota 在配额记录成功后调用，必要时异步发送告警；返回是否发送
func (s *AlertService) EvaluateQuota(channelID string, used, limit int) (AlertLevel, bool) {
	level, ok := s.LevelFor(used, limit)
	if !ok {
		return "", false
	}

	s.mu.Lock()
	now := s.now()
	key := alertKey{channelID: channelID, level: level}
	if last, seen := s.lastSent[key]; seen && now.Sub(last) < s.window {
		s.mu.Unlock()
		s.log.Debug("配额告警处于节流窗口，跳过",
			zap.String("channel_id", channelID), zap.String("level", string(level)))
		return level, false
	}
	s.lastSent[key] = now

	percent := float64(used) / float64(limit) * 100
	alert := Alert{
		Level:   level,
		Message: fmt.Sprintf("频道[%s] YouTube 配额已使用 %.1f%% (%d/%d)", channelID, percent, used, limit),
		Details: map[string]any{
			"channel_id": channelID,
			"usage":      used,
			"cap":        limit,
			"percent":    percent,
		},
		At: now,
	}
	// 持锁入队，保证投递顺序与判定顺序一致
	s.enqueue(alert)
	s.mu.Unlock()
	return level, true
}

// enqueue 放入投递队列，队列已满或服务已停止时丢弃并记录日志
func (s *AlertService) enqueue(alert Alert) {
	if s.notifier == nil {
		return
	}

	select {
	case <-s.stopCh:
		s.log.Warn("告警服务已停止，丢弃告警", zap.String("level", string(alert.Level)))
		return
	default:
	}

	s.pending.Add(1)
	select {
	case s.queue <- alert:
	default:
		s.pending.Done()
		s.log.Warn("告警队列已满，丢弃告警",
			zap.String("level", string(alert.Level)),
			zap.Any("details", alert.Details))
	}
}

// deliverLoop 单个协程按入队顺序投递
func (s *AlertService) deliverLoop() {
	for {
		select {
		case <-s.stopCh:
			for {
				select {
				case <-s.queue:
					s.pending.Done()
				default:
					return
				}
			}
		case alert := <-s.queue:
			s.deliver(alert)
			s.pending.Done()
		}
	}
}

// deliver 投递一条告警，失败只记录日志
func (s *AlertService) deliver(alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("告警投递发生panic", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.log.Warn("告警投递失败",
			zap.String("level", string(alert.Level)),
			zap.Any("details", alert.Details),
			zap.Error(err))
	}
}

// Flush 等待已入队的告警投递完成
func (s *AlertService) Flush() {
	s.pending.Wait()
}

// Stop 停止投递协程，未投递的告警被丢弃；先调用 Flush 可等待队列清空
func (s *AlertService) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
