package service

import (
	"time"

	"tubeforge/app/model"
)

// DefaultCeilings 未配置时各类别的并发上限
var DefaultCeilings = map[model.StageCategory]int{
	model.CategoryAsset: 12,
	model.CategoryVideo: 3,
	model.CategoryAudio: 6,
}

// WorkerState worker 进程内的准入状态，不持久化也不跨进程共享。
// 本身不加锁，由 AdmissionController 串行访问。
type WorkerState struct {
	active         map[model.StageCategory]int
	ceilings       map[model.StageCategory]int
	exhaustedUntil map[model.StageCategory]time.Time
}

// NewWorkerState 创建计数全为零的状态
func NewWorkerState(ceilings map[model.StageCategory]int) WorkerState {
	s := WorkerState{
		active:         make(map[model.StageCategory]int),
		ceilings:       make(map[model.StageCategory]int),
		exhaustedUntil: make(map[model.StageCategory]time.Time),
	}
	for cat, def := range DefaultCeilings {
		s.ceilings[cat] = def
	}
	for cat, n := range ceilings {
		s.SetCeiling(cat, n)
	}
	return s
}

// CanClaim 该类别是否还有空闲槽位；无类别的阶段不受限制
func (s *WorkerState) CanClaim(cat model.StageCategory) bool {
	if cat == model.CategoryNone {
		return true
	}
	return s.active[cat] < s.Ceiling(cat)
}

// Increment 占用一个槽位
func (s *WorkerState) Increment(cat model.StageCategory) {
	if cat == model.CategoryNone {
		return
	}
	s.active[cat]++
}

// Decrement 释放一个槽位，最小为 0
func (s *WorkerState) Decrement(cat model.StageCategory) {
	if cat == model.CategoryNone {
		return
	}
	if s.active[cat] > 0 {
		s.active[cat]--
	}
}

// Active 当前活跃数
func (s *WorkerState) Active(cat model.StageCategory) int {
	return s.active[cat]
}

// Ceiling 当前并发上限
func (s *WorkerState) Ceiling(cat model.StageCategory) int {
	if n, ok := s.ceilings[cat]; ok {
		return n
	}
	return DefaultCeilings[cat]
}

// SetCeiling 设置并发上限，n<=0 时恢复默认值；返回旧值与是否变化
func (s *WorkerState) SetCeiling(cat model.StageCategory, n int) (old int, changed bool) {
	if cat == model.CategoryNone {
		return 0, false
	}
	if n <= 0 {
		n = DefaultCeilings[cat]
	}
	old = s.Ceiling(cat)
	s.ceilings[cat] = n
	return old, old != n
}

// MarkExhausted 标记上游资源耗尽，直到下一个 UTC 零点
func (s *WorkerState) MarkExhausted(cat model.StageCategory, now time.Time) time.Time {
	reset := nextUTCMidnight(now)
	s.exhaustedUntil[cat] = reset
	return reset
}

// IsExhausted 上游资源是否仍处于耗尽状态，到期后惰性清除
func (s *WorkerState) IsExhausted(cat model.StageCategory, now time.Time) bool {
	until, ok := s.exhaustedUntil[cat]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(s.exhaustedUntil, cat)
		return false
	}
	return true
}

// ExhaustedUntil 上游资源耗尽的重置时间
func (s *WorkerState) ExhaustedUntil(cat model.StageCategory) (time.Time, bool) {
	until, ok := s.exhaustedUntil[cat]
	return until, ok
}

func nextUTCMidnight(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
