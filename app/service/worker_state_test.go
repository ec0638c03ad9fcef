package service

import (
	"testing"
	"time"

	"tubeforge/app/model"

	"github.com/stretchr/testify/assert"
)

func TestWorkerStateCeiling(t *testing.T) {
	s := NewWorkerState(map[model.StageCategory]int{model.CategoryVideo: 3})

	for i := 0; i < 3; i++ {
		assert.True(t, s.CanClaim(model.CategoryVideo))
		s.Increment(model.CategoryVideo)
	}
	assert.False(t, s.CanClaim(model.CategoryVideo))
	assert.True(t, s.CanClaim(model.CategoryAudio))

	s.Decrement(model.CategoryVideo)
	assert.True(t, s.CanClaim(model.CategoryVideo))
	assert.Equal(t, 2, s.Active(model.CategoryVideo))
}

func TestWorkerStateDefaults(t *testing.T) {
	s := NewWorkerState(nil)
	assert.Equal(t, 12, s.Ceiling(model.CategoryAsset))
	assert.Equal(t, 3, s.Ceiling(model.CategoryVideo))
	assert.Equal(t, 6, s.Ceiling(model.CategoryAudio))

	// 无类别的阶段不受限制
	for i := 0; i < 100; i++ {
		s.Increment(model.CategoryNone)
	}
	assert.True(t, s.CanClaim(model.CategoryNone))
	assert.Equal(t, 0, s.Active(model.CategoryNone))
}

func TestWorkerStateDecrementNeverNegative(t *testing.T) {
	s := NewWorkerState(nil)
	s.Decrement(model.CategoryAudio)
	s.Decrement(model.CategoryAudio)
	assert.Equal(t, 0, s.Active(model.CategoryAudio))

	s.Increment(model.CategoryAudio)
	func() {
		defer s.Decrement(model.CategoryAudio)
		defer s.Decrement(model.CategoryAudio)
		defer func() { _ = recover() }()
		panic("stage failed")
	}()
	assert.Equal(t, 0, s.Active(model.CategoryAudio))
}

func TestWorkerStateSetCeiling(t *testing.T) {
	s := NewWorkerState(nil)

	old, changed := s.SetCeiling(model.CategoryVideo, 5)
	assert.True(t, changed)
	assert.Equal(t, 3, old)

	_, changed = s.SetCeiling(model.CategoryVideo, 5)
	assert.False(t, changed)

	_, changed = s.SetCeiling(model.CategoryVideo, 0)
	assert.True(t, changed)
	assert.Equal(t, 3, s.Ceiling(model.CategoryVideo))
}

func TestWorkerStateExhaustedUntilUTCMidnight(t *testing.T) {
	s := NewWorkerState(nil)
	now := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)

	reset := s.MarkExhausted(model.CategoryVideo, now)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), reset)

	assert.True(t, s.IsExhausted(model.CategoryVideo, now.Add(time.Hour)))
	assert.False(t, s.IsExhausted(model.CategoryAudio, now))
	assert.False(t, s.IsExhausted(model.CategoryVideo, reset))

	_, ok := s.ExhaustedUntil(model.CategoryVideo)
	assert.False(t, ok, "到期后清除标记")
}
