package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageLookups(t *testing.T) {
	st, ok := StageByFrom(StatusApproved)
	require.True(t, ok)
	assert.Equal(t, "upload", st.Name)
	assert.Equal(t, QuotaUpload, st.Quota)

	st, ok = StageByActive(StatusClaimed)
	require.True(t, ok)
	assert.Equal(t, "assets", st.Name)

	st, ok = StageByActive(StatusGeneratingSFX)
	require.True(t, ok)
	assert.Equal(t, CategoryAudio, st.Category)

	st, ok = StageByError(StatusAssemblyError)
	require.True(t, ok)
	assert.Equal(t, StatusSFXReady, st.From)

	_, ok = StageByName("thumbnail")
	assert.False(t, ok)

	assert.Len(t, ClaimableStatuses(), len(Stages))
	assert.Contains(t, ActiveStatuses(), StatusClaimed)
	assert.Contains(t, ActiveStatuses(), StatusUploading)
	assert.NotContains(t, ActiveStatuses(), StatusQueued)
}

func TestPriorityOrder(t *testing.T) {
	assert.Equal(t, []Priority{PriorityHigh, PriorityNormal, PriorityLow}, Priorities)
	assert.False(t, Priority("urgent").IsValid())
}

func TestClaimAndRelease(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &Task{}
	task.Claim("worker-1", 7, now, 5*time.Minute)
	assert.Equal(t, "worker-1", task.ClaimedBy)
	assert.EqualValues(t, 7, task.ClaimSeq)
	require.NotNil(t, task.LeaseExpiresAt)
	assert.Equal(t, now.Add(5*time.Minute), *task.LeaseExpiresAt)

	task.ReleaseClaim()
	assert.Empty(t, task.ClaimedBy)
	assert.Nil(t, task.LeaseExpiresAt)
	require.NotNil(t, task.ClaimedAt)
	assert.EqualValues(t, 7, task.ClaimSeq, "认领序号保留用于频道轮转")
}

func TestStepMeta(t *testing.T) {
	task := &Task{}
	assert.Equal(t, StepInfo{}, task.Step("video"))
	task.SetStep("video", StepInfo{Attempts: 1})
	assert.Equal(t, 1, task.Step("video").Attempts)
}

func TestQuotaRecordBoundary(t *testing.T) {
	rec := QuotaRecord{UnitsUsed: 8400, DailyLimit: 10000}
	assert.True(t, rec.CanAfford(1600))
	assert.False(t, rec.CanAfford(1601))
	assert.Equal(t, 1600, rec.Remaining())
	assert.InDelta(t, 0.84, rec.UsageFraction(), 1e-9)

	over := QuotaRecord{UnitsUsed: 12000, DailyLimit: 10000}
	assert.Equal(t, 0, over.Remaining())
}

func TestChannelQuotaLimit(t *testing.T) {
	assert.Equal(t, 10000, (&Channel{}).QuotaLimit(10000))
	assert.Equal(t, 5000, (&Channel{DailyQuota: 5000}).QuotaLimit(10000))
}
