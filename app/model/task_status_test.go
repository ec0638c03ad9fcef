package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllStatusesAreDistinct(t *testing.T) {
	seen := make(map[TaskStatus]bool)
	for _, s := range AllStatuses {
		assert.False(t, seen[s], "重复的状态 %s", s)
		seen[s] = true
		assert.True(t, s.IsValid())
	}
	assert.Len(t, AllStatuses, 29)
	assert.False(t, TaskStatus("rendering").IsValid())
}

func TestHappyPathIsReachable(t *testing.T) {
	path := []TaskStatus{
		StatusDraft, StatusQueued, StatusClaimed, StatusGeneratingAssets, StatusAssetsReady, StatusAssetsApproved,
		StatusGeneratingComposites, StatusCompositesReady,
		StatusGeneratingVideo, StatusVideoReady, StatusVideoApproved,
		StatusGeneratingAudio, StatusAudioReady, StatusAudioApproved,
		StatusGeneratingSFX, StatusSFXReady,
		StatusAssembling, StatusAssemblyReady, StatusFinalReview, StatusApproved,
		StatusUploading, StatusPublished,
	}
	for i := 0; i+1 < len(path); i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestInvalidTransitions(t *testing.T) {
	cases := []struct{ from, to TaskStatus }{
		{StatusQueued, StatusPublished},
		{StatusDraft, StatusClaimed},
		{StatusAssetsReady, StatusGeneratingComposites}, // 审核不可跳过
		{StatusFinalReview, StatusUploading},
		{StatusPublished, StatusQueued},
		{StatusAssetError, StatusVideoReady},
		{StatusGeneratingVideo, StatusAudioReady},
	}
	for _, c := range cases {
		assert.False(t, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
	assert.Empty(t, NextStatuses(StatusPublished))
}

func TestErrorStatesOnlyExitToStage(t *testing.T) {
	for _, st := range Stages {
		next := NextStatuses(st.Error)
		assert.ElementsMatch(t, []TaskStatus{st.From, st.Working}, next, st.Name)
		assert.True(t, st.Error.IsError())
	}
	assert.False(t, StatusQueued.IsError())
}

func TestReviewGates(t *testing.T) {
	gates := map[TaskStatus]TaskStatus{
		StatusAssetsReady: StatusAssetsApproved,
		StatusVideoReady:  StatusVideoApproved,
		StatusAudioReady:  StatusAudioApproved,
		StatusFinalReview: StatusApproved,
	}
	for gate, want := range gates {
		assert.True(t, gate.IsReviewGate())
		got, ok := gate.ApprovedStatus()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := StatusSFXReady.ApprovedStatus()
	assert.False(t, ok)
}

func TestTaskTransitionTimestamps(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &Task{Status: StatusQueued}

	require.NoError(t, task.Transition(StatusClaimed, now))
	require.NotNil(t, task.PipelineStartedAt)
	assert.Equal(t, now, *task.PipelineStartedAt)

	require.NoError(t, task.Transition(StatusGeneratingAssets, now))
	require.NoError(t, task.Transition(StatusAssetsReady, now.Add(time.Minute)))
	require.NotNil(t, task.ReviewStartedAt)
	assert.Nil(t, task.ReviewCompletedAt)

	require.NoError(t, task.Transition(StatusAssetsApproved, now.Add(2*time.Minute)))
	require.NotNil(t, task.ReviewCompletedAt)
	assert.Equal(t, now.Add(2*time.Minute), *task.ReviewCompletedAt)

	err := task.Transition(StatusPublished, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusAssetsApproved, task.Status)
}

func TestTaskPublishedSetsCompletion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := &Task{Status: StatusUploading}
	require.NoError(t, task.Transition(StatusPublished, now))
	require.NotNil(t, task.PipelineCompletedAt)
	assert.Equal(t, now, *task.PipelineCompletedAt)
}
