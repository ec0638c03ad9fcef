package model

import (
	"errors"
	"fmt"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	StatusDraft  TaskStatus = "draft"
	StatusQueued TaskStatus = "queued"
	// StatusClaimed 只用于第一个阶段：worker 已认领，尚未开始生成素材
	StatusClaimed TaskStatus = "claimed"

	StatusGeneratingAssets TaskStatus = "generating_assets"
	StatusAssetsReady      TaskStatus = "assets_ready"
	StatusAssetsApproved   TaskStatus = "assets_approved"

	StatusGeneratingComposites TaskStatus = "generating_composites"
	StatusCompositesReady      TaskStatus = "composites_ready"

	StatusGeneratingVideo TaskStatus = "generating_video"
	StatusVideoReady      TaskStatus = "video_ready"
	StatusVideoApproved   TaskStatus = "video_approved"

	StatusGeneratingAudio TaskStatus = "generating_audio"
	StatusAudioReady      TaskStatus = "audio_ready"
	StatusAudioApproved   TaskStatus = "audio_approved"

	StatusGeneratingSFX TaskStatus = "generating_sfx"
	StatusSFXReady      TaskStatus = "sfx_ready"

	StatusAssembling    TaskStatus = "assembling"
	StatusAssemblyReady TaskStatus = "assembly_ready"
	StatusFinalReview   TaskStatus = "final_review"
	StatusApproved      TaskStatus = "approved"

	StatusUploading TaskStatus = "uploading"
	StatusPublished TaskStatus = "published"

	StatusAssetError     TaskStatus = "asset_error"
	StatusCompositeError TaskStatus = "composite_error"
	StatusVideoError     TaskStatus = "video_error"
	StatusAudioError     TaskStatus = "audio_error"
	StatusSFXError       TaskStatus = "sfx_error"
	StatusAssemblyError  TaskStatus = "assembly_error"
	StatusUploadError    TaskStatus = "upload_error"
)

// ErrInvalidTransition 状态机不允许的状态变更
var ErrInvalidTransition = errors.New("非法的任务状态变更")

// AllStatuses 按流水线顺序排列的全部状态，错误状态在最后
var AllStatuses = []TaskStatus{
	StatusDraft, StatusQueued, StatusClaimed,
	StatusGeneratingAssets, StatusAssetsReady, StatusAssetsApproved,
	StatusGeneratingComposites, StatusCompositesReady,
	StatusGeneratingVideo, StatusVideoReady, StatusVideoApproved,
	StatusGeneratingAudio, StatusAudioReady, StatusAudioApproved,
	StatusGeneratingSFX, StatusSFXReady,
	StatusAssembling, StatusAssemblyReady, StatusFinalReview, StatusApproved,
	StatusUploading, StatusPublished,
	StatusAssetError, StatusCompositeError, StatusVideoError, StatusAudioError,
	StatusSFXError, StatusAssemblyError, StatusUploadError,
}

// reviewGates 需要人工审核的状态及其审核通过后的状态
var reviewGates = map[TaskStatus]TaskStatus{
	StatusAssetsReady: StatusAssetsApproved,
	StatusVideoReady:  StatusVideoApproved,
	StatusAudioReady:  StatusAudioApproved,
	StatusFinalReview: StatusApproved,
}

// transitions 状态机表：状态 -> 允许的下一个状态
var transitions = buildTransitions()

func buildTransitions() map[TaskStatus]map[TaskStatus]bool {
	t := make(map[TaskStatus]map[TaskStatus]bool)
	allow := func(from, to TaskStatus) {
		if t[from] == nil {
			t[from] = make(map[TaskStatus]bool)
		}
		t[from][to] = true
	}

	allow(StatusDraft, StatusQueued)

	for _, s := range Stages {
		if s.Claimed != s.Working {
			// 认领 -> 开始执行；认领后释放回队列
			allow(s.From, s.Claimed)
			allow(s.Claimed, s.Working)
			allow(s.Claimed, s.From)
		} else {
			allow(s.From, s.Working)
		}
		allow(s.Working, s.Success)
		allow(s.Working, s.Error)
		// 可重试失败、租约过期、准入被拒时回到可认领状态
		allow(s.Working, s.From)
		// 错误状态只能通过外部修复退出
		allow(s.Error, s.From)
		allow(s.Error, s.Working)
	}

	for gate, next := range reviewGates {
		allow(gate, next)
	}
	allow(StatusAssemblyReady, StatusFinalReview)

	return t
}

// CanTransition 检查状态变更是否合法
func CanTransition(from, to TaskStatus) bool {
	return transitions[from][to]
}

// NextStatuses 返回某个状态允许变更到的状态
func NextStatuses(from TaskStatus) []TaskStatus {
	var next []TaskStatus
	for _, s := range AllStatuses {
		if transitions[from][s] {
			next = append(next, s)
		}
	}
	return next
}

// IsReviewGate 是否为人工审核状态
func (s TaskStatus) IsReviewGate() bool {
	_, ok := reviewGates[s]
	return ok
}

// ApprovedStatus 返回审核通过后的状态
func (s TaskStatus) ApprovedStatus() (TaskStatus, bool) {
	next, ok := reviewGates[s]
	return next, ok
}

// IsError 是否为错误状态
func (s TaskStatus) IsError() bool {
	_, ok := StageByError(s)
	return ok
}

// IsValid 是否为已定义的状态
func (s TaskStatus) IsValid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func transitionError(from, to TaskStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
