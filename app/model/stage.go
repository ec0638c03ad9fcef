package model

// StageCategory 阶段类别，用于 worker 本地并发限制
type StageCategory string

const (
	CategoryNone  StageCategory = ""
	CategoryAsset StageCategory = "asset"
	CategoryVideo StageCategory = "video"
	CategoryAudio StageCategory = "audio"
)

// Categories 受并发限制的阶段类别
var Categories = []StageCategory{CategoryAsset, CategoryVideo, CategoryAudio}

// QuotaOperation 消耗 YouTube 配额的操作类型
type QuotaOperation string

const (
	QuotaUpload    QuotaOperation = "upload"
	QuotaUpdate    QuotaOperation = "update"
	QuotaList      QuotaOperation = "list"
	QuotaThumbnail QuotaOperation = "thumbnail"
	QuotaDelete    QuotaOperation = "delete"
	QuotaSearch    QuotaOperation = "search"
)

// Stage 流水线阶段定义
type Stage struct {
	Name     string
	From     TaskStatus // 可认领状态
	Claimed  TaskStatus // 认领后的状态，通常等于 Working
	Working  TaskStatus
	Success  TaskStatus
	Error    TaskStatus
	Category StageCategory
	Quota    QuotaOperation // 非空时执行前需检查配额，成功后记录
}

// Stages 固定的流水线阶段表
var Stages = []Stage{
	{
		Name: "assets", From: StatusQueued, Claimed: StatusClaimed, Working: StatusGeneratingAssets,
		Success: StatusAssetsReady, Error: StatusAssetError, Category: CategoryAsset,
	},
	{
		Name: "composites", From: StatusAssetsApproved, Claimed: StatusGeneratingComposites, Working: StatusGeneratingComposites,
		Success: StatusCompositesReady, Error: StatusCompositeError,
	},
	{
		Name: "video", From: StatusCompositesReady, Claimed: StatusGeneratingVideo, Working: StatusGeneratingVideo,
		Success: StatusVideoReady, Error: StatusVideoError, Category: CategoryVideo,
	},
	{
		Name: "audio", From: StatusVideoApproved, Claimed: StatusGeneratingAudio, Working: StatusGeneratingAudio,
		Success: StatusAudioReady, Error: StatusAudioError, Category: CategoryAudio,
	},
	{
		Name: "sfx", From: StatusAudioApproved, Claimed: StatusGeneratingSFX, Working: StatusGeneratingSFX,
		Success: StatusSFXReady, Error: StatusSFXError, Category: CategoryAudio,
	},
	{
		Name: "assembly", From: StatusSFXReady, Claimed: StatusAssembling, Working: StatusAssembling,
		Success: StatusAssemblyReady, Error: StatusAssemblyError,
	},
	{
		Name: "upload", From: StatusApproved, Claimed: StatusUploading, Working: StatusUploading,
		Success: StatusPublished, Error: StatusUploadError, Quota: QuotaUpload,
	},
}

// ClaimableStatuses 可被认领的全部状态
func ClaimableStatuses() []TaskStatus {
	out := make([]TaskStatus, 0, len(Stages))
	for _, s := range Stages {
		out = append(out, s.From)
	}
	return out
}

// StageByFrom 根据可认领状态查找阶段
func StageByFrom(status TaskStatus) (Stage, bool) {
	for _, s := range Stages {
		if s.From == status {
			return s, true
		}
	}
	return Stage{}, false
}

// StageByActive 根据认领中或执行中的状态查找阶段
func StageByActive(status TaskStatus) (Stage, bool) {
	for _, s := range Stages {
		if s.Claimed == status || s.Working == status {
			return s, true
		}
	}
	return Stage{}, false
}

// StageByError 根据错误状态查找阶段
func StageByError(status TaskStatus) (Stage, bool) {
	for _, s := range Stages {
		if s.Error == status {
			return s, true
		}
	}
	return Stage{}, false
}

// StageByName 根据阶段名查找
func StageByName(name string) (Stage, bool) {
	for _, s := range Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// ActiveStatuses 认领中或执行中的全部状态
func ActiveStatuses() []TaskStatus {
	var out []TaskStatus
	for _, s := range Stages {
		if s.Claimed != s.Working {
			out = append(out, s.Claimed)
		}
		out = append(out, s.Working)
	}
	return out
}
