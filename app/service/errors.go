package service

import (
	"errors"
	"time"
)

var (
	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("任务不存在")
	// ErrTaskVanished 短事务之间任务记录消失，属于数据完整性问题
	ErrTaskVanished = errors.New("任务在执行期间被删除")
	// ErrTaskNotOwned 任务已不属于当前 worker（租约过期后被回收）
	ErrTaskNotOwned = errors.New("任务已不属于当前worker")
	// ErrInvalidOperation 未知的配额操作类型
	ErrInvalidOperation = errors.New("无效的配额操作类型")
	// ErrChannelNotFound 频道不存在
	ErrChannelNotFound = errors.New("频道不存在")
	// ErrNotReviewable 任务不处于审核状态
	ErrNotReviewable = errors.New("任务不处于审核状态")
	// ErrNotRemediable 任务不处于错误状态
	ErrNotRemediable = errors.New("任务不处于错误状态")
)

// Clock 可替换的时间源
type Clock func() time.Time
