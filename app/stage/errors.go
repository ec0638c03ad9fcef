package stage

import (
	"errors"
	"os"

	"gorm.io/gorm"
)

// Outcome 阶段执行失败后的处理方式
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeRetriable 连接、超时及所有未分类错误，回到可认领状态
	OutcomeRetriable
	// OutcomeNonRetriable 输入错误、数据缺失、资源不存在，进入错误状态
	OutcomeNonRetriable
	// OutcomeRateLimited 上游明确返回限流，worker 标记该资源耗尽
	OutcomeRateLimited
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetriable:
		return "retriable"
	case OutcomeNonRetriable:
		return "non_retriable"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidInput    = errors.New("输入数据无效")
	ErrMissingData     = errors.New("缺少必需的数据")
	ErrResourceMissing = errors.New("所需资源不存在")
	ErrRateLimited     = errors.New("上游接口限流")
)

// permanentError 标记为不可重试的错误
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 将任意错误标记为不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify 对阶段执行返回的错误进行分类
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	if errors.Is(err, ErrRateLimited) {
		return OutcomeRateLimited
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return OutcomeNonRetriable
	}

	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrMissingData),
		errors.Is(err, ErrResourceMissing),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, os.ErrNotExist):
		return OutcomeNonRetriable
	}

	// 超时、连接错误以及未知错误都可以重试
	return OutcomeRetriable
}
