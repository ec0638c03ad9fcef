package stage

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"tubeforge/app/model"

	"resty.dev/v3"
)

// HTTPHandler 通过 HTTP 调用外部阶段服务
type HTTPHandler struct {
	stageName string
	endpoint  string
	client    *resty.Client
}

type httpStageRequest struct {
	TaskID uint   `json:"task_id"`
	Stage  string `json:"stage"`
}

type httpStageResponse struct {
	Cost      float64 `json:"cost"`
	OutputRef string  `json:"output_ref"`
}

// NewHTTPHandler 创建 HTTP 阶段执行器
func NewHTTPHandler(stageName, endpoint string, timeout time.Duration) *HTTPHandler {
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &HTTPHandler{
		stageName: stageName,
		endpoint:  endpoint,
		client:    client,
	}
}

// RegisterHTTP 按 阶段名->地址 注册 HTTP 执行器，出现未知阶段名时不注册任何执行器
func RegisterHTTP(r *Registry, endpoints map[string]string, timeout time.Duration) ([]*HTTPHandler, error) {
	names := make([]string, 0, len(endpoints))
	for name := range endpoints {
		if _, ok := model.StageByName(name); !ok {
			return nil, fmt.Errorf("未知的阶段: %s", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	handlers := make([]*HTTPHandler, 0, len(names))
	for _, name := range names {
		h := NewHTTPHandler(name, endpoints[name], timeout)
		r.Register(name, h)
		handlers = append(handlers, h)
	}
	return handlers, nil
}

// Run 调用外部服务并按状态码分类错误
func (h *HTTPHandler) Run(ctx context.Context, taskID uint) (Result, error) {
	out := &httpStageResponse{}
	res, err := h.client.R().
		SetContext(ctx).
		SetBody(httpStageRequest{TaskID: taskID, Stage: h.stageName}).
		SetResult(out).
		Post(h.endpoint)
	if err != nil {
		return Result{}, fmt.Errorf("调用阶段服务[%s]失败: %w", h.stageName, err)
	}

	switch code := res.StatusCode(); {
	case code >= 200 && code < 300:
		return Result{Cost: out.Cost, OutputRef: out.OutputRef}, nil
	case code == http.StatusTooManyRequests:
		return Result{}, fmt.Errorf("阶段服务[%s]: %w: %s", h.stageName, ErrRateLimited, res.String())
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return Result{}, fmt.Errorf("阶段服务[%s]: %w: %s", h.stageName, ErrInvalidInput, res.String())
	case code == http.StatusNotFound, code == http.StatusGone:
		return Result{}, fmt.Errorf("阶段服务[%s]: %w: %s", h.stageName, ErrResourceMissing, res.String())
	default:
		return Result{}, fmt.Errorf("阶段服务[%s]返回 %d: %s", h.stageName, code, res.String())
	}
}

// Close 释放底层连接
func (h *HTTPHandler) Close() error {
	return h.client.Close()
}
