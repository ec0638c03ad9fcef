package stage

import (
	"context"
	"fmt"
	"sync"

	"tubeforge/app/model"
)

// Result 阶段执行成功时的返回
type Result struct {
	Cost      float64 // 本次执行的成本增量
	OutputRef string  // 产物引用（文件路径、URL 等）
}

// Handler 外部阶段执行器，只接收任务 ID，具体实现不属于调度核心
type Handler interface {
	Run(ctx context.Context, taskID uint) (Result, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, taskID uint) (Result, error)

func (f HandlerFunc) Run(ctx context.Context, taskID uint) (Result, error) {
	return f(ctx, taskID)
}

// Registry 阶段名到执行器的映射
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建执行器注册表
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册阶段执行器，重复注册会覆盖
func (r *Registry) Register(stageName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stageName] = h
}

// Get 获取阶段执行器
func (r *Registry) Get(stageName string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[stageName]
	if !ok {
		return nil, Permanent(fmt.Errorf("阶段 %s 未注册执行器", stageName))
	}
	return h, nil
}

// Has 是否注册了阶段执行器
func (r *Registry) Has(stageName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[stageName]
	return ok
}

// Missing 还没有注册执行器的阶段，按流水线顺序返回
func (r *Registry) Missing() []string {
	var out []string
	for _, st := range model.Stages {
		if !r.Has(st.Name) {
			out = append(out, st.Name)
		}
	}
	return out
}
