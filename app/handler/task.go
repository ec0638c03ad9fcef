package handler

import (
	"net/http"

	"tubeforge/app/middleware"
	"tubeforge/app/service"

	"github.com/gin-gonic/gin"
)

// TaskHandler 任务录入、查询与审核
type TaskHandler struct {
	tasks   *service.TaskService
	reviews *service.ReviewService
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(tasks *service.TaskService, reviews *service.ReviewService) *TaskHandler {
	return &TaskHandler{tasks: tasks, reviews: reviews}
}

// CreateTask 创建任务
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req service.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	task, err := h.tasks.Create(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, ApiResponse{Code: 0, Message: "创建成功", Data: task})
}

// SubmitTask 草稿进入队列
func (h *TaskHandler) SubmitTask(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	task, err := h.tasks.Submit(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, task, "已提交")
}

// GetTask 获取任务
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, task, "success")
}

// ListTasks 分页查询任务
func (h *TaskHandler) ListTasks(c *gin.Context) {
	var q service.TaskListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	tasks, total, err := h.tasks.List(c.Request.Context(), q)
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, gin.H{
		"items": tasks,
		"total": total,
	}, "success")
}

// StatusCounts 各状态任务数量
func (h *TaskHandler) StatusCounts(c *gin.Context) {
	counts, err := h.tasks.StatusCounts(c.Request.Context(), c.Query("channel_id"))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, counts, "success")
}

// ApproveTask 审核通过
func (h *TaskHandler) ApproveTask(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	task, err := h.reviews.Approve(c.Request.Context(), id, middleware.Operator(c))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, task, "审核通过")
}

// RemediateTask 错误修复后重新入队
func (h *TaskHandler) RemediateTask(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	task, err := h.reviews.Remediate(c.Request.Context(), id, middleware.Operator(c))
	if err != nil {
		failErr(c, err)
		return
	}
	success(c, task, "已重新入队")
}
