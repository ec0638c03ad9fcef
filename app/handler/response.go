package handler

import (
	"errors"
	"net/http"
	"strconv"

	"tubeforge/app/model"
	"tubeforge/app/service"

	"github.com/gin-gonic/gin"
)

// ApiResponse 统一响应结构
type ApiResponse struct {
	Code    int    `json:"code"`    // 状态码，0表示成功
	Message string `json:"message"` // 响应消息
	Data    any    `json:"data"`    // 响应数据
}

// success 创建成功响应
func success(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, ApiResponse{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// fail 创建错误响应
func fail(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, ApiResponse{
		Code:    statusCode,
		Message: message,
		Data:    nil,
	})
}

// failErr 按业务错误类型映射HTTP状态码
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound), errors.Is(err, service.ErrChannelNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrNotReviewable), errors.Is(err, service.ErrNotRemediable),
		errors.Is(err, model.ErrInvalidTransition):
		fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidOperation):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

// paramID 解析路径中的 :id
func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "无效的任务ID")
		return 0, false
	}
	return uint(id), true
}
