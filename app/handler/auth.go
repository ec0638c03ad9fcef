package handler

import (
	"net/http"
	"strings"
	"time"

	"tubeforge/app/auth"
	"tubeforge/app/middleware"
	"tubeforge/app/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthHandler 运维账户认证
type AuthHandler struct {
	db         *gorm.DB
	jwtService *auth.JWTService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(db *gorm.DB, jwtService *auth.JWTService) *AuthHandler {
	return &AuthHandler{db: db, jwtService: jwtService}
}

// LoginRequest 登录请求结构
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应结构
type LoginResponse struct {
	Token    string          `json:"token"`
	Operator *model.Operator `json:"operator"`
	ExpireAt int64           `json:"expire_at"`
}

// Login 运维账户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误: "+err.Error())
		return
	}

	var op model.Operator
	if err := h.db.Where("username = ?", req.Username).First(&op).Error; err != nil {
		fail(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	if !auth.VerifyPassword(req.Password, op.Password) {
		fail(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}
	if !op.IsActive {
		fail(c, http.StatusForbidden, "账户已被禁用")
		return
	}

	token, expireAt, err := h.jwtService.GenerateToken(op.ID, op.Username)
	if err != nil {
		fail(c, http.StatusInternalServerError, "生成令牌失败")
		return
	}

	now := time.Now()
	h.db.Model(&op).Update("last_login", now)
	op.LastLogin = &now

	success(c, LoginResponse{
		Token:    token,
		Operator: &op,
		ExpireAt: expireAt.Unix(),
	}, "登录成功")
}

// RefreshToken 刷新令牌
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		fail(c, http.StatusUnauthorized, "Authorization header is required")
		return
	}

	newToken, expireAt, err := h.jwtService.RefreshToken(token)
	if err != nil {
		fail(c, http.StatusUnauthorized, "刷新令牌失败: "+err.Error())
		return
	}

	success(c, gin.H{
		"token":     newToken,
		"expire_at": expireAt.Unix(),
	}, "刷新成功")
}

// Me 当前运维账户信息
func (h *AuthHandler) Me(c *gin.Context) {
	id, exists := c.Get(middleware.ContextOperatorID)
	if !exists {
		fail(c, http.StatusUnauthorized, "未认证")
		return
	}

	var op model.Operator
	if err := h.db.First(&op, id).Error; err != nil {
		fail(c, http.StatusNotFound, "账户不存在")
		return
	}
	success(c, op, "success")
}
