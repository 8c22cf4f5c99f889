package handler

import (
	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
	"github.com/gin-gonic/gin"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 登录
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	user, tokenPair, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		web.HandleError(c, err)
		return
	}

	web.Success(c, gin.H{
		"user":  user,
		"token": tokenPair,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken 刷新Token
// POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	tokenPair, err := h.svc.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		web.HandleError(c, err)
		return
	}

	web.Success(c, tokenPair)
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Logout 登出
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.svc.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, nil)
}

// GetCurrentUser 当前用户信息
// GET /api/v1/auth/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.svc.GetCurrentUser(c.Request.Context(), web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, user)
}
