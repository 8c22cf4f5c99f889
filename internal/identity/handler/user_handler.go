package handler

import (
	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
	"github.com/gin-gonic/gin"
)

// UserHandler 用户管理处理器
type UserHandler struct {
	svc *service.UserService
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// List 用户列表
// GET /api/v1/users?kind=xxx&org_id=xxx&page=1&page_size=20
func (h *UserHandler) List(c *gin.Context) {
	page, pageSize := web.GetPagination(c)

	items, total, err := h.svc.List(c.Request.Context(), c.Query("kind"), c.Query("org_id"), page, pageSize)
	if err != nil {
		web.InternalError(c, "获取用户列表失败: "+err.Error())
		return
	}

	web.SuccessList(c, items, total, page, pageSize)
}

// Get 用户详情
// GET /api/v1/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, user)
}

// Create 创建用户
// POST /api/v1/users
func (h *UserHandler) Create(c *gin.Context) {
	var req service.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.svc.Create(c.Request.Context(), &req)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, user)
}

// UpdateStatus 启用/停用用户
// PUT /api/v1/users/:id/status
func (h *UserHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, user)
}

// GrantCapabilities 授予能力
// PUT /api/v1/users/:id/capabilities
func (h *UserHandler) GrantCapabilities(c *gin.Context) {
	var req service.GrantCapabilitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	user, err := h.svc.GrantCapabilities(c.Request.Context(), c.Param("id"), req.Capabilities)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, user)
}
