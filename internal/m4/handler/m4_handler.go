package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
)

// M4Handler 4M变更申请接口
type M4Handler struct {
	m4Service *service.M4Service
}

func NewM4Handler(m4Service *service.M4Service) *M4Handler {
	return &M4Handler{m4Service: m4Service}
}

// RejectRequest 驳回请求体
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// currentActor 从请求上下文取当前操作人
func currentActor(c *gin.Context) service.Actor {
	return service.Actor{
		ID:   web.GetUserID(c),
		Kind: web.GetUserKind(c),
		Org:  web.GetOrgID(c),
	}
}

// Create POST /api/v1/m4-requests
func (h *M4Handler) Create(c *gin.Context) {
	var req service.CreateM4Request
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	request, err := h.m4Service.Create(c.Request.Context(), &req, currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, request)
}

// List GET /api/v1/m4-requests
func (h *M4Handler) List(c *gin.Context) {
	page, pageSize := web.GetPagination(c)
	requests, total, err := h.m4Service.List(c.Request.Context(), currentActor(c),
		c.Query("status"), c.Query("vendor_id"), c.Query("requester_id"), page, pageSize)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.SuccessList(c, requests, total, page, pageSize)
}

// Get GET /api/v1/m4-requests/:id
func (h *M4Handler) Get(c *gin.Context) {
	request, err := h.m4Service.Get(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}

// Update PUT /api/v1/m4-requests/:id
func (h *M4Handler) Update(c *gin.Context) {
	var req service.UpdateM4Request
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	request, err := h.m4Service.Update(c.Request.Context(), c.Param("id"), &req, currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}

// ListChangeLogs GET /api/v1/m4-requests/:id/changelogs
func (h *M4Handler) ListChangeLogs(c *gin.Context) {
	logs, err := h.m4Service.ListChangeLogs(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, logs)
}

// Submit POST /api/v1/m4-requests/:id/submit
func (h *M4Handler) Submit(c *gin.Context) {
	request, err := h.m4Service.Submit(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}

// ApproveReview1 POST /api/v1/m4-requests/:id/review1
func (h *M4Handler) ApproveReview1(c *gin.Context) {
	request, err := h.m4Service.ApproveReview1(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}

// ApproveReview2 POST /api/v1/m4-requests/:id/review2
func (h *M4Handler) ApproveReview2(c *gin.Context) {
	request, err := h.m4Service.ApproveReview2(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}

// FinalApprove POST /api/v1/m4-requests/:id/approve
func (h *M4Handler) FinalApprove(c *gin.Context) {
	request, err := h.m4Service.FinalApprove(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}

// Reject POST /api/v1/m4-requests/:id/reject
func (h *M4Handler) Reject(c *gin.Context) {
	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "驳回理由必填")
		return
	}

	request, err := h.m4Service.Reject(c.Request.Context(), c.Param("id"), currentActor(c), req.Reason)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}

// Resubmit POST /api/v1/m4-requests/:id/resubmit
func (h *M4Handler) Resubmit(c *gin.Context) {
	request, err := h.m4Service.Resubmit(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, request)
}
