package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
)

// TagHandler 标签生命周期接口。发行与扫码都是仓库现场操作，只对内开放。
type TagHandler struct {
	tagService *service.TagService
}

func NewTagHandler(tagService *service.TagService) *TagHandler {
	return &TagHandler{tagService: tagService}
}

// ScanRequest 扫码请求体，place为扫码工位
type ScanRequest struct {
	Place string `json:"place"`
}

// IssueTag POST /api/v1/tags
func (h *TagHandler) IssueTag(c *gin.Context) {
	var req service.IssueTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	tag, err := h.tagService.IssueTag(c.Request.Context(), &req, web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, tag)
}

// ListTags GET /api/v1/tags
func (h *TagHandler) ListTags(c *gin.Context) {
	page, pageSize := web.GetPagination(c)
	tags, total, err := h.tagService.ListTags(c.Request.Context(), c.Query("part_id"), c.Query("status"), page, pageSize)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.SuccessList(c, tags, total, page, pageSize)
}

// GetTag GET /api/v1/tags/:tagNo
func (h *TagHandler) GetTag(c *gin.Context) {
	detail, err := h.tagService.GetTag(c.Request.Context(), c.Param("tagNo"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, detail)
}

// ScanTag POST /api/v1/tags/:tagNo/scan
func (h *TagHandler) ScanTag(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.tagService.ScanTag(c.Request.Context(), c.Param("tagNo"), scanActor(c), req.Place)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}

// CancelTag POST /api/v1/tags/:tagNo/cancel
func (h *TagHandler) CancelTag(c *gin.Context) {
	tag, err := h.tagService.CancelTag(c.Request.Context(), c.Param("tagNo"), web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, tag)
}

// IssueLabel POST /api/v1/labels
func (h *TagHandler) IssueLabel(c *gin.Context) {
	var req service.IssueLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	label, err := h.tagService.IssueLabel(c.Request.Context(), &req, web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, label)
}

// ListLabels GET /api/v1/labels
func (h *TagHandler) ListLabels(c *gin.Context) {
	page, pageSize := web.GetPagination(c)
	labels, total, err := h.tagService.ListLabels(c.Request.Context(), c.Query("part_id"), c.Query("status"), page, pageSize)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.SuccessList(c, labels, total, page, pageSize)
}

// GetLabel GET /api/v1/labels/:tagNo
func (h *TagHandler) GetLabel(c *gin.Context) {
	detail, err := h.tagService.GetLabel(c.Request.Context(), c.Param("tagNo"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, detail)
}

// ScanLabel POST /api/v1/labels/:tagNo/scan
func (h *TagHandler) ScanLabel(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.tagService.ScanLabel(c.Request.Context(), c.Param("tagNo"), scanActor(c), req.Place)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}

// DisposeLabel POST /api/v1/labels/:tagNo/dispose
func (h *TagHandler) DisposeLabel(c *gin.Context) {
	label, err := h.tagService.DisposeLabel(c.Request.Context(), c.Param("tagNo"), web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, label)
}

// scanActor 扫码人。履历里展示姓名，没有姓名时退回用户ID。
func scanActor(c *gin.Context) string {
	actor := web.GetUserName(c)
	if actor == "" {
		actor = web.GetUserID(c)
	}
	return actor
}
