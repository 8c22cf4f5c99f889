package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
)

// FormalHandler 正式4M文件接口
type FormalHandler struct {
	formalService *service.FormalService
}

func NewFormalHandler(formalService *service.FormalService) *FormalHandler {
	return &FormalHandler{formalService: formalService}
}

// Derive POST /api/v1/m4-requests/:id/derive
func (h *FormalHandler) Derive(c *gin.Context) {
	formal, err := h.formalService.Derive(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, formal)
}

// GetByRequest GET /api/v1/m4-requests/:id/formal
func (h *FormalHandler) GetByRequest(c *gin.Context) {
	formal, err := h.formalService.GetByRequest(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, formal)
}

// List GET /api/v1/formal-documents
func (h *FormalHandler) List(c *gin.Context) {
	page, pageSize := web.GetPagination(c)
	formals, total, err := h.formalService.List(c.Request.Context(), currentActor(c),
		c.Query("status"), c.Query("vendor_id"), page, pageSize)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.SuccessList(c, formals, total, page, pageSize)
}

// Get GET /api/v1/formal-documents/:id
func (h *FormalHandler) Get(c *gin.Context) {
	formal, err := h.formalService.Get(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, formal)
}

// CompleteItem POST /api/v1/formal-documents/:id/items/:itemID/complete
func (h *FormalHandler) CompleteItem(c *gin.Context) {
	var req service.CompleteItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	formal, err := h.formalService.CompleteItem(c.Request.Context(), c.Param("id"), c.Param("itemID"), &req, currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, formal)
}

// Complete POST /api/v1/formal-documents/:id/complete
func (h *FormalHandler) Complete(c *gin.Context) {
	formal, err := h.formalService.Complete(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, formal)
}

// UploadAttachment POST /api/v1/formal-documents/:id/attachments
func (h *FormalHandler) UploadAttachment(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		web.BadRequest(c, "请上传文件")
		return
	}
	defer file.Close()

	attachment, err := h.formalService.UploadAttachment(c.Request.Context(), c.Param("id"), currentActor(c),
		header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, attachment)
}

// ListAttachments GET /api/v1/formal-documents/:id/attachments
func (h *FormalHandler) ListAttachments(c *gin.Context) {
	attachments, err := h.formalService.ListAttachments(c.Request.Context(), c.Param("id"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, attachments)
}

// AttachmentURL GET /api/v1/formal-documents/:id/attachments/:attachmentID/url
func (h *FormalHandler) AttachmentURL(c *gin.Context) {
	url, err := h.formalService.AttachmentURL(c.Request.Context(), c.Param("id"), c.Param("attachmentID"), currentActor(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, gin.H{"url": url})
}
