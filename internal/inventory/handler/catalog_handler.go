package handler

import (
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
	"github.com/gin-gonic/gin"
)

// CatalogHandler 厂商与品目目录
type CatalogHandler struct {
	svc *service.CatalogService
}

func NewCatalogHandler(svc *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

// ListVendors GET /api/v1/vendors
func (h *CatalogHandler) ListVendors(c *gin.Context) {
	page, pageSize := web.GetPagination(c)
	search := c.Query("search")

	vendors, total, err := h.svc.ListVendors(c.Request.Context(), page, pageSize, search)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.SuccessList(c, vendors, total, page, pageSize)
}

// CreateVendor POST /api/v1/vendors
func (h *CatalogHandler) CreateVendor(c *gin.Context) {
	var req service.CreateVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	vendor, err := h.svc.CreateVendor(c.Request.Context(), &req)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, vendor)
}

// GetVendor GET /api/v1/vendors/:id
func (h *CatalogHandler) GetVendor(c *gin.Context) {
	vendor, err := h.svc.GetVendor(c.Request.Context(), c.Param("id"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, vendor)
}

// ListParts GET /api/v1/parts
func (h *CatalogHandler) ListParts(c *gin.Context) {
	page, pageSize := web.GetPagination(c)
	vendorID := c.Query("vendor_id")
	if web.GetUserKind(c) == middleware.UserKindVendor {
		vendorID = web.GetOrgID(c)
	}

	parts, total, err := h.svc.ListParts(c.Request.Context(), vendorID, c.Query("search"), page, pageSize)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.SuccessList(c, parts, total, page, pageSize)
}

// CreatePart POST /api/v1/parts
func (h *CatalogHandler) CreatePart(c *gin.Context) {
	var req service.CreatePartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	part, err := h.svc.CreatePart(c.Request.Context(), &req)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, part)
}

// LookupPart GET /api/v1/parts/lookup?part_no=&vendor_name=
func (h *CatalogHandler) LookupPart(c *gin.Context) {
	partNo := c.Query("part_no")
	vendorName := c.Query("vendor_name")
	if partNo == "" || vendorName == "" {
		web.BadRequest(c, "缺少part_no或vendor_name")
		return
	}

	part, err := h.svc.FindPart(c.Request.Context(), partNo, vendorName)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, part)
}

// GetPart GET /api/v1/parts/:id
func (h *CatalogHandler) GetPart(c *gin.Context) {
	part, err := h.svc.GetPart(c.Request.Context(), c.Param("id"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	if web.GetUserKind(c) == middleware.UserKindVendor && part.VendorID != web.GetOrgID(c) {
		web.Forbidden(c, "无权查看该品目")
		return
	}
	web.Success(c, part)
}
