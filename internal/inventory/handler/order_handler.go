package handler

import (
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
	"github.com/gin-gonic/gin"
)

// OrderHandler 注文处理器
type OrderHandler struct {
	svc *service.OrderService
}

func NewOrderHandler(svc *service.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// List GET /api/v1/orders?vendor_id=&status=
func (h *OrderHandler) List(c *gin.Context) {
	page, pageSize := web.GetPagination(c)

	orders, total, err := h.svc.List(c.Request.Context(), web.GetUserKind(c), web.GetOrgID(c),
		page, pageSize, c.Query("vendor_id"), c.Query("status"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.SuccessList(c, orders, total, page, pageSize)
}

// Register POST /api/v1/orders
func (h *OrderHandler) Register(c *gin.Context) {
	var req service.RegisterOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.svc.Register(c.Request.Context(), &req, entity.OrderSourceManual, web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Created(c, order)
}

// Get GET /api/v1/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.svc.Get(c.Request.Context(), c.Param("id"), web.GetUserKind(c), web.GetOrgID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, order)
}

// Acknowledge POST /api/v1/orders/:id/acknowledge
func (h *OrderHandler) Acknowledge(c *gin.Context) {
	order, err := h.svc.Acknowledge(c.Request.Context(), c.Param("id"), web.GetUserKind(c), web.GetOrgID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, order)
}

// Close POST /api/v1/orders/:id/close
func (h *OrderHandler) Close(c *gin.Context) {
	order, err := h.svc.Close(c.Request.Context(), c.Param("id"), web.GetUserKind(c), web.GetOrgID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, order)
}

// ImportCSV POST /api/v1/orders/import
func (h *OrderHandler) ImportCSV(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		web.BadRequest(c, "请上传CSV文件")
		return
	}
	defer file.Close()

	result, err := h.svc.ImportCSV(c.Request.Context(), file, c.PostForm("vendor_id"), entity.OrderSourceCSV, web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}

// ImportXLSX POST /api/v1/orders/import-xlsx
func (h *OrderHandler) ImportXLSX(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		web.BadRequest(c, "请上传Excel文件")
		return
	}
	defer file.Close()

	result, err := h.svc.ImportXLSX(c.Request.Context(), file, c.PostForm("vendor_id"), entity.OrderSourceXLSX, web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}

// PullMailbox POST /api/v1/orders/ingest-sftp
func (h *OrderHandler) PullMailbox(c *gin.Context) {
	result, err := h.svc.PullMailbox(c.Request.Context(), web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}
