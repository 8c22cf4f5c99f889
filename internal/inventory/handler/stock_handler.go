package handler

import (
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
	"github.com/gin-gonic/gin"
)

// StockHandler 在库台账处理器。台账写操作都是本社侧业务，路由上只对内开放。
type StockHandler struct {
	svc *service.StockService
}

func NewStockHandler(svc *service.StockService) *StockHandler {
	return &StockHandler{svc: svc}
}

// GetBase GET /api/v1/parts/:id/stock/base
func (h *StockHandler) GetBase(c *gin.Context) {
	base, err := h.svc.GetBase(c.Request.Context(), c.Param("id"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, base)
}

// SetBase PUT /api/v1/parts/:id/stock/base
func (h *StockHandler) SetBase(c *gin.Context) {
	var req service.SetBaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	base, err := h.svc.SetBase(c.Request.Context(), c.Param("id"), &req, entity.LedgerSourceManual, web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, base)
}

// AdjustRequest 基准在库增减请求
type AdjustRequest struct {
	Delta int `json:"delta" binding:"required"`
}

// Adjust POST /api/v1/parts/:id/stock/adjust
func (h *StockHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	if err := h.svc.AdjustBase(c.Request.Context(), c.Param("id"), req.Delta, web.GetUserID(c)); err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, gin.H{"adjusted": req.Delta})
}

// UpsertDemand PUT /api/v1/parts/:id/stock/demand
func (h *StockHandler) UpsertDemand(c *gin.Context) {
	var req service.UpsertDemandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	if err := h.svc.UpsertDemand(c.Request.Context(), c.Param("id"), &req, entity.LedgerSourceManual); err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, gin.H{"due_date": req.DueDate, "quantity": req.Quantity})
}

// AddIncoming POST /api/v1/parts/:id/stock/incoming
func (h *StockHandler) AddIncoming(c *gin.Context) {
	var req service.AddIncomingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	if err := h.svc.AddIncoming(c.Request.Context(), c.Param("id"), &req, entity.LedgerSourceManual, web.GetUserID(c)); err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, gin.H{"in_date": req.InDate, "quantity": req.Quantity})
}

// GetLedger GET /api/v1/parts/:id/stock?from=&to=
func (h *StockHandler) GetLedger(c *gin.Context) {
	now := time.Now()
	from := now.AddDate(0, 0, -31)
	to := now.AddDate(0, 0, 31)

	var err error
	if v := c.Query("from"); v != "" {
		if from, err = service.ParseDate(v); err != nil {
			web.BadRequest(c, "日期格式错误: "+v)
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = service.ParseDate(v); err != nil {
			web.BadRequest(c, "日期格式错误: "+v)
			return
		}
	}

	view, err := h.svc.GetLedger(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, view)
}

// ImportStockBook POST /api/v1/stock/import
func (h *StockHandler) ImportStockBook(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		web.BadRequest(c, "请上传Excel文件")
		return
	}
	defer file.Close()

	result, err := h.svc.ImportStockBook(c.Request.Context(), file, c.PostForm("as_of_date"), web.GetUserID(c))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}

// ImportDemandPlan POST /api/v1/stock/demand-plan
func (h *StockHandler) ImportDemandPlan(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		web.BadRequest(c, "请上传Excel文件")
		return
	}
	defer file.Close()

	result, err := h.svc.ImportDemandPlan(c.Request.Context(), c.PostForm("vendor_id"), file)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}
