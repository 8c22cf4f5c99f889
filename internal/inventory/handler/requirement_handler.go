package handler

import (
	"strconv"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
	"github.com/gin-gonic/gin"
)

// RequirementHandler 所要量计算处理器
type RequirementHandler struct {
	svc *service.RequirementService
}

func NewRequirementHandler(svc *service.RequirementService) *RequirementHandler {
	return &RequirementHandler{svc: svc}
}

// ListBOM GET /api/v1/parts/:id/bom
func (h *RequirementHandler) ListBOM(c *gin.Context) {
	lines, err := h.svc.ListBOM(c.Request.Context(), c.Param("id"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, lines)
}

// ImportBOM POST /api/v1/parts/:id/bom/import
func (h *RequirementHandler) ImportBOM(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		web.BadRequest(c, "请上传Excel文件")
		return
	}
	defer file.Close()

	result, err := h.svc.ImportBOM(c.Request.Context(), c.Param("id"), file)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}

// Explode GET /api/v1/parts/:id/bom/explode?qty=
func (h *RequirementHandler) Explode(c *gin.Context) {
	qty, err := strconv.Atoi(c.DefaultQuery("qty", "1"))
	if err != nil {
		web.BadRequest(c, "数量无效: "+c.Query("qty"))
		return
	}

	requirements, err := h.svc.Explode(c.Request.Context(), c.Param("id"), qty)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, requirements)
}

// ApplyPlan POST /api/v1/requirements/apply
func (h *RequirementHandler) ApplyPlan(c *gin.Context) {
	var req service.ApplyPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		web.BadRequest(c, "参数错误: "+err.Error())
		return
	}

	applied, err := h.svc.ApplyPlan(c.Request.Context(), &req)
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, applied)
}
