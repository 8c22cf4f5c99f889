package handler

import (
	"fmt"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/web"
	"github.com/gin-gonic/gin"
)

// ProjectionHandler 在库投影处理器
type ProjectionHandler struct {
	svc *service.ProjectionService
}

func NewProjectionHandler(svc *service.ProjectionService) *ProjectionHandler {
	return &ProjectionHandler{svc: svc}
}

// Get GET /api/v1/parts/:id/projection?from=&to=
func (h *ProjectionHandler) Get(c *gin.Context) {
	result, err := h.svc.Project(c.Request.Context(), c.Param("id"), web.GetUserKind(c), web.GetOrgID(c),
		c.Query("from"), c.Query("to"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, result)
}

// Export GET /api/v1/parts/:id/projection/export?from=&to=
func (h *ProjectionHandler) Export(c *gin.Context) {
	result, err := h.svc.Project(c.Request.Context(), c.Param("id"), web.GetUserKind(c), web.GetOrgID(c),
		c.Query("from"), c.Query("to"))
	if err != nil {
		web.HandleError(c, err)
		return
	}

	f, err := h.svc.BuildExcel(result)
	if err != nil {
		web.InternalError(c, err.Error())
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("projection_%s_%s.xlsx", result.PartNo, result.HorizonStart)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		web.InternalError(c, "write excel: "+err.Error())
	}
}

// ListShortages GET /api/v1/shortages?vendor_id=
func (h *ProjectionHandler) ListShortages(c *gin.Context) {
	summaries, err := h.svc.ListShortages(c.Request.Context(), web.GetUserKind(c), web.GetOrgID(c), c.Query("vendor_id"))
	if err != nil {
		web.HandleError(c, err)
		return
	}
	web.Success(c, summaries)
}
