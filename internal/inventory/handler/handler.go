package handler

import (
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
)

// Handlers 在库模块处理器集合
type Handlers struct {
	Catalog     *CatalogHandler
	Stock       *StockHandler
	Projection  *ProjectionHandler
	Order       *OrderHandler
	Requirement *RequirementHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(
	catalogSvc *service.CatalogService,
	stockSvc *service.StockService,
	projectionSvc *service.ProjectionService,
	orderSvc *service.OrderService,
	requirementSvc *service.RequirementService,
) *Handlers {
	return &Handlers{
		Catalog:     NewCatalogHandler(catalogSvc),
		Stock:       NewStockHandler(stockSvc),
		Projection:  NewProjectionHandler(projectionSvc),
		Order:       NewOrderHandler(orderSvc),
		Requirement: NewRequirementHandler(requirementSvc),
	}
}
