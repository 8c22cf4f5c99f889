package handler

import (
	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/service"
)

// Handlers 4M模块接口集合
type Handlers struct {
	M4     *M4Handler
	Formal *FormalHandler
}

// NewHandlers 创建接口集合
func NewHandlers(m4Service *service.M4Service, formalService *service.FormalService) *Handlers {
	return &Handlers{
		M4:     NewM4Handler(m4Service),
		Formal: NewFormalHandler(formalService),
	}
}
