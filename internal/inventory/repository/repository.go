package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

func newID() string {
	return uuid.New().String()[:32]
}

// Repositories 库存模块仓库集合
type Repositories struct {
	Vendor *VendorRepository
	Part   *PartRepository
	Stock  *StockRepository
	Order  *OrderRepository
	BOM    *BOMRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Vendor: NewVendorRepository(db),
		Part:   NewPartRepository(db),
		Stock:  NewStockRepository(db),
		Order:  NewOrderRepository(db),
		BOM:    NewBOMRepository(db),
	}
}
