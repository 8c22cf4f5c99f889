package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文状态
const (
	OrderStatusOpen         = "open"
	OrderStatusAcknowledged = "acknowledged"
	OrderStatusClosed       = "closed"
)

// 注文来源
const (
	OrderSourceManual = "manual"
	OrderSourceCSV    = "csv"
	OrderSourceXLSX   = "xlsx"
	OrderSourceSFTP   = "sftp"
)

// PurchaseOrder 注文实体。客户下发的采购订单，登录后生成对应的入库预定行。
type PurchaseOrder struct {
	ID        string          `json:"id" gorm:"primaryKey;size:32"`
	OrderNo   string          `json:"order_no" gorm:"size:64;not null;uniqueIndex"`
	VendorID  string          `json:"vendor_id" gorm:"size:32;not null;index"`
	PartID    string          `json:"part_id" gorm:"size:32;not null;index"`
	Quantity  int             `json:"quantity" gorm:"not null"`
	UnitPrice decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,4);not null"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:numeric(14,4);not null"`
	DueDate   time.Time       `json:"due_date" gorm:"type:date;not null"`
	Status    string          `json:"status" gorm:"size:16;not null;default:open"`
	Source    string          `json:"source" gorm:"size:16;not null;default:manual"`
	CreatedBy string          `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// 关联
	Vendor *Vendor `json:"vendor,omitempty" gorm:"foreignKey:VendorID"`
	Part   *Part   `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (PurchaseOrder) TableName() string {
	return "purchase_orders"
}
