package entity

import (
	"time"
)

// 台账行来源
const (
	LedgerSourceManual = "manual"
	LedgerSourcePlan   = "plan"   // 使用预定Excel上传
	LedgerSourceOrder  = "order"  // 注文登录
	LedgerSourceScan   = "scan"   // 入库扫码
	LedgerSourceUpload = "upload" // 在库表上传
)

// BaseStock 基准在库。每品目至多一行。
// AsOfDate为在库快照的截止日，该日及之前的台账流水已折入Quantity，
// 投影计算时不得重复扣加。AsOfDate为空表示无截止、全历史生效。
type BaseStock struct {
	ID        string     `json:"id" gorm:"primaryKey;size:32"`
	PartID    string     `json:"part_id" gorm:"size:32;not null;uniqueIndex"`
	Quantity  int        `json:"quantity" gorm:"not null;default:0"`
	AsOfDate  *time.Time `json:"as_of_date" gorm:"type:date"`
	Source    string     `json:"source" gorm:"size:16;not null;default:manual"`
	UpdatedBy string     `json:"updated_by" gorm:"size:32"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (BaseStock) TableName() string {
	return "base_stocks"
}

// DemandLine 使用预定行。(part_id, due_date)唯一，重复登录按替换处理。
type DemandLine struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	PartID    string    `json:"part_id" gorm:"size:32;not null;uniqueIndex:idx_demand_part_date"`
	DueDate   time.Time `json:"due_date" gorm:"type:date;not null;uniqueIndex:idx_demand_part_date"`
	Quantity  int       `json:"quantity" gorm:"not null"`
	Source    string    `json:"source" gorm:"size:16;not null;default:manual"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DemandLine) TableName() string {
	return "demand_lines"
}

// IncomingLine 入库预定行。append-only，同日多行按合计取数，与使用预定的替换语义不同。
type IncomingLine struct {
	ID         string    `json:"id" gorm:"primaryKey;size:32"`
	PartID     string    `json:"part_id" gorm:"size:32;not null;index:idx_incoming_part_date"`
	InDate     time.Time `json:"in_date" gorm:"type:date;not null;index:idx_incoming_part_date"`
	Quantity   int       `json:"quantity" gorm:"not null"`
	SourceType string    `json:"source_type" gorm:"size:16;not null;default:manual"`
	SourceRef  string    `json:"source_ref" gorm:"size:64"`
	CreatedAt  time.Time `json:"created_at"`
}

func (IncomingLine) TableName() string {
	return "incoming_lines"
}
