package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Part 品目实体。同一厂商内品番唯一，所有台账行都挂在品目上。
type Part struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	VendorID     string     `json:"vendor_id" gorm:"size:32;not null;uniqueIndex:idx_parts_vendor_part_no"`
	PartNo       string     `json:"part_no" gorm:"size:64;not null;uniqueIndex:idx_parts_vendor_part_no"`
	Name         string     `json:"name" gorm:"size:256;not null"`
	Unit         string     `json:"unit" gorm:"size:16;not null;default:pcs"`
	PartGroup    string     `json:"part_group" gorm:"size:32"`
	LeadTimeDays int        `json:"lead_time_days" gorm:"not null;default:0"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at" gorm:"index"`

	// 关联
	Vendor *Vendor `json:"vendor,omitempty" gorm:"foreignKey:VendorID"`
}

func (Part) TableName() string {
	return "parts"
}

// BOMLine 构成行。父品目一单位需要子品目QuantityPer个。
type BOMLine struct {
	ID           string          `json:"id" gorm:"primaryKey;size:32"`
	ParentPartID string          `json:"parent_part_id" gorm:"size:32;not null;uniqueIndex:idx_bom_parent_child"`
	ChildPartID  string          `json:"child_part_id" gorm:"size:32;not null;uniqueIndex:idx_bom_parent_child"`
	QuantityPer  decimal.Decimal `json:"quantity_per" gorm:"type:numeric(12,4);not null"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// 关联
	ChildPart *Part `json:"child_part,omitempty" gorm:"foreignKey:ChildPartID"`
}

func (BOMLine) TableName() string {
	return "bom_lines"
}
