package entity

import (
	"time"
)

// 厂商状态
const (
	VendorStatusActive   = "active"
	VendorStatusInactive = "inactive"
)

// Vendor 协力厂商实体。Code由系统按SUP-序号生成。
type Vendor struct {
	ID            string     `json:"id" gorm:"primaryKey;size:32"`
	Code          string     `json:"code" gorm:"size:32;not null;uniqueIndex"`
	Name          string     `json:"name" gorm:"size:128;not null;uniqueIndex"`
	ShortName     string     `json:"short_name" gorm:"size:64"`
	ContactPerson string     `json:"contact_person" gorm:"size:64"`
	ContactEmail  string     `json:"contact_email" gorm:"size:128"`
	Status        string     `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at" gorm:"index"`
}

func (Vendor) TableName() string {
	return "vendors"
}
