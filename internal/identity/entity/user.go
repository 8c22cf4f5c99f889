package entity

import (
	"time"
)

// 用户类别
const (
	UserKindInternal = "internal"
	UserKindVendor   = "vendor"
)

// 用户状态
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// 能力定义。厂商用户默认无任何能力，数据范围由org_id限定。
const (
	CapAdmin     = "*"
	CapM4Review1 = "m4:review1"
	CapM4Review2 = "m4:review2"
	CapM4Approve = "m4:approve"
	CapStockOps  = "stock:ops"
)

// User 用户实体。Kind为vendor时OrgID必填，指向所属厂商。
type User struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	Username     string     `json:"username" gorm:"size:64;not null;uniqueIndex"`
	Name         string     `json:"name" gorm:"size:64;not null"`
	Email        string     `json:"email" gorm:"size:128"`
	PasswordHash string     `json:"-" gorm:"size:128;not null"`
	Kind         string     `json:"kind" gorm:"size:16;not null;default:internal"`
	OrgID        string     `json:"org_id" gorm:"size:32;index"`
	Status       string     `json:"status" gorm:"size:16;not null;default:active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at" gorm:"index"`

	// 关联
	Capabilities []UserCapability `json:"capabilities,omitempty" gorm:"foreignKey:UserID"`

	// 非数据库字段
	CapabilityCodes []string `json:"capability_codes,omitempty" gorm:"-"`
}

func (User) TableName() string {
	return "users"
}

// UserCapability 用户能力授权
type UserCapability struct {
	UserID     string    `json:"user_id" gorm:"primaryKey;size:32"`
	Capability string    `json:"capability" gorm:"primaryKey;size:64"`
	CreatedAt  time.Time `json:"created_at"`
}

func (UserCapability) TableName() string {
	return "user_capabilities"
}
