package entity

import (
	"time"

	inventory "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
)

// 工程标签状态
const (
	TagStatusPrinted   = "printed"
	TagStatusUsed      = "used"
	TagStatusCancelled = "cancelled"
)

// 材料标签状态。比工程标签多入库与期限管理。
const (
	LabelStatusPrinted  = "printed"
	LabelStatusInstock  = "instock"
	LabelStatusUsed     = "used"
	LabelStatusExpired  = "expired"
	LabelStatusDisposed = "disposed"
)

// 扫码结局
const (
	OutcomeAccepted  = "accepted"
	OutcomeReceived  = "received"
	OutcomeConsumed  = "consumed"
	OutcomeDuplicate = "duplicate"
	OutcomeExpired   = "expired"
)

// 标签类别，扫码履历按此区分
const (
	TagTypeProcess  = "process"
	TagTypeMaterial = "material"
)

// ProcessTag 工程标签。打印时生成，首次扫码视为该批入库，
// 状态只会printed→used一次，首次使用三项一经写入不再变更。
type ProcessTag struct {
	ID             string     `json:"id" gorm:"primaryKey;size:32"`
	TagNo          string     `json:"tag_no" gorm:"size:32;not null;uniqueIndex"`
	PartID         string     `json:"part_id" gorm:"size:32;not null;index"`
	Quantity       int        `json:"quantity" gorm:"not null"`
	Lot            string     `json:"lot" gorm:"size:64"`
	Status         string     `json:"status" gorm:"size:16;not null;default:printed"`
	ScanCount      int        `json:"scan_count" gorm:"not null;default:0"`
	FirstUsedAt    *time.Time `json:"first_used_at"`
	FirstUsedBy    string     `json:"first_used_by" gorm:"size:64"`
	FirstUsedPlace string     `json:"first_used_place" gorm:"size:128"`
	PrintedBy      string     `json:"printed_by" gorm:"size:32"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// 关联
	Part *inventory.Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (ProcessTag) TableName() string {
	return "process_tags"
}

// RawMaterialLabel 材料标签。入库扫码printed→instock计入在库，
// 出库扫码instock→used，超过有效期限的扫码转expired不再计数。
type RawMaterialLabel struct {
	ID             string     `json:"id" gorm:"primaryKey;size:32"`
	TagNo          string     `json:"tag_no" gorm:"size:32;not null;uniqueIndex"`
	PartID         string     `json:"part_id" gorm:"size:32;not null;index"`
	Quantity       int        `json:"quantity" gorm:"not null"`
	Lot            string     `json:"lot" gorm:"size:64"`
	ExpiryDate     *time.Time `json:"expiry_date" gorm:"type:date"`
	Status         string     `json:"status" gorm:"size:16;not null;default:printed"`
	ScanCount      int        `json:"scan_count" gorm:"not null;default:0"`
	FirstUsedAt    *time.Time `json:"first_used_at"`
	FirstUsedBy    string     `json:"first_used_by" gorm:"size:64"`
	FirstUsedPlace string     `json:"first_used_place" gorm:"size:128"`
	ConsumedAt     *time.Time `json:"consumed_at"`
	ConsumedBy     string     `json:"consumed_by" gorm:"size:64"`
	ConsumedPlace  string     `json:"consumed_place" gorm:"size:128"`
	PrintedBy      string     `json:"printed_by" gorm:"size:32"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	// 关联
	Part *inventory.Part `json:"part,omitempty" gorm:"foreignKey:PartID"`
}

func (RawMaterialLabel) TableName() string {
	return "raw_material_labels"
}

// TagScanLog 扫码履历。每次扫码必追加一条，无论结局，之后不改不删。
type TagScanLog struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	TagType     string    `json:"tag_type" gorm:"size:16;not null;index:idx_scan_logs_tag"`
	TagID       string    `json:"tag_id" gorm:"size:32;not null;index:idx_scan_logs_tag"`
	TagNo       string    `json:"tag_no" gorm:"size:32;not null;index"`
	Actor       string    `json:"actor" gorm:"size:64"`
	Place       string    `json:"place" gorm:"size:128"`
	IsFirstScan bool      `json:"is_first_scan" gorm:"not null;default:false"`
	Outcome     string    `json:"outcome" gorm:"size:16;not null"`
	Message     string    `json:"message" gorm:"size:512"`
	CreatedAt   time.Time `json:"created_at"`
}

func (TagScanLog) TableName() string {
	return "tag_scan_logs"
}
