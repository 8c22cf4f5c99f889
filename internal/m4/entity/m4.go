package entity

import (
	"time"

	identity "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	inventory "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
)

// 4M申请状态。reviewer可以缺席，缺席的审核段直接跳过。
const (
	M4StatusDraft          = "draft"
	M4StatusPendingReview  = "pending_review"
	M4StatusPendingReview2 = "pending_review2"
	M4StatusPendingApprove = "pending_approve"
	M4StatusApproved       = "approved"
	M4StatusRejected       = "rejected"
)

// 4M变更区分：人、机、料、法
const (
	M4CategoryMan      = "man"
	M4CategoryMachine  = "machine"
	M4CategoryMaterial = "material"
	M4CategoryMethod   = "method"
)

// M4Request 4M变更申请。approved后永久不可变更，
// 只允许生成一次正式文件。
type M4Request struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	Code         string     `json:"code" gorm:"size:64;not null;uniqueIndex"`
	Title        string     `json:"title" gorm:"size:256;not null"`
	VendorID     string     `json:"vendor_id" gorm:"size:32;not null;index"`
	PartID       string     `json:"part_id" gorm:"size:32;index"`
	Category     string     `json:"category" gorm:"size:16;not null"`
	Reason       string     `json:"reason" gorm:"type:text;not null"`
	Detail       string     `json:"detail" gorm:"type:text"`
	PlannedDate  *time.Time `json:"planned_date" gorm:"type:date"`
	Status       string     `json:"status" gorm:"size:16;not null;default:draft"`
	RequesterID  string     `json:"requester_id" gorm:"size:32;not null;index"`
	Reviewer1ID  string     `json:"reviewer1_id" gorm:"size:32"`
	Reviewer2ID  string     `json:"reviewer2_id" gorm:"size:32"`
	ApproverID   string     `json:"approver_id" gorm:"size:32;not null"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	Review1At    *time.Time `json:"review1_at"`
	Review2At    *time.Time `json:"review2_at"`
	ApprovedAt   *time.Time `json:"approved_at"`
	RejectedAt   *time.Time `json:"rejected_at"`
	RejectReason string     `json:"reject_reason" gorm:"type:text"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// 关联
	Vendor    *inventory.Vendor `json:"vendor,omitempty" gorm:"foreignKey:VendorID"`
	Part      *inventory.Part   `json:"part,omitempty" gorm:"foreignKey:PartID"`
	Requester *identity.User    `json:"requester,omitempty" gorm:"foreignKey:RequesterID"`
	Reviewer1 *identity.User    `json:"reviewer1,omitempty" gorm:"foreignKey:Reviewer1ID"`
	Reviewer2 *identity.User    `json:"reviewer2,omitempty" gorm:"foreignKey:Reviewer2ID"`
	Approver  *identity.User    `json:"approver,omitempty" gorm:"foreignKey:ApproverID"`
}

func (M4Request) TableName() string {
	return "m4_requests"
}

// M4ChangeLog 申请字段变更履历。每次被接受的修改追加一条，只增不改。
type M4ChangeLog struct {
	ID        string    `json:"id" gorm:"primaryKey;size:32"`
	RequestID string    `json:"request_id" gorm:"size:32;not null;index"`
	Field     string    `json:"field" gorm:"size:64;not null"`
	OldValue  string    `json:"old_value" gorm:"type:text"`
	NewValue  string    `json:"new_value" gorm:"type:text"`
	ActorID   string    `json:"actor_id" gorm:"size:32;not null"`
	CreatedAt time.Time `json:"created_at"`

	// 关联
	Actor *identity.User `json:"actor,omitempty" gorm:"foreignKey:ActorID"`
}

func (M4ChangeLog) TableName() string {
	return "m4_change_logs"
}

// 正式文件状态
const (
	FormalStatusOpen       = "open"
	FormalStatusInProgress = "in_progress"
	FormalStatusCompleted  = "completed"
)

// 正式文件项目类别
const (
	FormalItemKindDocument   = "document"
	FormalItemKindInspection = "inspection"
	FormalItemKindSchedule   = "schedule"
	FormalItemKindStage      = "stage"
	FormalItemKindApproval   = "approval"
)

// FormalDocument 承认后生成的正式4M文件。与申请1:1，
// pre_request_id唯一索引保证重复生成被数据库拦下。
type FormalDocument struct {
	ID           string     `json:"id" gorm:"primaryKey;size:32"`
	Code         string     `json:"code" gorm:"size:64;not null;uniqueIndex"`
	PreRequestID string     `json:"pre_request_id" gorm:"size:32;not null;uniqueIndex"`
	Status       string     `json:"status" gorm:"size:16;not null;default:open"`
	CreatedBy    string     `json:"created_by" gorm:"size:32"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// 关联
	PreRequest  *M4Request         `json:"pre_request,omitempty" gorm:"foreignKey:PreRequestID"`
	Items       []FormalItem       `json:"items,omitempty" gorm:"foreignKey:FormalID"`
	Attachments []FormalAttachment `json:"attachments,omitempty" gorm:"foreignKey:FormalID"`
}

func (FormalDocument) TableName() string {
	return "formal_documents"
}

// FormalItem 正式文件的检查项目。生成时按固定清单播种一次。
type FormalItem struct {
	ID        string     `json:"id" gorm:"primaryKey;size:32"`
	FormalID  string     `json:"formal_id" gorm:"size:32;not null;index"`
	Kind      string     `json:"kind" gorm:"size:16;not null"`
	Title     string     `json:"title" gorm:"size:128;not null"`
	Required  bool       `json:"required" gorm:"not null;default:true"`
	SortOrder int        `json:"sort_order" gorm:"not null"`
	Done      bool       `json:"done" gorm:"not null;default:false"`
	DoneBy    string     `json:"done_by" gorm:"size:32"`
	DoneAt    *time.Time `json:"done_at"`
	Note      string     `json:"note" gorm:"size:512"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (FormalItem) TableName() string {
	return "formal_items"
}

// FormalAttachment 正式文件附件的元数据，文件本体在对象存储
type FormalAttachment struct {
	ID          string    `json:"id" gorm:"primaryKey;size:32"`
	FormalID    string    `json:"formal_id" gorm:"size:32;not null;index"`
	FileName    string    `json:"file_name" gorm:"size:256;not null"`
	ObjectKey   string    `json:"object_key" gorm:"size:512;not null"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type" gorm:"size:128"`
	UploadedBy  string    `json:"uploaded_by" gorm:"size:32"`
	CreatedAt   time.Time `json:"created_at"`
}

func (FormalAttachment) TableName() string {
	return "formal_attachments"
}
