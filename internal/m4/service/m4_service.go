package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	idrepo "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/repository"
	invrepo "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
)

// Actor 当前操作人。显式传参进入每个业务方法，不从全局上下文取。
type Actor struct {
	ID   string
	Kind string
	Org  string
}

// M4Service 4M变更申请状态机。
// 状态迁移都在事务内对申请行加行锁后判定，
// 阶段不符返回Conflict、操作人不符返回Permission，绝不panic。
type M4Service struct {
	db         *gorm.DB
	m4Repo     *repository.M4Repository
	formalSvc  *FormalService
	vendorRepo *invrepo.VendorRepository
	partRepo   *invrepo.PartRepository
	userRepo   *idrepo.UserRepository
}

func NewM4Service(db *gorm.DB, m4Repo *repository.M4Repository, formalSvc *FormalService, vendorRepo *invrepo.VendorRepository, partRepo *invrepo.PartRepository, userRepo *idrepo.UserRepository) *M4Service {
	return &M4Service{
		db:         db,
		m4Repo:     m4Repo,
		formalSvc:  formalSvc,
		vendorRepo: vendorRepo,
		partRepo:   partRepo,
		userRepo:   userRepo,
	}
}

// CreateM4Request 创建4M申请请求
type CreateM4Request struct {
	Title       string `json:"title" binding:"required"`
	VendorID    string `json:"vendor_id" binding:"required"`
	PartID      string `json:"part_id"`
	Category    string `json:"category" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	Detail      string `json:"detail"`
	PlannedDate string `json:"planned_date"`
	Reviewer1ID string `json:"reviewer1_id"`
	Reviewer2ID string `json:"reviewer2_id"`
	ApproverID  string `json:"approver_id" binding:"required"`
}

// UpdateM4Request 更新4M申请请求，空字段不变更
type UpdateM4Request struct {
	Title       string `json:"title"`
	Category    string `json:"category"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail"`
	PlannedDate string `json:"planned_date"`
	Reviewer1ID string `json:"reviewer1_id"`
	Reviewer2ID string `json:"reviewer2_id"`
	ApproverID  string `json:"approver_id"`
}

var m4Categories = map[string]bool{
	entity.M4CategoryMan:      true,
	entity.M4CategoryMachine:  true,
	entity.M4CategoryMaterial: true,
	entity.M4CategoryMethod:   true,
}

// Create 创建4M申请，初始状态draft
func (s *M4Service) Create(ctx context.Context, req *CreateM4Request, actor Actor) (*entity.M4Request, error) {
	if !m4Categories[req.Category] {
		return nil, apperr.Validation("变更区分必须是man/machine/material/method之一")
	}
	if actor.Kind == middleware.UserKindVendor && req.VendorID != actor.Org {
		return nil, apperr.Permission("协力厂商只能为本公司发起申请")
	}

	if _, err := s.vendorRepo.FindByID(ctx, req.VendorID); err != nil {
		if errors.Is(err, invrepo.ErrNotFound) {
			return nil, apperr.NotFound("供应商不存在")
		}
		return nil, err
	}
	if req.PartID != "" {
		part, err := s.partRepo.FindByID(ctx, req.PartID)
		if err != nil {
			if errors.Is(err, invrepo.ErrNotFound) {
				return nil, apperr.NotFound("品目不存在")
			}
			return nil, err
		}
		if part.VendorID != req.VendorID {
			return nil, apperr.Validation("品目不属于该供应商")
		}
	}
	if err := s.checkUser(ctx, req.Reviewer1ID, "一次审核人"); err != nil {
		return nil, err
	}
	if err := s.checkUser(ctx, req.Reviewer2ID, "二次审核人"); err != nil {
		return nil, err
	}
	if err := s.checkUser(ctx, req.ApproverID, "承认人"); err != nil {
		return nil, err
	}

	plannedDate, err := parsePlannedDate(req.PlannedDate)
	if err != nil {
		return nil, err
	}

	code, err := s.m4Repo.GenerateCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	request := &entity.M4Request{
		ID:          uuid.New().String()[:32],
		Code:        code,
		Title:       req.Title,
		VendorID:    req.VendorID,
		PartID:      req.PartID,
		Category:    req.Category,
		Reason:      req.Reason,
		Detail:      req.Detail,
		PlannedDate: plannedDate,
		Status:      entity.M4StatusDraft,
		RequesterID: actor.ID,
		Reviewer1ID: req.Reviewer1ID,
		Reviewer2ID: req.Reviewer2ID,
		ApproverID:  req.ApproverID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.m4Repo.Create(ctx, request); err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, request.ID)
}

// List 申请一览。协力厂商只看到本公司或本人发起的申请。
func (s *M4Service) List(ctx context.Context, actor Actor, status, vendorID, requesterID string, page, pageSize int) ([]*entity.M4Request, int64, error) {
	scopeOrg, scopeUser := "", ""
	if actor.Kind == middleware.UserKindVendor {
		scopeOrg, scopeUser = actor.Org, actor.ID
	}
	return s.m4Repo.List(ctx, status, vendorID, requesterID, scopeOrg, scopeUser, page, pageSize)
}

// Get 申请详情
func (s *M4Service) Get(ctx context.Context, id string, actor Actor) (*entity.M4Request, error) {
	request, err := s.m4Repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("申请不存在")
		}
		return nil, err
	}
	if err := scopeCheck(request, actor); err != nil {
		return nil, err
	}
	return request, nil
}

// ListChangeLogs 申请的变更履历
func (s *M4Service) ListChangeLogs(ctx context.Context, id string, actor Actor) ([]*entity.M4ChangeLog, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	return s.m4Repo.ListChangeLogs(ctx, id)
}

// Update 修改申请字段。approved永久不可变更；
// 申请人在其余任意状态可改，当前阶段的审核/承认人也可改。
// 每个被接受的字段变更追加一条变更履历。
func (s *M4Service) Update(ctx context.Context, id string, req *UpdateM4Request, actor Actor) (*entity.M4Request, error) {
	if req.Category != "" && !m4Categories[req.Category] {
		return nil, apperr.Validation("变更区分必须是man/machine/material/method之一")
	}
	if err := s.checkUser(ctx, req.Reviewer1ID, "一次审核人"); err != nil {
		return nil, err
	}
	if err := s.checkUser(ctx, req.Reviewer2ID, "二次审核人"); err != nil {
		return nil, err
	}
	if err := s.checkUser(ctx, req.ApproverID, "承认人"); err != nil {
		return nil, err
	}
	plannedDate, err := parsePlannedDate(req.PlannedDate)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}
		if err := editPermission(request, actor); err != nil {
			return err
		}

		now := time.Now()
		updates := make(map[string]interface{})
		var changes []entity.M4ChangeLog
		record := func(field, oldValue, newValue string) {
			changes = append(changes, entity.M4ChangeLog{
				ID:        uuid.New().String()[:32],
				RequestID: request.ID,
				Field:     field,
				OldValue:  oldValue,
				NewValue:  newValue,
				ActorID:   actor.ID,
				CreatedAt: now,
			})
		}

		if req.Title != "" && req.Title != request.Title {
			record("title", request.Title, req.Title)
			updates["title"] = req.Title
		}
		if req.Category != "" && req.Category != request.Category {
			record("category", request.Category, req.Category)
			updates["category"] = req.Category
		}
		if req.Reason != "" && req.Reason != request.Reason {
			record("reason", request.Reason, req.Reason)
			updates["reason"] = req.Reason
		}
		if req.Detail != "" && req.Detail != request.Detail {
			record("detail", request.Detail, req.Detail)
			updates["detail"] = req.Detail
		}
		if plannedDate != nil && !sameDate(plannedDate, request.PlannedDate) {
			record("planned_date", formatDate(request.PlannedDate), formatDate(plannedDate))
			updates["planned_date"] = *plannedDate
		}
		if req.Reviewer1ID != "" && req.Reviewer1ID != request.Reviewer1ID {
			record("reviewer1_id", request.Reviewer1ID, req.Reviewer1ID)
			updates["reviewer1_id"] = req.Reviewer1ID
		}
		if req.Reviewer2ID != "" && req.Reviewer2ID != request.Reviewer2ID {
			record("reviewer2_id", request.Reviewer2ID, req.Reviewer2ID)
			updates["reviewer2_id"] = req.Reviewer2ID
		}
		if req.ApproverID != "" && req.ApproverID != request.ApproverID {
			record("approver_id", request.ApproverID, req.ApproverID)
			updates["approver_id"] = req.ApproverID
		}

		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = now
		if err := tx.Model(request).Updates(updates).Error; err != nil {
			return err
		}
		for i := range changes {
			if err := tx.Create(&changes[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, id)
}

// Submit 提交申请进入审批链。审核人可以缺席：
// 无一次审核人时从二次审核开始，两位都缺席时直接待承认。
func (s *M4Service) Submit(ctx context.Context, id string, actor Actor) (*entity.M4Request, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}
		if request.Status != entity.M4StatusDraft {
			return apperr.Conflict("当前状态不可提交: %s", request.Status)
		}
		if request.RequesterID != actor.ID {
			return apperr.Permission("只有申请人可以提交")
		}

		next := entity.M4StatusPendingApprove
		if request.Reviewer1ID != "" {
			next = entity.M4StatusPendingReview
		} else if request.Reviewer2ID != "" {
			next = entity.M4StatusPendingReview2
		}
		return tx.Model(request).Updates(map[string]interface{}{
			"status":       next,
			"submitted_at": time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, id)
}

// ApproveReview1 一次审核通过
func (s *M4Service) ApproveReview1(ctx context.Context, id string, actor Actor) (*entity.M4Request, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}
		if request.Status != entity.M4StatusPendingReview {
			return apperr.Conflict("当前状态不可一次审核: %s", request.Status)
		}
		if request.Reviewer1ID != actor.ID {
			return apperr.Permission("只有一次审核人可以执行该操作")
		}

		next := entity.M4StatusPendingApprove
		if request.Reviewer2ID != "" {
			next = entity.M4StatusPendingReview2
		}
		return tx.Model(request).Updates(map[string]interface{}{
			"status":     next,
			"review1_at": time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, id)
}

// ApproveReview2 二次审核通过
func (s *M4Service) ApproveReview2(ctx context.Context, id string, actor Actor) (*entity.M4Request, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}
		if request.Status != entity.M4StatusPendingReview2 {
			return apperr.Conflict("当前状态不可二次审核: %s", request.Status)
		}
		if request.Reviewer2ID != actor.ID {
			return apperr.Permission("只有二次审核人可以执行该操作")
		}
		return tx.Model(request).Updates(map[string]interface{}{
			"status":     entity.M4StatusPendingApprove,
			"review2_at": time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, id)
}

// FinalApprove 最终承认。转approved的同时在同一事务内生成正式文件，
// 行锁+唯一索引保证重复承认只产生一份。
func (s *M4Service) FinalApprove(ctx context.Context, id string, actor Actor) (*entity.M4Request, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}
		if request.Status != entity.M4StatusPendingApprove {
			return apperr.Conflict("当前状态不可承认: %s", request.Status)
		}
		if request.ApproverID != actor.ID {
			return apperr.Permission("只有承认人可以执行该操作")
		}

		if err := tx.Model(request).Updates(map[string]interface{}{
			"status":      entity.M4StatusApproved,
			"approved_at": time.Now(),
		}).Error; err != nil {
			return err
		}
		_, err = s.formalSvc.deriveInTx(tx, request, actor.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, id)
}

// Reject 驳回。提交后的任一等待阶段都可驳回，理由必填，
// 操作人必须是当前阶段的审核/承认担当。
func (s *M4Service) Reject(ctx context.Context, id string, actor Actor, reason string) (*entity.M4Request, error) {
	if reason == "" {
		return nil, apperr.Validation("驳回理由必填")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}

		var stageActor string
		switch request.Status {
		case entity.M4StatusPendingReview:
			stageActor = request.Reviewer1ID
		case entity.M4StatusPendingReview2:
			stageActor = request.Reviewer2ID
		case entity.M4StatusPendingApprove:
			stageActor = request.ApproverID
		default:
			return apperr.Conflict("当前状态不可驳回: %s", request.Status)
		}
		if stageActor != actor.ID {
			return apperr.Permission("只有当前阶段的担当可以驳回")
		}

		return tx.Model(request).Updates(map[string]interface{}{
			"status":        entity.M4StatusRejected,
			"rejected_at":   time.Now(),
			"reject_reason": reason,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, id)
}

// Resubmit 被驳回后回到draft重新修改。上轮的提交与审核时刻清空，
// 驳回记录保留到下次提交。
func (s *M4Service) Resubmit(ctx context.Context, id string, actor Actor) (*entity.M4Request, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, id)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}
		if request.Status != entity.M4StatusRejected {
			return apperr.Conflict("当前状态不可重新申请: %s", request.Status)
		}
		if request.RequesterID != actor.ID {
			return apperr.Permission("只有申请人可以重新申请")
		}
		return tx.Model(request).Updates(map[string]interface{}{
			"status":       entity.M4StatusDraft,
			"submitted_at": nil,
			"review1_at":   nil,
			"review2_at":   nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.m4Repo.FindByID(ctx, id)
}

func (s *M4Service) checkUser(ctx context.Context, userID, role string) error {
	if userID == "" {
		return nil
	}
	if _, err := s.userRepo.FindByID(ctx, userID); err != nil {
		if errors.Is(err, idrepo.ErrNotFound) {
			return apperr.Validation("%s不存在", role)
		}
		return err
	}
	return nil
}

// lockRequest 事务内对申请行加行锁
func lockRequest(tx *gorm.DB, id string) (*entity.M4Request, error) {
	var request entity.M4Request
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&request, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("申请不存在")
		}
		return nil, err
	}
	return &request, nil
}

// scopeCheck 协力厂商只能访问本公司或本人发起的申请
func scopeCheck(request *entity.M4Request, actor Actor) error {
	if actor.Kind != middleware.UserKindVendor {
		return nil
	}
	if request.VendorID == actor.Org || request.RequesterID == actor.ID {
		return nil
	}
	return apperr.Permission("无权访问该申请")
}

// editPermission 修改权限：approved永久冻结；
// 申请人随时可改，当前阶段的担当在轮到自己时可改。
func editPermission(request *entity.M4Request, actor Actor) error {
	if request.Status == entity.M4StatusApproved {
		return apperr.Conflict("已承认的申请不可变更")
	}
	if request.RequesterID == actor.ID {
		return nil
	}
	switch request.Status {
	case entity.M4StatusPendingReview:
		if request.Reviewer1ID == actor.ID {
			return nil
		}
	case entity.M4StatusPendingReview2:
		if request.Reviewer2ID == actor.ID {
			return nil
		}
	case entity.M4StatusPendingApprove:
		if request.ApproverID == actor.ID {
			return nil
		}
	}
	return apperr.Permission("当前阶段无权修改该申请")
}

func parsePlannedDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, apperr.Validation("切替预定日格式错误，应为YYYY-MM-DD")
	}
	return &parsed, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}
