package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/objstore"
)

// 正式文件生成时播种的固定检查清单
var formalChecklist = []struct {
	Kind     string
	Title    string
	Required bool
}{
	{entity.FormalItemKindDocument, "4M变更申请书", true},
	{entity.FormalItemKindDocument, "变更内容详细书", true},
	{entity.FormalItemKindDocument, "品质影响评价书", true},
	{entity.FormalItemKindInspection, "初物检查成绩书", true},
	{entity.FormalItemKindInspection, "信赖性试验结果", false},
	{entity.FormalItemKindSchedule, "切替计划日程", true},
	{entity.FormalItemKindSchedule, "在库切替计划", false},
	{entity.FormalItemKindStage, "试作段阶记录", true},
	{entity.FormalItemKindStage, "量产移行记录", true},
	{entity.FormalItemKindApproval, "客户承认记录", true},
}

const attachmentURLExpiry = 15 * time.Minute

// FormalService 正式4M文件服务。派生、检查清单推进、附件管理。
type FormalService struct {
	db         *gorm.DB
	formalRepo *repository.FormalRepository
	store      *objstore.Store
	logger     *zap.Logger
}

func NewFormalService(db *gorm.DB, formalRepo *repository.FormalRepository, store *objstore.Store, logger *zap.Logger) *FormalService {
	return &FormalService{
		db:         db,
		formalRepo: formalRepo,
		store:      store,
		logger:     logger,
	}
}

// Derive 为已承认的申请生成正式文件。幂等：已生成时返回既有文件。
func (s *FormalService) Derive(ctx context.Context, requestID string, actor Actor) (*entity.FormalDocument, error) {
	var formalID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if err := scopeCheck(request, actor); err != nil {
			return err
		}
		if request.Status != entity.M4StatusApproved {
			return apperr.Conflict("申请未承认，不可生成正式文件: %s", request.Status)
		}
		formal, err := s.deriveInTx(tx, request, actor.ID)
		if err != nil {
			return err
		}
		formalID = formal.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.formalRepo.FindByID(ctx, formalID)
}

// deriveInTx 事务内取既有正式文件或新建一份。
// 调用方必须已持有申请行的行锁；唯一索引兜住锁外写入。
func (s *FormalService) deriveInTx(tx *gorm.DB, request *entity.M4Request, actorID string) (*entity.FormalDocument, error) {
	var existing entity.FormalDocument
	err := tx.First(&existing, "pre_request_id = ?", request.ID).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	code, err := repository.GenerateFormalCodeTx(tx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	formal := &entity.FormalDocument{
		ID:           uuid.New().String()[:32],
		Code:         code,
		PreRequestID: request.ID,
		Status:       entity.FormalStatusOpen,
		CreatedBy:    actorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.Create(formal).Error; err != nil {
		return nil, err
	}

	for i, seed := range formalChecklist {
		item := &entity.FormalItem{
			ID:        uuid.New().String()[:32],
			FormalID:  formal.ID,
			Kind:      seed.Kind,
			Title:     seed.Title,
			Required:  seed.Required,
			SortOrder: i + 1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(item).Error; err != nil {
			return nil, err
		}
	}
	return formal, nil
}

// Get 正式文件详情
func (s *FormalService) Get(ctx context.Context, id string, actor Actor) (*entity.FormalDocument, error) {
	formal, err := s.formalRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("正式文件不存在")
		}
		return nil, err
	}
	if err := s.formalScopeCheck(formal, actor); err != nil {
		return nil, err
	}
	return formal, nil
}

// GetByRequest 按申请查正式文件
func (s *FormalService) GetByRequest(ctx context.Context, requestID string, actor Actor) (*entity.FormalDocument, error) {
	formal, err := s.formalRepo.FindByPreRequestID(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("该申请尚未生成正式文件")
		}
		return nil, err
	}
	return s.Get(ctx, formal.ID, actor)
}

// List 正式文件一览。协力厂商只看到本公司申请派生的文件。
func (s *FormalService) List(ctx context.Context, actor Actor, status, vendorID string, page, pageSize int) ([]*entity.FormalDocument, int64, error) {
	if actor.Kind == middleware.UserKindVendor {
		vendorID = actor.Org
	}
	return s.formalRepo.List(ctx, status, vendorID, page, pageSize)
}

// CompleteItemRequest 完成检查项目请求
type CompleteItemRequest struct {
	Note string `json:"note"`
}

// CompleteItem 勾掉一个检查项目。首个项目完成时文件转in_progress。
// 检查清单由本社品质担当推进，协力厂商只读。
func (s *FormalService) CompleteItem(ctx context.Context, formalID, itemID string, req *CompleteItemRequest, actor Actor) (*entity.FormalDocument, error) {
	if actor.Kind != middleware.UserKindInternal {
		return nil, apperr.Permission("只有本社担当可以操作检查项目")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		formal, err := lockFormal(tx, formalID)
		if err != nil {
			return err
		}
		if formal.Status == entity.FormalStatusCompleted {
			return apperr.Conflict("正式文件已完结")
		}

		var item entity.FormalItem
		err = tx.First(&item, "id = ? AND formal_id = ?", itemID, formalID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("检查项目不存在")
			}
			return err
		}
		if item.Done {
			return apperr.Conflict("该项目已完成")
		}

		now := time.Now()
		err = tx.Model(&item).Updates(map[string]interface{}{
			"done":       true,
			"done_by":    actor.ID,
			"done_at":    now,
			"note":       req.Note,
			"updated_at": now,
		}).Error
		if err != nil {
			return err
		}

		if formal.Status == entity.FormalStatusOpen {
			return tx.Model(formal).Update("status", entity.FormalStatusInProgress).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.formalRepo.FindByID(ctx, formalID)
}

// Complete 完结正式文件。所有必须项目完成后才允许。
func (s *FormalService) Complete(ctx context.Context, formalID string, actor Actor) (*entity.FormalDocument, error) {
	if actor.Kind != middleware.UserKindInternal {
		return nil, apperr.Permission("只有本社担当可以完结正式文件")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		formal, err := lockFormal(tx, formalID)
		if err != nil {
			return err
		}
		if formal.Status == entity.FormalStatusCompleted {
			return apperr.Conflict("正式文件已完结")
		}

		var undone int64
		err = tx.Model(&entity.FormalItem{}).
			Where("formal_id = ? AND required = ? AND done = ?", formalID, true, false).
			Count(&undone).Error
		if err != nil {
			return err
		}
		if undone > 0 {
			return apperr.Validation("尚有%d个必须项目未完成", undone)
		}

		now := time.Now()
		return tx.Model(formal).Updates(map[string]interface{}{
			"status":       entity.FormalStatusCompleted,
			"completed_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.formalRepo.FindByID(ctx, formalID)
}

// UploadAttachment 上传附件。文件本体进对象存储，库里只留元数据。
func (s *FormalService) UploadAttachment(ctx context.Context, formalID string, actor Actor, fileName string, reader io.Reader, size int64, contentType string) (*entity.FormalAttachment, error) {
	if s.store == nil {
		return nil, apperr.Validation("对象存储未配置")
	}

	formal, err := s.Get(ctx, formalID, actor)
	if err != nil {
		return nil, err
	}
	if formal.Status == entity.FormalStatusCompleted {
		return nil, apperr.Conflict("正式文件已完结")
	}

	objectKey := objstore.ObjectName("formal", fileName)
	if err := s.store.Put(ctx, objectKey, reader, size, contentType); err != nil {
		return nil, err
	}

	attachment := &entity.FormalAttachment{
		ID:          uuid.New().String()[:32],
		FormalID:    formalID,
		FileName:    fileName,
		ObjectKey:   objectKey,
		FileSize:    size,
		ContentType: contentType,
		UploadedBy:  actor.ID,
		CreatedAt:   time.Now(),
	}
	if err := s.formalRepo.AddAttachment(ctx, attachment); err != nil {
		// 元数据落库失败时回收已上传的对象
		if rmErr := s.store.Remove(ctx, objectKey); rmErr != nil && s.logger != nil {
			s.logger.Warn("附件对象回收失败", zap.String("object_key", objectKey), zap.Error(rmErr))
		}
		return nil, err
	}
	return attachment, nil
}

// ListAttachments 附件一览
func (s *FormalService) ListAttachments(ctx context.Context, formalID string, actor Actor) ([]*entity.FormalAttachment, error) {
	if _, err := s.Get(ctx, formalID, actor); err != nil {
		return nil, err
	}
	return s.formalRepo.ListAttachments(ctx, formalID)
}

// AttachmentURL 生成附件的限时下载链接
func (s *FormalService) AttachmentURL(ctx context.Context, formalID, attachmentID string, actor Actor) (string, error) {
	if s.store == nil {
		return "", apperr.Validation("对象存储未配置")
	}
	if _, err := s.Get(ctx, formalID, actor); err != nil {
		return "", err
	}

	attachment, err := s.formalRepo.FindAttachment(ctx, formalID, attachmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", apperr.NotFound("附件不存在")
		}
		return "", err
	}
	return s.store.PresignedGetURL(ctx, attachment.ObjectKey, attachment.FileName, attachmentURLExpiry)
}

// formalScopeCheck 协力厂商只能访问本公司申请派生的文件
func (s *FormalService) formalScopeCheck(formal *entity.FormalDocument, actor Actor) error {
	if actor.Kind != middleware.UserKindVendor {
		return nil
	}
	if formal.PreRequest != nil &&
		(formal.PreRequest.VendorID == actor.Org || formal.PreRequest.RequesterID == actor.ID) {
		return nil
	}
	return apperr.Permission("无权访问该正式文件")
}

// lockFormal 事务内对正式文件行加行锁
func lockFormal(tx *gorm.DB, id string) (*entity.FormalDocument, error) {
	var formal entity.FormalDocument
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&formal, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("正式文件不存在")
		}
		return nil, err
	}
	return &formal, nil
}
