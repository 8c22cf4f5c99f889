package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/m4/entity"
)

// FormalRepository 正式4M文件数据访问
type FormalRepository struct {
	db *gorm.DB
}

func NewFormalRepository(db *gorm.DB) *FormalRepository {
	return &FormalRepository{db: db}
}

// GenerateCode 生成正式文件编号，形如 FM-2024-0001
func (r *FormalRepository) GenerateCode(ctx context.Context) (string, error) {
	return GenerateFormalCodeTx(r.db.WithContext(ctx))
}

// GenerateFormalCodeTx 在调用方事务内生成正式文件编号。
// 派生正式文件发生在承认事务里，编号也要用同一连接取。
func GenerateFormalCodeTx(tx *gorm.DB) (string, error) {
	prefix := fmt.Sprintf("FM-%d-", time.Now().Year())

	var maxCode string
	err := tx.Model(&entity.FormalDocument{}).
		Select("COALESCE(MAX(code), '')").
		Where("code LIKE ?", prefix+"%").
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	seq := 0
	if maxCode != "" {
		fmt.Sscanf(strings.TrimPrefix(maxCode, prefix), "%04d", &seq)
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}

func (r *FormalRepository) FindByID(ctx context.Context, id string) (*entity.FormalDocument, error) {
	var formal entity.FormalDocument
	err := r.db.WithContext(ctx).
		Preload("PreRequest").
		Preload("PreRequest.Vendor").
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("formal_items.sort_order ASC")
		}).
		Preload("Attachments").
		First(&formal, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &formal, nil
}

func (r *FormalRepository) FindByPreRequestID(ctx context.Context, preRequestID string) (*entity.FormalDocument, error) {
	var formal entity.FormalDocument
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("formal_items.sort_order ASC")
		}).
		First(&formal, "pre_request_id = ?", preRequestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &formal, nil
}

// List 正式文件一览。vendorID非空时限定为该供应商的申请派生的文件。
func (r *FormalRepository) List(ctx context.Context, status, vendorID string, page, pageSize int) ([]*entity.FormalDocument, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.FormalDocument{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if vendorID != "" {
		query = query.Where("pre_request_id IN (SELECT id FROM m4_requests WHERE vendor_id = ?)", vendorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var formals []*entity.FormalDocument
	err := query.
		Preload("PreRequest").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&formals).Error
	if err != nil {
		return nil, 0, err
	}
	return formals, total, nil
}

func (r *FormalRepository) FindItem(ctx context.Context, formalID, itemID string) (*entity.FormalItem, error) {
	var item entity.FormalItem
	err := r.db.WithContext(ctx).
		First(&item, "id = ? AND formal_id = ?", itemID, formalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// CountUndoneRequired 未完成的必须项目数
func (r *FormalRepository) CountUndoneRequired(ctx context.Context, formalID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.FormalItem{}).
		Where("formal_id = ? AND required = ? AND done = ?", formalID, true, false).
		Count(&count).Error
	return count, err
}

func (r *FormalRepository) AddAttachment(ctx context.Context, attachment *entity.FormalAttachment) error {
	return r.db.WithContext(ctx).Create(attachment).Error
}

func (r *FormalRepository) FindAttachment(ctx context.Context, formalID, attachmentID string) (*entity.FormalAttachment, error) {
	var attachment entity.FormalAttachment
	err := r.db.WithContext(ctx).
		First(&attachment, "id = ? AND formal_id = ?", attachmentID, formalID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &attachment, nil
}

func (r *FormalRepository) ListAttachments(ctx context.Context, formalID string) ([]*entity.FormalAttachment, error) {
	var attachments []*entity.FormalAttachment
	err := r.db.WithContext(ctx).
		Where("formal_id = ?", formalID).
		Order("created_at ASC").
		Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}
