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

// M4Repository 4M申请数据访问
type M4Repository struct {
	db *gorm.DB
}

func NewM4Repository(db *gorm.DB) *M4Repository {
	return &M4Repository{db: db}
}

func (r *M4Repository) DB() *gorm.DB {
	return r.db
}

// GenerateCode 生成申请编号，形如 M4-2024-0001，按年连号
func (r *M4Repository) GenerateCode(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("M4-%d-", time.Now().Year())

	var maxCode string
	err := r.db.WithContext(ctx).Model(&entity.M4Request{}).
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

func (r *M4Repository) Create(ctx context.Context, request *entity.M4Request) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *M4Repository) FindByID(ctx context.Context, id string) (*entity.M4Request, error) {
	var request entity.M4Request
	err := r.db.WithContext(ctx).
		Preload("Vendor").
		Preload("Part").
		Preload("Requester").
		Preload("Reviewer1").
		Preload("Reviewer2").
		Preload("Approver").
		First(&request, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// List 申请一览。vendorScope非空时限定为该供应商或本人发起的申请。
func (r *M4Repository) List(ctx context.Context, status, vendorID, requesterID string, scopeOrgID, scopeUserID string, page, pageSize int) ([]*entity.M4Request, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.M4Request{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	if requesterID != "" {
		query = query.Where("requester_id = ?", requesterID)
	}
	if scopeOrgID != "" || scopeUserID != "" {
		query = query.Where("vendor_id = ? OR requester_id = ?", scopeOrgID, scopeUserID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []*entity.M4Request
	err := query.
		Preload("Vendor").
		Preload("Part").
		Preload("Requester").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// ListChangeLogs 申请的字段变更履历，按时间正序
func (r *M4Repository) ListChangeLogs(ctx context.Context, requestID string) ([]*entity.M4ChangeLog, error) {
	var logs []*entity.M4ChangeLog
	err := r.db.WithContext(ctx).
		Preload("Actor").
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
