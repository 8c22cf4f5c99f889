package repository

import (
	"context"
	"errors"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"gorm.io/gorm"
)

// PartRepository 品目仓库
type PartRepository struct {
	db *gorm.DB
}

func NewPartRepository(db *gorm.DB) *PartRepository {
	return &PartRepository{db: db}
}

// FindAll 品目列表，vendorID为空表示不过滤
func (r *PartRepository) FindAll(ctx context.Context, vendorID, search string, page, pageSize int) ([]entity.Part, int64, error) {
	var items []entity.Part
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Part{}).Where("deleted_at IS NULL")
	if vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	if search != "" {
		query = query.Where("part_no ILIKE ? OR name ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Vendor").
		Order("part_no ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找品目
func (r *PartRepository) FindByID(ctx context.Context, id string) (*entity.Part, error) {
	var part entity.Part
	err := r.db.WithContext(ctx).
		Preload("Vendor").
		Where("id = ? AND deleted_at IS NULL", id).
		First(&part).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &part, nil
}

// FindByVendorAndPartNo 厂商内按品番查找
func (r *PartRepository) FindByVendorAndPartNo(ctx context.Context, vendorID, partNo string) (*entity.Part, error) {
	var part entity.Part
	err := r.db.WithContext(ctx).
		Where("vendor_id = ? AND part_no = ? AND deleted_at IS NULL", vendorID, partNo).
		First(&part).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &part, nil
}

// Create 创建品目
func (r *PartRepository) Create(ctx context.Context, part *entity.Part) error {
	return r.db.WithContext(ctx).Create(part).Error
}

// Update 更新品目
func (r *PartRepository) Update(ctx context.Context, part *entity.Part) error {
	return r.db.WithContext(ctx).Save(part).Error
}
