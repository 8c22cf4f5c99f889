package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"gorm.io/gorm"
)

// VendorRepository 厂商仓库
type VendorRepository struct {
	db *gorm.DB
}

func NewVendorRepository(db *gorm.DB) *VendorRepository {
	return &VendorRepository{db: db}
}

// FindAll 厂商列表
func (r *VendorRepository) FindAll(ctx context.Context, page, pageSize int, search string) ([]entity.Vendor, int64, error) {
	var items []entity.Vendor
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Vendor{}).Where("deleted_at IS NULL")
	if search != "" {
		query = query.Where("name ILIKE ? OR code ILIKE ? OR short_name ILIKE ?",
			"%"+search+"%", "%"+search+"%", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("code ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找厂商
func (r *VendorRepository) FindByID(ctx context.Context, id string) (*entity.Vendor, error) {
	var vendor entity.Vendor
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

// FindByName 根据名称查找厂商
func (r *VendorRepository) FindByName(ctx context.Context, name string) (*entity.Vendor, error) {
	var vendor entity.Vendor
	err := r.db.WithContext(ctx).
		Where("name = ? AND deleted_at IS NULL", name).
		First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

// FindByCode 根据编码查找厂商
func (r *VendorRepository) FindByCode(ctx context.Context, code string) (*entity.Vendor, error) {
	var vendor entity.Vendor
	err := r.db.WithContext(ctx).
		Where("code = ? AND deleted_at IS NULL", code).
		First(&vendor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vendor, nil
}

// Create 创建厂商
func (r *VendorRepository) Create(ctx context.Context, vendor *entity.Vendor) error {
	return r.db.WithContext(ctx).Create(vendor).Error
}

// Update 更新厂商
func (r *VendorRepository) Update(ctx context.Context, vendor *entity.Vendor) error {
	return r.db.WithContext(ctx).Save(vendor).Error
}

// GenerateCode 生成厂商编码 SUP-{4位}
func (r *VendorRepository) GenerateCode(ctx context.Context) (string, error) {
	var maxCode string
	err := r.db.WithContext(ctx).
		Model(&entity.Vendor{}).
		Select("COALESCE(MAX(code), 'SUP-0000')").
		Scan(&maxCode).Error
	if err != nil {
		return "", err
	}

	var seq int
	fmt.Sscanf(maxCode, "SUP-%04d", &seq)
	seq++
	return fmt.Sprintf("SUP-%04d", seq), nil
}
