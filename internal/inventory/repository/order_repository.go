package repository

import (
	"context"
	"errors"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"gorm.io/gorm"
)

// OrderRepository 注文仓库
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// FindAll 注文列表
func (r *OrderRepository) FindAll(ctx context.Context, vendorID, status string, page, pageSize int) ([]entity.PurchaseOrder, int64, error) {
	var items []entity.PurchaseOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.PurchaseOrder{})
	if vendorID != "" {
		query = query.Where("vendor_id = ?", vendorID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Vendor").
		Preload("Part").
		Order("due_date ASC, order_no ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找注文
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*entity.PurchaseOrder, error) {
	var order entity.PurchaseOrder
	err := r.db.WithContext(ctx).
		Preload("Vendor").
		Preload("Part").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// FindByOrderNo 根据注文番号查找
func (r *OrderRepository) FindByOrderNo(ctx context.Context, orderNo string) (*entity.PurchaseOrder, error) {
	var order entity.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// Create 创建注文
func (r *OrderRepository) Create(ctx context.Context, order *entity.PurchaseOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// UpdateStatus 更新注文状态
func (r *OrderRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).
		Model(&entity.PurchaseOrder{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// DB 返回底层db用于跨仓库事务
func (r *OrderRepository) DB() *gorm.DB {
	return r.db
}
