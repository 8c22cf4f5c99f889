package repository

import (
	"context"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"gorm.io/gorm"
)

// BOMRepository 构成仓库
type BOMRepository struct {
	db *gorm.DB
}

func NewBOMRepository(db *gorm.DB) *BOMRepository {
	return &BOMRepository{db: db}
}

// ListByParent 父品目的构成行
func (r *BOMRepository) ListByParent(ctx context.Context, parentPartID string) ([]entity.BOMLine, error) {
	var lines []entity.BOMLine
	err := r.db.WithContext(ctx).
		Preload("ChildPart").
		Where("parent_part_id = ?", parentPartID).
		Order("created_at ASC").
		Find(&lines).Error
	return lines, err
}

// ReplaceForParent 整体替换父品目的构成，Excel导入走这里
func (r *BOMRepository) ReplaceForParent(ctx context.Context, parentPartID string, lines []entity.BOMLine) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("parent_part_id = ?", parentPartID).
			Delete(&entity.BOMLine{}).Error; err != nil {
			return err
		}
		for i := range lines {
			if err := tx.Create(&lines[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
