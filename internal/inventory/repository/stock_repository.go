package repository

import (
	"context"
	"errors"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockRepository 在库台账仓库。基准在库、使用预定、入库预定三张表的读写都在这里。
type StockRepository struct {
	db *gorm.DB
}

func NewStockRepository(db *gorm.DB) *StockRepository {
	return &StockRepository{db: db}
}

// GetBase 取品目的基准在库行
func (r *StockRepository) GetBase(ctx context.Context, partID string) (*entity.BaseStock, error) {
	var base entity.BaseStock
	err := r.db.WithContext(ctx).
		Where("part_id = ?", partID).
		First(&base).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &base, nil
}

// SetBase 设置基准在库（整行替换）。在库表上传和手工初始化走这里。
func (r *StockRepository) SetBase(ctx context.Context, base *entity.BaseStock) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "part_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "as_of_date", "source", "updated_by", "updated_at"}),
	}).Create(base).Error
}

// AdjustBaseQuantity 基准在库原子增量。入库扫码走这里，
// 与并发的整行替换互不丢失更新（增量在数据库侧叠加，不经过应用层快照）。
func (r *StockRepository) AdjustBaseQuantity(ctx context.Context, partID string, delta int, updatedBy string) error {
	return AdjustBaseQuantityTx(r.db.WithContext(ctx), partID, delta, updatedBy)
}

// AdjustBaseQuantityTx 在调用方事务内执行基准在库原子增量。
// 扫码入库要求在库增量与标签状态变更同一事务提交。
func AdjustBaseQuantityTx(tx *gorm.DB, partID string, delta int, updatedBy string) error {
	now := time.Now()
	base := &entity.BaseStock{
		ID:        newID(),
		PartID:    partID,
		Quantity:  delta,
		Source:    entity.LedgerSourceScan,
		UpdatedBy: updatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "part_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("base_stocks.quantity + EXCLUDED.quantity"),
			"updated_by": updatedBy,
			"updated_at": now,
		}),
	}).Create(base).Error
}

// UpsertDemand 使用预定按(part_id, due_date)替换登录
func (r *StockRepository) UpsertDemand(ctx context.Context, line *entity.DemandLine) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "part_id"}, {Name: "due_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "source", "updated_at"}),
	}).Create(line).Error
}

// DeleteDemand 删除指定日的使用预定
func (r *StockRepository) DeleteDemand(ctx context.Context, partID string, dueDate time.Time) error {
	return r.db.WithContext(ctx).
		Where("part_id = ? AND due_date = ?", partID, dueDate).
		Delete(&entity.DemandLine{}).Error
}

// AddIncoming 追加入库预定行（append-only）
func (r *StockRepository) AddIncoming(ctx context.Context, line *entity.IncomingLine) error {
	return r.db.WithContext(ctx).Create(line).Error
}

// DeleteIncomingBySource 按来源撤回入库预定。注文关闭时回收其登录的预定行。
func (r *StockRepository) DeleteIncomingBySource(ctx context.Context, sourceType, sourceRef string) error {
	return r.db.WithContext(ctx).
		Where("source_type = ? AND source_ref = ?", sourceType, sourceRef).
		Delete(&entity.IncomingLine{}).Error
}

// DemandBetween 区间使用预定合计，from不含、to含
func (r *StockRepository) DemandBetween(ctx context.Context, partID string, fromExclusive, toInclusive time.Time) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&entity.DemandLine{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("part_id = ? AND due_date > ? AND due_date <= ?", partID, fromExclusive, toInclusive).
		Scan(&total).Error
	return total, err
}

// IncomingBetween 区间入库预定合计，from不含、to含
func (r *StockRepository) IncomingBetween(ctx context.Context, partID string, fromExclusive, toInclusive time.Time) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&entity.IncomingLine{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("part_id = ? AND in_date > ? AND in_date <= ?", partID, fromExclusive, toInclusive).
		Scan(&total).Error
	return total, err
}

type dailyTotal struct {
	Day   time.Time
	Total int
}

// DemandByDay 区间内按日合计使用预定，两端都含，key为YYYY-MM-DD
func (r *StockRepository) DemandByDay(ctx context.Context, partID string, from, to time.Time) (map[string]int, error) {
	var rows []dailyTotal
	err := r.db.WithContext(ctx).
		Model(&entity.DemandLine{}).
		Select("due_date AS day, SUM(quantity) AS total").
		Where("part_id = ? AND due_date >= ? AND due_date <= ?", partID, from, to).
		Group("due_date").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.Day.Format("2006-01-02")] = row.Total
	}
	return result, nil
}

// IncomingByDay 区间内按日合计入库预定，两端都含
func (r *StockRepository) IncomingByDay(ctx context.Context, partID string, from, to time.Time) (map[string]int, error) {
	var rows []dailyTotal
	err := r.db.WithContext(ctx).
		Model(&entity.IncomingLine{}).
		Select("in_date AS day, SUM(quantity) AS total").
		Where("part_id = ? AND in_date >= ? AND in_date <= ?", partID, from, to).
		Group("in_date").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.Day.Format("2006-01-02")] = row.Total
	}
	return result, nil
}

// FurthestDemandDate 最远的使用预定日，无预定时返回nil
func (r *StockRepository) FurthestDemandDate(ctx context.Context, partID string) (*time.Time, error) {
	var line entity.DemandLine
	err := r.db.WithContext(ctx).
		Where("part_id = ?", partID).
		Order("due_date DESC").
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &line.DueDate, nil
}

// ListDemand 区间使用预定明细
func (r *StockRepository) ListDemand(ctx context.Context, partID string, from, to time.Time) ([]entity.DemandLine, error) {
	var lines []entity.DemandLine
	err := r.db.WithContext(ctx).
		Where("part_id = ? AND due_date >= ? AND due_date <= ?", partID, from, to).
		Order("due_date ASC").
		Find(&lines).Error
	return lines, err
}

// ListIncoming 区间入库预定明细
func (r *StockRepository) ListIncoming(ctx context.Context, partID string, from, to time.Time) ([]entity.IncomingLine, error) {
	var lines []entity.IncomingLine
	err := r.db.WithContext(ctx).
		Where("part_id = ? AND in_date >= ? AND in_date <= ?", partID, from, to).
		Order("in_date ASC, created_at ASC").
		Find(&lines).Error
	return lines, err
}

// BulkUpsertDemand 批量替换登录使用预定，整批一个事务。
// 数量为0的行按删除处理，与单行登录语义一致。
func (r *StockRepository) BulkUpsertDemand(ctx context.Context, lines []entity.DemandLine) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range lines {
			line := &lines[i]
			if line.Quantity <= 0 {
				if err := tx.Where("part_id = ? AND due_date = ?", line.PartID, line.DueDate).
					Delete(&entity.DemandLine{}).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "part_id"}, {Name: "due_date"}},
				DoUpdates: clause.AssignmentColumns([]string{"quantity", "source", "updated_at"}),
			}).Create(line).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
