package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/entity"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("record not found")

// TagRepository 标签与扫码履历数据访问
type TagRepository struct {
	db *gorm.DB
}

func NewTagRepository(db *gorm.DB) *TagRepository {
	return &TagRepository{db: db}
}

func (r *TagRepository) DB() *gorm.DB {
	return r.db
}

// NextTagNo 生成当日下一个标签号，形如 PT-20240101-0001。
// 序号按日重置，取当日最大号+1；旧数据格式解析失败时从0001重新起号。
func (r *TagRepository) NextTagNo(ctx context.Context, model interface{}, prefix string, day string) (string, error) {
	dayPrefix := fmt.Sprintf("%s-%s-", prefix, day)

	var maxNo string
	err := r.db.WithContext(ctx).Model(model).
		Select("COALESCE(MAX(tag_no), '')").
		Where("tag_no LIKE ?", dayPrefix+"%").
		Scan(&maxNo).Error
	if err != nil {
		return "", err
	}

	seq := 0
	if maxNo != "" {
		fmt.Sscanf(strings.TrimPrefix(maxNo, dayPrefix), "%04d", &seq)
	}
	seq++

	return fmt.Sprintf("%s%04d", dayPrefix, seq), nil
}

func (r *TagRepository) CreateTag(ctx context.Context, tag *entity.ProcessTag) error {
	return r.db.WithContext(ctx).Create(tag).Error
}

func (r *TagRepository) FindTagByID(ctx context.Context, id string) (*entity.ProcessTag, error) {
	var tag entity.ProcessTag
	err := r.db.WithContext(ctx).Preload("Part").First(&tag, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tag, nil
}

func (r *TagRepository) FindTagByNo(ctx context.Context, tagNo string) (*entity.ProcessTag, error) {
	var tag entity.ProcessTag
	err := r.db.WithContext(ctx).Preload("Part").First(&tag, "tag_no = ?", tagNo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tag, nil
}

func (r *TagRepository) ListTags(ctx context.Context, partID, status string, page, pageSize int) ([]*entity.ProcessTag, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.ProcessTag{})
	if partID != "" {
		query = query.Where("part_id = ?", partID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tags []*entity.ProcessTag
	err := query.Preload("Part").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tags).Error
	if err != nil {
		return nil, 0, err
	}
	return tags, total, nil
}

func (r *TagRepository) CreateLabel(ctx context.Context, label *entity.RawMaterialLabel) error {
	return r.db.WithContext(ctx).Create(label).Error
}

func (r *TagRepository) FindLabelByNo(ctx context.Context, tagNo string) (*entity.RawMaterialLabel, error) {
	var label entity.RawMaterialLabel
	err := r.db.WithContext(ctx).Preload("Part").First(&label, "tag_no = ?", tagNo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &label, nil
}

func (r *TagRepository) ListLabels(ctx context.Context, partID, status string, page, pageSize int) ([]*entity.RawMaterialLabel, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.RawMaterialLabel{})
	if partID != "" {
		query = query.Where("part_id = ?", partID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var labels []*entity.RawMaterialLabel
	err := query.Preload("Part").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&labels).Error
	if err != nil {
		return nil, 0, err
	}
	return labels, total, nil
}

// ListScanLogs 某张标签的全部扫码履历，按时间正序
func (r *TagRepository) ListScanLogs(ctx context.Context, tagType, tagID string) ([]*entity.TagScanLog, error) {
	var logs []*entity.TagScanLog
	err := r.db.WithContext(ctx).
		Where("tag_type = ? AND tag_id = ?", tagType, tagID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
