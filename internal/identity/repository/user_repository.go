package repository

import (
	"context"
	"errors"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	"gorm.io/gorm"
)

// UserRepository 用户仓库
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找用户
func (r *UserRepository) FindByID(ctx context.Context, id string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindByUsername 根据登录名查找用户
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	var user entity.User
	err := r.db.WithContext(ctx).
		Where("username = ? AND deleted_at IS NULL", username).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// Update 更新用户
func (r *UserRepository) Update(ctx context.Context, user *entity.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// Delete 软删除用户
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&entity.User{}).
		Where("id = ?", id).
		Update("deleted_at", time.Now()).Error
}

// List 用户列表，kind/orgID为空表示不过滤
func (r *UserRepository) List(ctx context.Context, kind, orgID string, page, pageSize int) ([]entity.User, int64, error) {
	query := r.db.WithContext(ctx).Model(&entity.User{}).Where("deleted_at IS NULL")
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if orgID != "" {
		query = query.Where("org_id = ?", orgID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var users []entity.User
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// LoadCapabilities 加载用户能力到CapabilityCodes
func (r *UserRepository) LoadCapabilities(ctx context.Context, user *entity.User) error {
	var caps []entity.UserCapability
	err := r.db.WithContext(ctx).
		Where("user_id = ?", user.ID).
		Order("capability").
		Find(&caps).Error
	if err != nil {
		return err
	}

	user.CapabilityCodes = make([]string, 0, len(caps))
	for _, cap := range caps {
		user.CapabilityCodes = append(user.CapabilityCodes, cap.Capability)
	}
	return nil
}

// ReplaceCapabilities 整体替换用户能力
func (r *UserRepository) ReplaceCapabilities(ctx context.Context, userID string, capabilities []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&entity.UserCapability{}).Error; err != nil {
			return err
		}
		now := time.Now()
		for _, cap := range capabilities {
			uc := entity.UserCapability{
				UserID:     userID,
				Capability: cap,
				CreatedAt:  now,
			}
			if err := tx.Create(&uc).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
