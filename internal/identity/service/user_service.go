package service

import (
	"context"
	"fmt"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/identity/repository"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserService 用户管理服务
type UserService struct {
	userRepo *repository.UserRepository
}

// NewUserService 创建用户管理服务
func NewUserService(userRepo *repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Username     string   `json:"username" binding:"required"`
	Name         string   `json:"name" binding:"required"`
	Email        string   `json:"email"`
	Password     string   `json:"password" binding:"required,min=8"`
	Kind         string   `json:"kind" binding:"required,oneof=internal vendor"`
	OrgID        string   `json:"org_id"`
	Capabilities []string `json:"capabilities"`
}

// Create 创建用户。厂商用户必须挂到具体厂商，且不授予任何能力。
func (s *UserService) Create(ctx context.Context, req *CreateUserRequest) (*entity.User, error) {
	if req.Kind == entity.UserKindVendor && req.OrgID == "" {
		return nil, apperr.Validation("厂商用户必须指定org_id")
	}
	if req.Kind == entity.UserKindVendor && len(req.Capabilities) > 0 {
		return nil, apperr.Validation("厂商用户不可授予能力")
	}

	if existing, err := s.userRepo.FindByUsername(ctx, req.Username); err == nil && existing != nil {
		return nil, apperr.Conflict("用户名已存在: %s", req.Username)
	} else if err != nil && err != repository.ErrNotFound {
		return nil, fmt.Errorf("check username: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now()
	user := &entity.User{
		ID:           uuid.New().String()[:32],
		Username:     req.Username,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: string(hash),
		Kind:         req.Kind,
		OrgID:        req.OrgID,
		Status:       entity.UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	if len(req.Capabilities) > 0 {
		if err := s.userRepo.ReplaceCapabilities(ctx, user.ID, req.Capabilities); err != nil {
			return nil, fmt.Errorf("grant capabilities: %w", err)
		}
		user.CapabilityCodes = req.Capabilities
	}

	return user, nil
}

// List 用户列表
func (s *UserService) List(ctx context.Context, kind, orgID string, page, pageSize int) ([]entity.User, int64, error) {
	return s.userRepo.List(ctx, kind, orgID, page, pageSize)
}

// Get 用户详情
func (s *UserService) Get(ctx context.Context, id string) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("用户不存在: %s", id)
		}
		return nil, err
	}
	if err := s.userRepo.LoadCapabilities(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateStatusRequest 更新用户状态请求
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active disabled"`
}

// UpdateStatus 启用/停用用户
func (s *UserService) UpdateStatus(ctx context.Context, id, status string) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("用户不存在: %s", id)
		}
		return nil, err
	}

	user.Status = status
	user.UpdatedAt = time.Now()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// GrantCapabilitiesRequest 授权请求
type GrantCapabilitiesRequest struct {
	Capabilities []string `json:"capabilities" binding:"required"`
}

// GrantCapabilities 整体替换用户能力，仅限本社员工
func (s *UserService) GrantCapabilities(ctx context.Context, id string, capabilities []string) (*entity.User, error) {
	user, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("用户不存在: %s", id)
		}
		return nil, err
	}
	if user.Kind == entity.UserKindVendor {
		return nil, apperr.Validation("厂商用户不可授予能力")
	}

	if err := s.userRepo.ReplaceCapabilities(ctx, id, capabilities); err != nil {
		return nil, fmt.Errorf("replace capabilities: %w", err)
	}
	user.CapabilityCodes = capabilities
	return user, nil
}
