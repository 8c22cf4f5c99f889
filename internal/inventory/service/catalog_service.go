package service

import (
	"context"
	"fmt"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/google/uuid"
)

// CatalogService 厂商与品目台账服务
type CatalogService struct {
	vendorRepo *repository.VendorRepository
	partRepo   *repository.PartRepository
}

// NewCatalogService 创建台账服务
func NewCatalogService(vendorRepo *repository.VendorRepository, partRepo *repository.PartRepository) *CatalogService {
	return &CatalogService{
		vendorRepo: vendorRepo,
		partRepo:   partRepo,
	}
}

// CreateVendorRequest 创建厂商请求
type CreateVendorRequest struct {
	Name          string `json:"name" binding:"required"`
	ShortName     string `json:"short_name"`
	ContactPerson string `json:"contact_person"`
	ContactEmail  string `json:"contact_email"`
}

// CreateVendor 创建厂商，编码自动按SUP-序号生成
func (s *CatalogService) CreateVendor(ctx context.Context, req *CreateVendorRequest) (*entity.Vendor, error) {
	if existing, err := s.vendorRepo.FindByName(ctx, req.Name); err == nil && existing != nil {
		return nil, apperr.Conflict("厂商已存在: %s", req.Name)
	} else if err != nil && err != repository.ErrNotFound {
		return nil, fmt.Errorf("check vendor name: %w", err)
	}

	code, err := s.vendorRepo.GenerateCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate vendor code: %w", err)
	}

	now := time.Now()
	vendor := &entity.Vendor{
		ID:            uuid.New().String()[:32],
		Code:          code,
		Name:          req.Name,
		ShortName:     req.ShortName,
		ContactPerson: req.ContactPerson,
		ContactEmail:  req.ContactEmail,
		Status:        entity.VendorStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.vendorRepo.Create(ctx, vendor); err != nil {
		return nil, fmt.Errorf("create vendor: %w", err)
	}
	return vendor, nil
}

// ListVendors 厂商列表
func (s *CatalogService) ListVendors(ctx context.Context, page, pageSize int, search string) ([]entity.Vendor, int64, error) {
	return s.vendorRepo.FindAll(ctx, page, pageSize, search)
}

// GetVendor 厂商详情
func (s *CatalogService) GetVendor(ctx context.Context, id string) (*entity.Vendor, error) {
	vendor, err := s.vendorRepo.FindByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("厂商不存在: %s", id)
		}
		return nil, err
	}
	return vendor, nil
}

// CreatePartRequest 创建品目请求
type CreatePartRequest struct {
	VendorID     string `json:"vendor_id" binding:"required"`
	PartNo       string `json:"part_no" binding:"required"`
	Name         string `json:"name" binding:"required"`
	Unit         string `json:"unit"`
	PartGroup    string `json:"part_group"`
	LeadTimeDays int    `json:"lead_time_days" binding:"omitempty,gte=0"`
}

// CreatePart 创建品目，同厂商内品番唯一
func (s *CatalogService) CreatePart(ctx context.Context, req *CreatePartRequest) (*entity.Part, error) {
	if _, err := s.vendorRepo.FindByID(ctx, req.VendorID); err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("厂商不存在: %s", req.VendorID)
		}
		return nil, err
	}

	if existing, err := s.partRepo.FindByVendorAndPartNo(ctx, req.VendorID, req.PartNo); err == nil && existing != nil {
		return nil, apperr.Conflict("品番已存在: %s", req.PartNo)
	} else if err != nil && err != repository.ErrNotFound {
		return nil, fmt.Errorf("check part no: %w", err)
	}

	unit := req.Unit
	if unit == "" {
		unit = "pcs"
	}

	now := time.Now()
	part := &entity.Part{
		ID:           uuid.New().String()[:32],
		VendorID:     req.VendorID,
		PartNo:       req.PartNo,
		Name:         req.Name,
		Unit:         unit,
		PartGroup:    req.PartGroup,
		LeadTimeDays: req.LeadTimeDays,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.partRepo.Create(ctx, part); err != nil {
		return nil, fmt.Errorf("create part: %w", err)
	}
	return part, nil
}

// ListParts 品目列表
func (s *CatalogService) ListParts(ctx context.Context, vendorID, search string, page, pageSize int) ([]entity.Part, int64, error) {
	return s.partRepo.FindAll(ctx, vendorID, search, page, pageSize)
}

// GetPart 品目详情
func (s *CatalogService) GetPart(ctx context.Context, id string) (*entity.Part, error) {
	part, err := s.partRepo.FindByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("品目不存在: %s", id)
		}
		return nil, err
	}
	return part, nil
}

// FindPart 按厂商名+品番定位品目
func (s *CatalogService) FindPart(ctx context.Context, partNo, vendorName string) (*entity.Part, error) {
	vendor, err := s.vendorRepo.FindByName(ctx, vendorName)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("厂商不存在: %s", vendorName)
		}
		return nil, err
	}

	part, err := s.partRepo.FindByVendorAndPartNo(ctx, vendor.ID, partNo)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("品目不存在: %s / %s", vendorName, partNo)
		}
		return nil, err
	}
	return part, nil
}
