package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// 展开层数上限，超过视为构成登录错误
const maxBOMDepth = 10

// RequirementService 所要量计算服务。完成品计划经BOM展开摊到构成品目，
// 按各品目交货提前期倒排使用预定日后登录使用预定。
type RequirementService struct {
	bomRepo   *repository.BOMRepository
	partRepo  *repository.PartRepository
	stockRepo *repository.StockRepository
	rdb       *redis.Client
}

// NewRequirementService 创建所要量计算服务
func NewRequirementService(bomRepo *repository.BOMRepository, partRepo *repository.PartRepository, stockRepo *repository.StockRepository, rdb *redis.Client) *RequirementService {
	return &RequirementService{
		bomRepo:   bomRepo,
		partRepo:  partRepo,
		stockRepo: stockRepo,
		rdb:       rdb,
	}
}

// ListBOM 品目的构成一览
func (s *RequirementService) ListBOM(ctx context.Context, parentPartID string) ([]entity.BOMLine, error) {
	if _, err := s.findPart(ctx, parentPartID); err != nil {
		return nil, err
	}
	return s.bomRepo.ListByParent(ctx, parentPartID)
}

// Requirement 展开后的单品目所要量
type Requirement struct {
	PartID       string          `json:"part_id"`
	PartNo       string          `json:"part_no"`
	PartName     string          `json:"part_name"`
	Unit         string          `json:"unit"`
	LeadTimeDays int             `json:"lead_time_days"`
	RequiredQty  decimal.Decimal `json:"required_qty"`
	CurrentStock int             `json:"current_stock"`
	NetQty       decimal.Decimal `json:"net_qty"`
	HasChildren  bool            `json:"has_children"`
}

// Explode 按数量展开品目BOM，逐级累计所要量并对基准在库轧差。
// 中间组件也出现在结果里（HasChildren=true），净所要量不出现负数。
func (s *RequirementService) Explode(ctx context.Context, partID string, qty int) ([]Requirement, error) {
	part, err := s.findPart(ctx, partID)
	if err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, apperr.Validation("展开数量必须为正: %d", qty)
	}

	lines, err := s.bomRepo.ListByParent(ctx, part.ID)
	if err != nil {
		return nil, err
	}

	reqs := make(map[string]*Requirement)
	var order []string
	path := map[string]bool{part.ID: true}
	if err := s.expandLines(ctx, lines, decimal.NewFromInt(int64(qty)), 1, path, reqs, &order); err != nil {
		return nil, err
	}

	result := make([]Requirement, 0, len(order))
	for _, id := range order {
		req := reqs[id]

		base, err := s.stockRepo.GetBase(ctx, id)
		if err != nil && err != repository.ErrNotFound {
			return nil, err
		}
		if base != nil {
			req.CurrentStock = base.Quantity
		}
		req.NetQty = req.RequiredQty.Sub(decimal.NewFromInt(int64(req.CurrentStock)))
		if req.NetQty.IsNegative() {
			req.NetQty = decimal.Zero
		}
		result = append(result, *req)
	}
	return result, nil
}

// expandLines 递归展开构成行。path检出循环引用，depth兜底层数。
func (s *RequirementService) expandLines(ctx context.Context, lines []entity.BOMLine, multiplier decimal.Decimal, depth int, path map[string]bool, reqs map[string]*Requirement, order *[]string) error {
	if depth > maxBOMDepth {
		return apperr.Validation("BOM层级超过%d层", maxBOMDepth)
	}

	for _, line := range lines {
		child := line.ChildPart
		if child == nil {
			continue
		}
		if path[child.ID] {
			return apperr.Validation("BOM存在循环引用: %s", child.PartNo)
		}

		required := multiplier.Mul(line.QuantityPer)

		req, ok := reqs[child.ID]
		if !ok {
			req = &Requirement{
				PartID:       child.ID,
				PartNo:       child.PartNo,
				PartName:     child.Name,
				Unit:         child.Unit,
				LeadTimeDays: child.LeadTimeDays,
				RequiredQty:  decimal.Zero,
			}
			reqs[child.ID] = req
			*order = append(*order, child.ID)
		}
		req.RequiredQty = req.RequiredQty.Add(required)

		sub, err := s.bomRepo.ListByParent(ctx, child.ID)
		if err != nil {
			return err
		}
		if len(sub) > 0 {
			req.HasChildren = true
			path[child.ID] = true
			if err := s.expandLines(ctx, sub, required, depth+1, path, reqs, order); err != nil {
				return err
			}
			delete(path, child.ID)
		}
	}
	return nil
}

// ApplyPlanRequest 完成品计划登录请求
type ApplyPlanRequest struct {
	PartID   string `json:"part_id" binding:"required"`
	DueDate  string `json:"due_date" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// AppliedDemand 计划摊算后登录的单条使用预定
type AppliedDemand struct {
	PartID   string `json:"part_id"`
	PartNo   string `json:"part_no"`
	DueDate  string `json:"due_date"`
	Quantity int    `json:"quantity"`
}

// ApplyPlan 完成品计划展开为构成品目的使用预定。
// 只对末端品目落预定（中间组件由下一层构成覆盖），预定日按提前期从完成日倒排，
// 同日同品目按替换登录，后来的计划覆盖先前的。
func (s *RequirementService) ApplyPlan(ctx context.Context, req *ApplyPlanRequest) ([]AppliedDemand, error) {
	dueDate, err := ParseDate(req.DueDate)
	if err != nil {
		return nil, apperr.Validation("日期格式错误: %s", req.DueDate)
	}

	requirements, err := s.Explode(ctx, req.PartID, req.Quantity)
	if err != nil {
		return nil, err
	}
	if len(requirements) == 0 {
		return nil, apperr.Validation("该品目未登录BOM构成")
	}

	now := time.Now()
	applied := make([]AppliedDemand, 0, len(requirements))
	var lines []entity.DemandLine
	for _, r := range requirements {
		if r.HasChildren {
			continue
		}
		qty := int(r.RequiredQty.Ceil().IntPart())
		demandDate := dueDate.AddDate(0, 0, -r.LeadTimeDays)
		lines = append(lines, entity.DemandLine{
			ID:        uuid.New().String()[:32],
			PartID:    r.PartID,
			DueDate:   demandDate,
			Quantity:  qty,
			Source:    entity.LedgerSourcePlan,
			CreatedAt: now,
			UpdatedAt: now,
		})
		applied = append(applied, AppliedDemand{
			PartID:   r.PartID,
			PartNo:   r.PartNo,
			DueDate:  demandDate.Format("2006-01-02"),
			Quantity: qty,
		})
	}

	if err := s.stockRepo.BulkUpsertDemand(ctx, lines); err != nil {
		return nil, fmt.Errorf("apply plan demand: %w", err)
	}
	for _, a := range applied {
		s.invalidateProjection(ctx, a.PartID)
	}
	return applied, nil
}

// ImportBOM 构成Excel上传，整表替换父品目的构成。
// 子品番在父品目所属厂商内解释，同一子品目多行时員数合计。
func (s *RequirementService) ImportBOM(ctx context.Context, parentPartID string, reader io.Reader) (*ImportResult, error) {
	parent, err := s.findPart(ctx, parentPartID)
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, apperr.Validation("无法解析Excel文件: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, apperr.Validation("文件为空或缺少数据行")
	}

	cols, err := resolveColumns(rows[0], map[string][]string{
		"part": {"子品番", "品番", "部品番号", "part", "part_no", "partno"},
		"qty":  {"員数", "员数", "数量", "qty", "quantity", "quantity_per"},
	})
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	merged := make(map[string]*entity.BOMLine)
	var order []string
	now := time.Now()
	for i, row := range rows[1:] {
		lineNo := i + 2
		partNo := cellAt(row, cols["part"])
		qtyStr := cellAt(row, cols["qty"])
		if partNo == "" && qtyStr == "" {
			continue
		}

		qtyPer, err := decimal.NewFromString(qtyStr)
		if err != nil || !qtyPer.IsPositive() {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 員数无效 %q", lineNo, qtyStr))
			continue
		}

		child, err := s.partRepo.FindByVendorAndPartNo(ctx, parent.VendorID, partNo)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 品番不存在 %q", lineNo, partNo))
			continue
		}
		if child.ID == parent.ID {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 构成不可引用自身 %q", lineNo, partNo))
			continue
		}

		if line, ok := merged[child.ID]; ok {
			line.QuantityPer = line.QuantityPer.Add(qtyPer)
		} else {
			merged[child.ID] = &entity.BOMLine{
				ID:           uuid.New().String()[:32],
				ParentPartID: parent.ID,
				ChildPartID:  child.ID,
				QuantityPer:  qtyPer,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			order = append(order, child.ID)
		}
		result.Success++
	}

	lines := make([]entity.BOMLine, 0, len(order))
	for _, id := range order {
		lines = append(lines, *merged[id])
	}
	if err := s.bomRepo.ReplaceForParent(ctx, parent.ID, lines); err != nil {
		return nil, fmt.Errorf("replace bom: %w", err)
	}

	return result, nil
}

func (s *RequirementService) findPart(ctx context.Context, partID string) (*entity.Part, error) {
	part, err := s.partRepo.FindByID(ctx, partID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("品目不存在: %s", partID)
		}
		return nil, err
	}
	return part, nil
}

func (s *RequirementService) invalidateProjection(ctx context.Context, partID string) {
	if s.rdb == nil {
		return
	}
	s.rdb.Del(ctx, projectionCacheKey(partID, time.Now()))
}
