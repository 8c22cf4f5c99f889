package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"
)

// StockService 在库台账服务。基准在库、使用预定、入库预定的登录入口，
// 所有写操作都会让该品目的投影缓存失效。
type StockService struct {
	stockRepo  *repository.StockRepository
	partRepo   *repository.PartRepository
	vendorRepo *repository.VendorRepository
	rdb        *redis.Client
}

// NewStockService 创建在库台账服务
func NewStockService(stockRepo *repository.StockRepository, partRepo *repository.PartRepository, vendorRepo *repository.VendorRepository, rdb *redis.Client) *StockService {
	return &StockService{
		stockRepo:  stockRepo,
		partRepo:   partRepo,
		vendorRepo: vendorRepo,
		rdb:        rdb,
	}
}

// GetBase 取基准在库，未登录过返回nil
func (s *StockService) GetBase(ctx context.Context, partID string) (*entity.BaseStock, error) {
	if _, err := s.findPart(ctx, partID); err != nil {
		return nil, err
	}
	base, err := s.stockRepo.GetBase(ctx, partID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return base, nil
}

// SetBaseRequest 基准在库登录请求
type SetBaseRequest struct {
	Quantity int     `json:"quantity"`
	AsOfDate *string `json:"as_of_date"` // YYYY-MM-DD，可空
}

// SetBase 整行替换基准在库
func (s *StockService) SetBase(ctx context.Context, partID string, req *SetBaseRequest, source, updatedBy string) (*entity.BaseStock, error) {
	if _, err := s.findPart(ctx, partID); err != nil {
		return nil, err
	}
	if req.Quantity < 0 {
		return nil, apperr.Validation("基准在库不可为负: %d", req.Quantity)
	}

	var asOf *time.Time
	if req.AsOfDate != nil && *req.AsOfDate != "" {
		d, err := ParseDate(*req.AsOfDate)
		if err != nil {
			return nil, apperr.Validation("日期格式错误: %s", *req.AsOfDate)
		}
		asOf = &d
	}

	now := time.Now()
	base := &entity.BaseStock{
		ID:        uuid.New().String()[:32],
		PartID:    partID,
		Quantity:  req.Quantity,
		AsOfDate:  asOf,
		Source:    source,
		UpdatedBy: updatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.stockRepo.SetBase(ctx, base); err != nil {
		return nil, fmt.Errorf("set base stock: %w", err)
	}

	s.invalidateProjection(ctx, partID)

	stored, err := s.stockRepo.GetBase(ctx, partID)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// AdjustBase 基准在库原子增量，入库扫码确认后调用
func (s *StockService) AdjustBase(ctx context.Context, partID string, delta int, updatedBy string) error {
	if delta == 0 {
		return nil
	}
	if _, err := s.findPart(ctx, partID); err != nil {
		return err
	}
	if err := s.stockRepo.AdjustBaseQuantity(ctx, partID, delta, updatedBy); err != nil {
		return fmt.Errorf("adjust base stock: %w", err)
	}
	s.invalidateProjection(ctx, partID)
	return nil
}

// UpsertDemandRequest 使用预定登录请求
type UpsertDemandRequest struct {
	DueDate  string `json:"due_date" binding:"required"`
	Quantity int    `json:"quantity"`
}

// UpsertDemand 使用预定替换登录。数量为0以下时删除该日的行，
// 表示"该日无使用预定"，不是负消耗。
func (s *StockService) UpsertDemand(ctx context.Context, partID string, req *UpsertDemandRequest, source string) error {
	if _, err := s.findPart(ctx, partID); err != nil {
		return err
	}

	dueDate, err := ParseDate(req.DueDate)
	if err != nil {
		return apperr.Validation("日期格式错误: %s", req.DueDate)
	}

	if req.Quantity <= 0 {
		if err := s.stockRepo.DeleteDemand(ctx, partID, dueDate); err != nil {
			return fmt.Errorf("delete demand: %w", err)
		}
		s.invalidateProjection(ctx, partID)
		return nil
	}

	now := time.Now()
	line := &entity.DemandLine{
		ID:        uuid.New().String()[:32],
		PartID:    partID,
		DueDate:   dueDate,
		Quantity:  req.Quantity,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.stockRepo.UpsertDemand(ctx, line); err != nil {
		return fmt.Errorf("upsert demand: %w", err)
	}
	s.invalidateProjection(ctx, partID)
	return nil
}

// AddIncomingRequest 入库预定登录请求
type AddIncomingRequest struct {
	InDate   string `json:"in_date" binding:"required"`
	Quantity int    `json:"quantity"`
}

// AddIncoming 追加入库预定。同日多次登录按合计取数（与使用预定不同，不做替换）。
func (s *StockService) AddIncoming(ctx context.Context, partID string, req *AddIncomingRequest, sourceType, sourceRef string) error {
	if _, err := s.findPart(ctx, partID); err != nil {
		return err
	}
	if req.Quantity < 0 {
		return apperr.Validation("入库预定数量不可为负: %d", req.Quantity)
	}

	inDate, err := ParseDate(req.InDate)
	if err != nil {
		return apperr.Validation("日期格式错误: %s", req.InDate)
	}

	line := &entity.IncomingLine{
		ID:         uuid.New().String()[:32],
		PartID:     partID,
		InDate:     inDate,
		Quantity:   req.Quantity,
		SourceType: sourceType,
		SourceRef:  sourceRef,
		CreatedAt:  time.Now(),
	}
	if err := s.stockRepo.AddIncoming(ctx, line); err != nil {
		return fmt.Errorf("add incoming: %w", err)
	}
	s.invalidateProjection(ctx, partID)
	return nil
}

// LedgerView 台账明细视图
type LedgerView struct {
	Base     *entity.BaseStock     `json:"base"`
	Demand   []entity.DemandLine   `json:"demand"`
	Incoming []entity.IncomingLine `json:"incoming"`
}

// GetLedger 取区间内的台账明细
func (s *StockService) GetLedger(ctx context.Context, partID string, from, to time.Time) (*LedgerView, error) {
	if _, err := s.findPart(ctx, partID); err != nil {
		return nil, err
	}

	base, err := s.stockRepo.GetBase(ctx, partID)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	demand, err := s.stockRepo.ListDemand(ctx, partID, from, to)
	if err != nil {
		return nil, err
	}
	incoming, err := s.stockRepo.ListIncoming(ctx, partID, from, to)
	if err != nil {
		return nil, err
	}

	return &LedgerView{Base: base, Demand: demand, Incoming: incoming}, nil
}

// ImportResult 批量导入结果
type ImportResult struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// ImportStockBook 在库表Excel上传。第一行为表头，列名模糊匹配（中/日/英），
// 仓库列按厂商编码解释，每行整行替换该品目的基准在库。
func (s *StockService) ImportStockBook(ctx context.Context, reader io.Reader, asOfDate string, updatedBy string) (*ImportResult, error) {
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
		"warehouse": {"倉庫", "倉庫コード", "仓库", "仓库编码", "warehouse", "wh"},
		"part":      {"品番", "部品番号", "品目", "part", "part_no", "partno"},
		"qty":       {"数量", "在庫数", "在库数", "qty", "quantity"},
	})
	if err != nil {
		return nil, err
	}

	var asOf *time.Time
	if asOfDate != "" {
		d, err := ParseDate(asOfDate)
		if err != nil {
			return nil, apperr.Validation("日期格式错误: %s", asOfDate)
		}
		asOf = &d
	}

	result := &ImportResult{}
	now := time.Now()
	for i, row := range rows[1:] {
		lineNo := i + 2
		warehouse := cellAt(row, cols["warehouse"])
		partNo := cellAt(row, cols["part"])
		qtyStr := cellAt(row, cols["qty"])
		if warehouse == "" && partNo == "" && qtyStr == "" {
			continue
		}

		qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
		if err != nil || qty < 0 {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 数量无效 %q", lineNo, qtyStr))
			continue
		}

		part, err := s.resolvePartByWarehouse(ctx, warehouse, partNo)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: %v", lineNo, err))
			continue
		}

		base := &entity.BaseStock{
			ID:        uuid.New().String()[:32],
			PartID:    part.ID,
			Quantity:  qty,
			AsOfDate:  asOf,
			Source:    entity.LedgerSourceUpload,
			UpdatedBy: updatedBy,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.stockRepo.SetBase(ctx, base); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 写入失败", lineNo))
			continue
		}
		s.invalidateProjection(ctx, part.ID)
		result.Success++
	}

	return result, nil
}

// ImportDemandPlan 使用预定Excel上传，行按(品番, 納期)替换登录。
// vendorID限定品番的解释范围，厂商用户只能上传自己厂的计划。
func (s *StockService) ImportDemandPlan(ctx context.Context, vendorID string, reader io.Reader) (*ImportResult, error) {
	if vendorID == "" {
		return nil, apperr.Validation("缺少厂商")
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
		"part": {"品番", "部品番号", "品目", "part", "part_no", "partno"},
		"date": {"納期", "纳期", "使用日", "due", "due_date", "date"},
		"qty":  {"数量", "使用数", "qty", "quantity"},
	})
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	var lines []entity.DemandLine
	touched := make(map[string]struct{})
	now := time.Now()
	for i, row := range rows[1:] {
		lineNo := i + 2
		partNo := cellAt(row, cols["part"])
		dateStr := cellAt(row, cols["date"])
		qtyStr := cellAt(row, cols["qty"])
		if partNo == "" && dateStr == "" && qtyStr == "" {
			continue
		}

		part, err := s.partRepo.FindByVendorAndPartNo(ctx, vendorID, partNo)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 品番不存在 %q", lineNo, partNo))
			continue
		}

		dueDate, err := ParseDate(dateStr)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 日期无效 %q", lineNo, dateStr))
			continue
		}

		qty, err := strconv.Atoi(strings.TrimSpace(qtyStr))
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 数量无效 %q", lineNo, qtyStr))
			continue
		}

		lines = append(lines, entity.DemandLine{
			ID:        uuid.New().String()[:32],
			PartID:    part.ID,
			DueDate:   dueDate,
			Quantity:  qty,
			Source:    entity.LedgerSourcePlan,
			CreatedAt: now,
			UpdatedAt: now,
		})
		touched[part.ID] = struct{}{}
		result.Success++
	}

	if len(lines) > 0 {
		if err := s.stockRepo.BulkUpsertDemand(ctx, lines); err != nil {
			return nil, fmt.Errorf("bulk upsert demand: %w", err)
		}
	}
	for partID := range touched {
		s.invalidateProjection(ctx, partID)
	}

	return result, nil
}

func (s *StockService) findPart(ctx context.Context, partID string) (*entity.Part, error) {
	part, err := s.partRepo.FindByID(ctx, partID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("品目不存在: %s", partID)
		}
		return nil, err
	}
	return part, nil
}

// resolvePartByWarehouse 仓库列按厂商编码解释，再在厂内按品番定位
func (s *StockService) resolvePartByWarehouse(ctx context.Context, warehouseCode, partNo string) (*entity.Part, error) {
	vendor, err := s.vendorRepo.FindByCode(ctx, warehouseCode)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, fmt.Errorf("仓库编码无法对应厂商 %q", warehouseCode)
		}
		return nil, err
	}

	part, err := s.partRepo.FindByVendorAndPartNo(ctx, vendor.ID, partNo)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, fmt.Errorf("品番不存在 %q", partNo)
		}
		return nil, err
	}
	return part, nil
}

// invalidateProjection 台账变更后废弃该品目当日的投影缓存
func (s *StockService) invalidateProjection(ctx context.Context, partID string) {
	if s.rdb == nil {
		return
	}
	s.rdb.Del(ctx, projectionCacheKey(partID, time.Now()))
}

// === 包内共用辅助 ===

var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006/1/2", "20060102"}

// ParseDate 解析日期并归一化到UTC零点
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return dateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", value)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// resolveColumns 表头模糊匹配。全部必需列都要能定位，缺失时报出具体列名。
func resolveColumns(header []string, wanted map[string][]string) (map[string]int, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}

	cols := make(map[string]int, len(wanted))
	for key, candidates := range wanted {
		idx := -1
		for i, h := range normalized {
			if h == "" {
				continue
			}
			for _, cand := range candidates {
				cand = strings.ToLower(cand)
				if h == cand || strings.Contains(h, cand) {
					idx = i
					break
				}
			}
			if idx >= 0 {
				break
			}
		}
		if idx < 0 {
			return nil, apperr.Validation("无法识别必需列: %s（候选 %s）", key, strings.Join(wanted[key], "/"))
		}
		cols[key] = idx
	}
	return cols, nil
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func projectionCacheKey(partID string, day time.Time) string {
	return "proj:" + partID + ":" + day.Format("20060102")
}
