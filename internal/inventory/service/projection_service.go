package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	// DefaultHorizonDays 内部用户默认展望天数
	DefaultHorizonDays = 31
	// VendorHorizonDays 厂商用户固定展望天数
	VendorHorizonDays = 14

	projectionCacheTTL = 5 * time.Minute
)

// ProjectionService 在库投影服务。按日推演基准在库、使用预定、入库预定，
// 标出预计缺料日。台账任何写入都会使缓存失效，读取时重算。
type ProjectionService struct {
	stockRepo *repository.StockRepository
	partRepo  *repository.PartRepository
	rdb       *redis.Client
	logger    *zap.Logger
}

// NewProjectionService 创建在库投影服务
func NewProjectionService(stockRepo *repository.StockRepository, partRepo *repository.PartRepository, rdb *redis.Client, logger *zap.Logger) *ProjectionService {
	return &ProjectionService{
		stockRepo: stockRepo,
		partRepo:  partRepo,
		rdb:       rdb,
		logger:    logger,
	}
}

// ProjectedDay 单日投影行
type ProjectedDay struct {
	Date         string `json:"date"`
	DemandQty    int    `json:"demand_qty"`
	IncomingQty  int    `json:"incoming_qty"`
	RunningStock int    `json:"running_stock"`
	IsShortfall  bool   `json:"is_shortfall"`
}

// ProjectionResult 品目在库投影
type ProjectionResult struct {
	PartID         string         `json:"part_id"`
	PartNo         string         `json:"part_no"`
	PartName       string         `json:"part_name"`
	VendorID       string         `json:"vendor_id"`
	VendorName     string         `json:"vendor_name"`
	BaseQuantity   int            `json:"base_quantity"`
	AsOfDate       *string        `json:"as_of_date"`
	HorizonStart   string         `json:"horizon_start"`
	HorizonEnd     string         `json:"horizon_end"`
	Days           []ProjectedDay `json:"days"`
	ShortfallDays  int            `json:"shortfall_days"`
	FirstShortfall *string        `json:"first_shortfall"`
}

// Project 计算品目的按日在库投影。
// 基准在库的as_of日（含当日）之前的预定视为已被基准数吸收，不再计入；
// as_of日与展望期首之间的预定合并为一步追平，期内逐日累计。
func (s *ProjectionService) Project(ctx context.Context, partID, userKind, orgID string, fromStr, toStr string) (*ProjectionResult, error) {
	part, err := s.partRepo.FindByID(ctx, partID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("品目不存在: %s", partID)
		}
		return nil, err
	}
	if userKind == middleware.UserKindVendor && part.VendorID != orgID {
		return nil, apperr.Permission("无权查看该品目的在库投影")
	}

	start, end, cacheable, err := s.resolveHorizon(ctx, partID, userKind, fromStr, toStr)
	if err != nil {
		return nil, err
	}

	if cacheable {
		if cached := s.loadCache(ctx, partID, start, end); cached != nil {
			return cached, nil
		}
	}

	result, err := s.compute(ctx, part, start, end)
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.storeCache(ctx, partID, result, start)
	}
	return result, nil
}

// resolveHorizon 展望期解决。厂商用户固定今日起14天，指定值忽略；
// 内部用户可指定期首期末，缺省期首今日、期末取今日+31天与最远使用预定日中较远者。
func (s *ProjectionService) resolveHorizon(ctx context.Context, partID, userKind, fromStr, toStr string) (time.Time, time.Time, bool, error) {
	today := dateOnly(time.Now())
	if userKind == middleware.UserKindVendor {
		return today, today.AddDate(0, 0, VendorHorizonDays), false, nil
	}

	start := today
	if fromStr != "" {
		var err error
		if start, err = ParseDate(fromStr); err != nil {
			return time.Time{}, time.Time{}, false, apperr.Validation("日期格式错误: %s", fromStr)
		}
	}

	if toStr != "" {
		end, err := ParseDate(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, false, apperr.Validation("日期格式错误: %s", toStr)
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, false, apperr.Validation("展望期末不可早于期首")
		}
		return start, end, false, nil
	}

	end := today.AddDate(0, 0, DefaultHorizonDays)
	furthest, err := s.stockRepo.FurthestDemandDate(ctx, partID)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if furthest != nil && furthest.After(end) {
		end = dateOnly(*furthest)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false, apperr.Validation("展望期末不可早于期首")
	}
	return start, end, fromStr == "", nil
}

func (s *ProjectionService) compute(ctx context.Context, part *entity.Part, start, end time.Time) (*ProjectionResult, error) {
	baseQty := 0
	refDate := time.Time{} // 无基准日时视为远古，期前预定全部计入追平
	var asOfStr *string

	base, err := s.stockRepo.GetBase(ctx, part.ID)
	if err != nil && err != repository.ErrNotFound {
		return nil, err
	}
	if base != nil {
		baseQty = base.Quantity
		if base.AsOfDate != nil {
			refDate = dateOnly(*base.AsOfDate)
			v := refDate.Format("2006-01-02")
			asOfStr = &v
		}
	}

	// 追平区间 (refDate, start-1]，两端自然为空时合计为0
	catchupEnd := start.AddDate(0, 0, -1)
	demandCatchup, err := s.stockRepo.DemandBetween(ctx, part.ID, refDate, catchupEnd)
	if err != nil {
		return nil, err
	}
	incomingCatchup, err := s.stockRepo.IncomingBetween(ctx, part.ID, refDate, catchupEnd)
	if err != nil {
		return nil, err
	}
	running := baseQty - demandCatchup + incomingCatchup

	demandByDay, err := s.stockRepo.DemandByDay(ctx, part.ID, start, end)
	if err != nil {
		return nil, err
	}
	incomingByDay, err := s.stockRepo.IncomingByDay(ctx, part.ID, start, end)
	if err != nil {
		return nil, err
	}

	result := &ProjectionResult{
		PartID:       part.ID,
		PartNo:       part.PartNo,
		PartName:     part.Name,
		VendorID:     part.VendorID,
		BaseQuantity: baseQty,
		AsOfDate:     asOfStr,
		HorizonStart: start.Format("2006-01-02"),
		HorizonEnd:   end.Format("2006-01-02"),
		Days:         make([]ProjectedDay, 0, int(end.Sub(start).Hours()/24)+1),
	}
	if part.Vendor != nil {
		result.VendorName = part.Vendor.Name
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		demand, incoming := 0, 0
		// 基准日当天及之前的预定已被基准数吸收
		if d.After(refDate) {
			demand = demandByDay[key]
			incoming = incomingByDay[key]
		}
		running += incoming - demand

		day := ProjectedDay{
			Date:         key,
			DemandQty:    demand,
			IncomingQty:  incoming,
			RunningStock: running,
			IsShortfall:  running < 0,
		}
		if day.IsShortfall {
			result.ShortfallDays++
			if result.FirstShortfall == nil {
				v := key
				result.FirstShortfall = &v
			}
		}
		result.Days = append(result.Days, day)
	}

	return result, nil
}

// ShortageSummary 缺料一览行
type ShortageSummary struct {
	PartID         string `json:"part_id"`
	PartNo         string `json:"part_no"`
	PartName       string `json:"part_name"`
	VendorID       string `json:"vendor_id"`
	VendorName     string `json:"vendor_name"`
	FirstShortfall string `json:"first_shortfall"`
	WorstShortfall int    `json:"worst_shortfall"`
	ShortfallDays  int    `json:"shortfall_days"`
}

// ListShortages 扫描品目并汇总展望期内存在缺料日的品目。
// 厂商用户只扫描自己厂的品目，使用固定14天展望期。
func (s *ProjectionService) ListShortages(ctx context.Context, userKind, orgID, vendorID string) ([]ShortageSummary, error) {
	if userKind == middleware.UserKindVendor {
		vendorID = orgID
	}

	summaries := make([]ShortageSummary, 0)
	page := 1
	const pageSize = 200
	for {
		parts, _, err := s.partRepo.FindAll(ctx, vendorID, "", page, pageSize)
		if err != nil {
			return nil, err
		}
		for i := range parts {
			part := &parts[i]
			proj, err := s.Project(ctx, part.ID, userKind, orgID, "", "")
			if err != nil {
				s.logger.Warn("投影计算失败，跳过该品目",
					zap.String("part_id", part.ID),
					zap.Error(err))
				continue
			}
			if proj.ShortfallDays == 0 {
				continue
			}
			worst := 0
			for _, day := range proj.Days {
				if day.RunningStock < worst {
					worst = day.RunningStock
				}
			}
			summary := ShortageSummary{
				PartID:         part.ID,
				PartNo:         part.PartNo,
				PartName:       part.Name,
				VendorID:       part.VendorID,
				VendorName:     proj.VendorName,
				WorstShortfall: worst,
				ShortfallDays:  proj.ShortfallDays,
			}
			if proj.FirstShortfall != nil {
				summary.FirstShortfall = *proj.FirstShortfall
			}
			summaries = append(summaries, summary)
		}
		if len(parts) < pageSize {
			break
		}
		page++
	}

	return summaries, nil
}

// BuildExcel 投影结果导出Excel。纯表格，缺料日在末列标记。
func (s *ProjectionService) BuildExcel(result *ProjectionResult) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := []string{"日付", "使用予定", "入庫予定", "見込在庫", "不足"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}
	f.SetCellStyle(sheet, "A1", "E1", headerStyle)

	for i, day := range result.Days {
		rowNum := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", rowNum), day.Date)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", rowNum), day.DemandQty)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", rowNum), day.IncomingQty)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", rowNum), day.RunningStock)
		if day.IsShortfall {
			f.SetCellValue(sheet, fmt.Sprintf("E%d", rowNum), "不足")
		}
	}

	return f, nil
}

func (s *ProjectionService) loadCache(ctx context.Context, partID string, start, end time.Time) *ProjectionResult {
	if s.rdb == nil {
		return nil
	}
	data, err := s.rdb.Get(ctx, projectionCacheKey(partID, start)).Bytes()
	if err != nil {
		return nil
	}
	var cached ProjectionResult
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil
	}
	// 最远预定日推移会改变缺省期末，期末不一致的缓存报废
	if cached.HorizonEnd != end.Format("2006-01-02") {
		return nil
	}
	return &cached
}

func (s *ProjectionService) storeCache(ctx context.Context, partID string, result *ProjectionResult, start time.Time) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, projectionCacheKey(partID, start), data, projectionCacheTTL)
}
