package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/sftpdrop"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderService 注文服务。注文的登录（JSON/CSV/Excel/SFTP投递箱）、厂商确认、关闭。
// 确认时登录对应的入库预定行，关闭时撤回。
type OrderService struct {
	db         *gorm.DB
	orderRepo  *repository.OrderRepository
	partRepo   *repository.PartRepository
	vendorRepo *repository.VendorRepository
	stockRepo  *repository.StockRepository
	drop       *sftpdrop.Dropbox
	rdb        *redis.Client
	logger     *zap.Logger
}

// NewOrderService 创建注文服务
func NewOrderService(db *gorm.DB, repos *repository.Repositories, drop *sftpdrop.Dropbox, rdb *redis.Client, logger *zap.Logger) *OrderService {
	return &OrderService{
		db:         db,
		orderRepo:  repos.Order,
		partRepo:   repos.Part,
		vendorRepo: repos.Vendor,
		stockRepo:  repos.Stock,
		drop:       drop,
		rdb:        rdb,
		logger:     logger,
	}
}

// RegisterOrderRequest 注文登录请求
type RegisterOrderRequest struct {
	OrderNo   string `json:"order_no" binding:"required"`
	VendorID  string `json:"vendor_id" binding:"required"`
	PartNo    string `json:"part_no" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	UnitPrice string `json:"unit_price"`
	DueDate   string `json:"due_date" binding:"required"`
}

// Register 登录注文。注文号全局唯一，重复登录报冲突。
// 此时仅建行，入库预定在厂商确认后才登录。
func (s *OrderService) Register(ctx context.Context, req *RegisterOrderRequest, source, createdBy string) (*entity.PurchaseOrder, error) {
	if _, err := s.orderRepo.FindByOrderNo(ctx, req.OrderNo); err == nil {
		return nil, apperr.Conflict("注文号已存在: %s", req.OrderNo)
	} else if err != repository.ErrNotFound {
		return nil, err
	}

	part, err := s.partRepo.FindByVendorAndPartNo(ctx, req.VendorID, req.PartNo)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("品番不存在: %s", req.PartNo)
		}
		return nil, err
	}

	dueDate, err := ParseDate(req.DueDate)
	if err != nil {
		return nil, apperr.Validation("日期格式错误: %s", req.DueDate)
	}

	unitPrice := decimal.Zero
	if req.UnitPrice != "" {
		unitPrice, err = decimal.NewFromString(req.UnitPrice)
		if err != nil || unitPrice.IsNegative() {
			return nil, apperr.Validation("单价无效: %s", req.UnitPrice)
		}
	}

	now := time.Now()
	order := &entity.PurchaseOrder{
		ID:        uuid.New().String()[:32],
		OrderNo:   req.OrderNo,
		VendorID:  req.VendorID,
		PartID:    part.ID,
		Quantity:  req.Quantity,
		UnitPrice: unitPrice,
		Amount:    unitPrice.Mul(decimal.NewFromInt(int64(req.Quantity))),
		DueDate:   dueDate,
		Status:    entity.OrderStatusOpen,
		Source:    source,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("注文号已存在: %s", req.OrderNo)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	return order, nil
}

// List 注文一览。厂商用户只看自己厂的注文。
func (s *OrderService) List(ctx context.Context, userKind, orgID string, page, pageSize int, vendorID, status string) ([]entity.PurchaseOrder, int64, error) {
	if userKind == middleware.UserKindVendor {
		vendorID = orgID
	}
	return s.orderRepo.FindAll(ctx, vendorID, status, page, pageSize)
}

// Get 注文详情
func (s *OrderService) Get(ctx context.Context, id, userKind, orgID string) (*entity.PurchaseOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, apperr.NotFound("注文不存在: %s", id)
		}
		return nil, err
	}
	if userKind == middleware.UserKindVendor && order.VendorID != orgID {
		return nil, apperr.Permission("无权查看该注文")
	}
	return order, nil
}

// Acknowledge 厂商确认注文，确认时登录入库预定行。
// 行锁防止并发双重确认登录两条预定。
func (s *OrderService) Acknowledge(ctx context.Context, id, userKind, orgID string) (*entity.PurchaseOrder, error) {
	var confirmed *entity.PurchaseOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order entity.PurchaseOrder
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("注文不存在: %s", id)
			}
			return err
		}
		if userKind == middleware.UserKindVendor && order.VendorID != orgID {
			return apperr.Permission("无权确认该注文")
		}
		if order.Status != entity.OrderStatusOpen {
			return apperr.Conflict("当前状态不可确认: %s", order.Status)
		}

		now := time.Now()
		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":     entity.OrderStatusAcknowledged,
			"updated_at": now,
		}).Error; err != nil {
			return err
		}

		line := &entity.IncomingLine{
			ID:         uuid.New().String()[:32],
			PartID:     order.PartID,
			InDate:     dateOnly(order.DueDate),
			Quantity:   order.Quantity,
			SourceType: entity.LedgerSourceOrder,
			SourceRef:  order.OrderNo,
			CreatedAt:  now,
		}
		if err := tx.Create(line).Error; err != nil {
			return err
		}

		order.Status = entity.OrderStatusAcknowledged
		order.UpdatedAt = now
		confirmed = &order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProjection(ctx, confirmed.PartID)
	return confirmed, nil
}

// Close 关闭注文并撤回它登录的入库预定。交货完成和中途取消都走这里，
// 实际到货量已通过入库扫码进入基准在库。
func (s *OrderService) Close(ctx context.Context, id, userKind, orgID string) (*entity.PurchaseOrder, error) {
	var closed *entity.PurchaseOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order entity.PurchaseOrder
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("注文不存在: %s", id)
			}
			return err
		}
		if userKind == middleware.UserKindVendor && order.VendorID != orgID {
			return apperr.Permission("无权关闭该注文")
		}
		if order.Status == entity.OrderStatusClosed {
			return apperr.Conflict("注文已关闭")
		}

		now := time.Now()
		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":     entity.OrderStatusClosed,
			"updated_at": now,
		}).Error; err != nil {
			return err
		}

		if err := tx.Where("source_type = ? AND source_ref = ?", entity.LedgerSourceOrder, order.OrderNo).
			Delete(&entity.IncomingLine{}).Error; err != nil {
			return err
		}

		order.Status = entity.OrderStatusClosed
		order.UpdatedAt = now
		closed = &order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateProjection(ctx, closed.PartID)
	return closed, nil
}

// ImportCSV 注文CSV批量登录。文件为Shift-JIS编码，表头模糊匹配。
// 仕入先列缺失时用defaultVendorID解释整个文件。
func (s *OrderService) ImportCSV(ctx context.Context, reader io.Reader, defaultVendorID, source, createdBy string) (*ImportResult, error) {
	decoded := transform.NewReader(reader, japanese.ShiftJIS.NewDecoder())
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, apperr.Validation("无法解析CSV文件: %v", err)
	}
	return s.importOrderRows(ctx, records, defaultVendorID, source, createdBy)
}

// ImportXLSX 注文Excel批量登录。表头与CSV版做同样的模糊匹配。
func (s *OrderService) ImportXLSX(ctx context.Context, reader io.Reader, defaultVendorID, source, createdBy string) (*ImportResult, error) {
	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, apperr.Validation("无法解析Excel文件: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return s.importOrderRows(ctx, rows, defaultVendorID, source, createdBy)
}

func (s *OrderService) importOrderRows(ctx context.Context, records [][]string, defaultVendorID, source, createdBy string) (*ImportResult, error) {
	if len(records) < 2 {
		return nil, apperr.Validation("文件为空或缺少数据行")
	}

	cols, err := resolveColumns(records[0], map[string][]string{
		"order_no": {"注文番号", "注文No", "order_no", "orderno", "po_no"},
		"part":     {"品番", "部品番号", "part", "part_no", "partno"},
		"qty":      {"数量", "注文数", "qty", "quantity"},
		"price":    {"単価", "单价", "unit_price", "price"},
		"date":     {"納期", "纳期", "due", "due_date", "delivery"},
	})
	if err != nil {
		return nil, err
	}

	vendorIdx := resolveOptionalColumn(records[0], []string{"仕入先", "仕入先コード", "取引先", "vendor", "supplier"})
	if vendorIdx < 0 && defaultVendorID == "" {
		return nil, apperr.Validation("无法识别必需列: vendor（候选 仕入先/仕入先コード/取引先/vendor/supplier）")
	}

	vendorCache := make(map[string]string)
	result := &ImportResult{}
	for i, row := range records[1:] {
		lineNo := i + 2
		orderNo := cellAt(row, cols["order_no"])
		if orderNo == "" {
			continue
		}

		vendorID := defaultVendorID
		if vendorIdx >= 0 {
			code := cellAt(row, vendorIdx)
			if code != "" {
				id, err := s.resolveVendorCode(ctx, code, vendorCache)
				if err != nil {
					result.Failed++
					result.Errors = append(result.Errors, fmt.Sprintf("第%d行: %v", lineNo, err))
					continue
				}
				vendorID = id
			}
		}
		if vendorID == "" {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 仕入先为空", lineNo))
			continue
		}

		qty, err := strconv.Atoi(cellAt(row, cols["qty"]))
		if err != nil || qty <= 0 {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: 数量无效 %q", lineNo, cellAt(row, cols["qty"])))
			continue
		}

		req := &RegisterOrderRequest{
			OrderNo:   orderNo,
			VendorID:  vendorID,
			PartNo:    cellAt(row, cols["part"]),
			Quantity:  qty,
			UnitPrice: cellAt(row, cols["price"]),
			DueDate:   cellAt(row, cols["date"]),
		}
		if _, err := s.Register(ctx, req, source, createdBy); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("第%d行: %v", lineNo, err))
			continue
		}
		result.Success++
	}

	return result, nil
}

// MailboxResult SFTP投递箱拉取结果
type MailboxResult struct {
	Files   []sftpdrop.PullResult `json:"files"`
	Success int                   `json:"success"`
	Failed  int                   `json:"failed"`
	Errors  []string              `json:"errors,omitempty"`
}

// PullMailbox 拉取SFTP投递箱内的注文CSV并登录。
// 单次请求内建连、处理、归档，不做常驻轮询。
func (s *OrderService) PullMailbox(ctx context.Context, createdBy string) (*MailboxResult, error) {
	if s.drop == nil {
		return nil, apperr.Validation("SFTP投递箱未配置")
	}

	summary := &MailboxResult{}
	files, err := s.drop.Pull(ctx, func(name string, r io.Reader) error {
		res, err := s.ImportCSV(ctx, r, "", entity.OrderSourceSFTP, createdBy)
		if err != nil {
			return err
		}
		summary.Success += res.Success
		summary.Failed += res.Failed
		for _, e := range res.Errors {
			summary.Errors = append(summary.Errors, name+" "+e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	summary.Files = files
	return summary, nil
}

func (s *OrderService) resolveVendorCode(ctx context.Context, code string, cache map[string]string) (string, error) {
	if id, ok := cache[code]; ok {
		return id, nil
	}
	vendor, err := s.vendorRepo.FindByCode(ctx, code)
	if err != nil {
		if err == repository.ErrNotFound {
			return "", fmt.Errorf("仕入先编码不存在 %q", code)
		}
		return "", err
	}
	cache[code] = vendor.ID
	return vendor.ID, nil
}

func (s *OrderService) invalidateProjection(ctx context.Context, partID string) {
	if s.rdb == nil {
		return
	}
	s.rdb.Del(ctx, projectionCacheKey(partID, time.Now()))
}

// resolveOptionalColumn 可选列定位，找不到返回-1
func resolveOptionalColumn(header []string, candidates []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		for _, cand := range candidates {
			cand = strings.ToLower(cand)
			if h == cand || strings.Contains(h, cand) {
				return i
			}
		}
	}
	return -1
}
