package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	invrepo "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/apperr"
)

// 标签号前缀。工程标签PT，材料标签RM。
const (
	tagPrefixProcess  = "PT"
	tagPrefixMaterial = "RM"
)

// 发号重试上限。进程内有前缀互斥，重试只为多实例部署时的唯一索引冲突兜底。
const issueRetries = 3

// TagService 标签生命周期服务。发行、扫码、作废、废弃都在这里，
// 扫码的状态变更、在库增量、履历追加必须同一事务提交。
type TagService struct {
	db       *gorm.DB
	tagRepo  *repository.TagRepository
	partRepo *invrepo.PartRepository
	rdb      *redis.Client
	logger   *zap.Logger

	mu          sync.Mutex
	prefixLocks map[string]*sync.Mutex
}

func NewTagService(db *gorm.DB, tagRepo *repository.TagRepository, partRepo *invrepo.PartRepository, rdb *redis.Client, logger *zap.Logger) *TagService {
	return &TagService{
		db:          db,
		tagRepo:     tagRepo,
		partRepo:    partRepo,
		rdb:         rdb,
		logger:      logger,
		prefixLocks: make(map[string]*sync.Mutex),
	}
}

// IssueTagRequest 工程标签发行请求
type IssueTagRequest struct {
	PartID   string `json:"part_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
	Lot      string `json:"lot"`
}

// IssueLabelRequest 材料标签发行请求
type IssueLabelRequest struct {
	PartID     string `json:"part_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,gt=0"`
	Lot        string `json:"lot"`
	ExpiryDate string `json:"expiry_date"`
}

// ScanResult 扫码结果。重复扫码也是正常结果而不是错误，
// 由accepted与message告知现场是否计入在库。
type ScanResult struct {
	Accepted  bool   `json:"accepted"`
	IsFirst   bool   `json:"is_first"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message"`
	TagNo     string `json:"tag_no"`
	Status    string `json:"status"`
	ScanCount int    `json:"scan_count"`
	PartID    string `json:"part_id"`
	Quantity  int    `json:"quantity"`
}

// TagDetail 标签详情与扫码履历
type TagDetail struct {
	Tag  *entity.ProcessTag   `json:"tag"`
	Logs []*entity.TagScanLog `json:"logs"`
}

// LabelDetail 材料标签详情与扫码履历
type LabelDetail struct {
	Label *entity.RawMaterialLabel `json:"label"`
	Logs  []*entity.TagScanLog     `json:"logs"`
}

// prefixLock 返回当日前缀对应的互斥锁，发号期间持有
func (s *TagService) prefixLock(dayPrefix string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.prefixLocks[dayPrefix]
	if !ok {
		lock = &sync.Mutex{}
		s.prefixLocks[dayPrefix] = lock
	}
	return lock
}

// IssueTag 发行工程标签。号码形如PT-20240101-0001，按日连号。
func (s *TagService) IssueTag(ctx context.Context, req *IssueTagRequest, issuedBy string) (*entity.ProcessTag, error) {
	if _, err := s.partRepo.FindByID(ctx, req.PartID); err != nil {
		if errors.Is(err, invrepo.ErrNotFound) {
			return nil, apperr.NotFound("品目不存在")
		}
		return nil, err
	}

	day := time.Now().Format("20060102")
	lock := s.prefixLock(tagPrefixProcess + "-" + day)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for i := 0; i < issueRetries; i++ {
		tagNo, err := s.tagRepo.NextTagNo(ctx, &entity.ProcessTag{}, tagPrefixProcess, day)
		if err != nil {
			return nil, err
		}

		tag := &entity.ProcessTag{
			ID:        uuid.New().String()[:32],
			TagNo:     tagNo,
			PartID:    req.PartID,
			Quantity:  req.Quantity,
			Lot:       req.Lot,
			Status:    entity.TagStatusPrinted,
			PrintedBy: issuedBy,
		}
		err = s.tagRepo.CreateTag(ctx, tag)
		if err == nil {
			return s.tagRepo.FindTagByID(ctx, tag.ID)
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// IssueLabel 发行材料标签。号码形如RM-20240101-0001，可带有效期限。
func (s *TagService) IssueLabel(ctx context.Context, req *IssueLabelRequest, issuedBy string) (*entity.RawMaterialLabel, error) {
	if _, err := s.partRepo.FindByID(ctx, req.PartID); err != nil {
		if errors.Is(err, invrepo.ErrNotFound) {
			return nil, apperr.NotFound("品目不存在")
		}
		return nil, err
	}

	var expiry *time.Time
	if req.ExpiryDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return nil, apperr.Validation("有效期限格式错误，应为YYYY-MM-DD")
		}
		expiry = &parsed
	}

	day := time.Now().Format("20060102")
	lock := s.prefixLock(tagPrefixMaterial + "-" + day)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for i := 0; i < issueRetries; i++ {
		tagNo, err := s.tagRepo.NextTagNo(ctx, &entity.RawMaterialLabel{}, tagPrefixMaterial, day)
		if err != nil {
			return nil, err
		}

		label := &entity.RawMaterialLabel{
			ID:         uuid.New().String()[:32],
			TagNo:      tagNo,
			PartID:     req.PartID,
			Quantity:   req.Quantity,
			Lot:        req.Lot,
			ExpiryDate: expiry,
			Status:     entity.LabelStatusPrinted,
			PrintedBy:  issuedBy,
		}
		err = s.tagRepo.CreateLabel(ctx, label)
		if err == nil {
			return s.tagRepo.FindLabelByNo(ctx, label.TagNo)
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// ScanTag 工程标签扫码。printed状态接受并入库，其余状态只记履历，
// 标签行加行锁串行化同号并发扫码，先到者得。
func (s *TagService) ScanTag(ctx context.Context, tagNo, actor, place string) (*ScanResult, error) {
	var result *ScanResult
	var stockedPartID string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tag entity.ProcessTag
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&tag, "tag_no = ?", tagNo).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("标签不存在: %s", tagNo)
			}
			return err
		}

		now := time.Now()
		attempt := tag.ScanCount + 1

		if tag.Status == entity.TagStatusPrinted {
			err = tx.Model(&tag).Updates(map[string]interface{}{
				"status":           entity.TagStatusUsed,
				"scan_count":       attempt,
				"first_used_at":    now,
				"first_used_by":    actor,
				"first_used_place": place,
			}).Error
			if err != nil {
				return err
			}
			if err = invrepo.AdjustBaseQuantityTx(tx, tag.PartID, tag.Quantity, actor); err != nil {
				return err
			}

			msg := fmt.Sprintf("入库成功，数量%d", tag.Quantity)
			if err = appendScanLog(tx, entity.TagTypeProcess, tag.ID, tagNo, actor, place, true, entity.OutcomeAccepted, msg, now); err != nil {
				return err
			}
			stockedPartID = tag.PartID
			result = &ScanResult{
				Accepted: true, IsFirst: true,
				Outcome: entity.OutcomeAccepted, Message: msg,
				TagNo: tagNo, Status: entity.TagStatusUsed, ScanCount: attempt,
				PartID: tag.PartID, Quantity: tag.Quantity,
			}
			return nil
		}

		// 重复扫码：只累计次数，状态与在库都不动
		if err = tx.Model(&tag).Update("scan_count", attempt).Error; err != nil {
			return err
		}
		msg := duplicateMessage(tag.Status, tag.FirstUsedAt, tag.FirstUsedBy, tag.FirstUsedPlace, attempt)
		if err = appendScanLog(tx, entity.TagTypeProcess, tag.ID, tagNo, actor, place, false, entity.OutcomeDuplicate, msg, now); err != nil {
			return err
		}
		result = &ScanResult{
			Accepted: false, IsFirst: false,
			Outcome: entity.OutcomeDuplicate, Message: msg,
			TagNo: tagNo, Status: tag.Status, ScanCount: attempt,
			PartID: tag.PartID, Quantity: tag.Quantity,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stockedPartID != "" {
		s.invalidateProjection(ctx, stockedPartID)
	}
	return result, nil
}

// ScanLabel 材料标签扫码。printed→instock为入库计入在库，
// instock→used为出库投入，过期标签转expired拒绝使用。
// 出库不写使用预定台账，使用预定由计划侧登录。
func (s *TagService) ScanLabel(ctx context.Context, tagNo, actor, place string) (*ScanResult, error) {
	var result *ScanResult
	var stockedPartID string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var label entity.RawMaterialLabel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&label, "tag_no = ?", tagNo).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("标签不存在: %s", tagNo)
			}
			return err
		}

		now := time.Now()
		today := dateOnly(now)
		attempt := label.ScanCount + 1
		expired := label.ExpiryDate != nil && label.ExpiryDate.Before(today)

		switch {
		case expired && (label.Status == entity.LabelStatusPrinted || label.Status == entity.LabelStatusInstock):
			// 过期：转expired，在库不动，已入库部分等废弃处理时扣回
			err = tx.Model(&label).Updates(map[string]interface{}{
				"status":     entity.LabelStatusExpired,
				"scan_count": attempt,
			}).Error
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("材料已过期（有效期限%s），禁止使用", label.ExpiryDate.Format("2006-01-02"))
			if err = appendScanLog(tx, entity.TagTypeMaterial, label.ID, tagNo, actor, place, false, entity.OutcomeExpired, msg, now); err != nil {
				return err
			}
			result = &ScanResult{
				Accepted: false, IsFirst: false,
				Outcome: entity.OutcomeExpired, Message: msg,
				TagNo: tagNo, Status: entity.LabelStatusExpired, ScanCount: attempt,
				PartID: label.PartID, Quantity: label.Quantity,
			}
			return nil

		case label.Status == entity.LabelStatusPrinted:
			// 入库
			err = tx.Model(&label).Updates(map[string]interface{}{
				"status":           entity.LabelStatusInstock,
				"scan_count":       attempt,
				"first_used_at":    now,
				"first_used_by":    actor,
				"first_used_place": place,
			}).Error
			if err != nil {
				return err
			}
			if err = invrepo.AdjustBaseQuantityTx(tx, label.PartID, label.Quantity, actor); err != nil {
				return err
			}
			msg := fmt.Sprintf("入库成功，数量%d", label.Quantity)
			if err = appendScanLog(tx, entity.TagTypeMaterial, label.ID, tagNo, actor, place, true, entity.OutcomeReceived, msg, now); err != nil {
				return err
			}
			stockedPartID = label.PartID
			result = &ScanResult{
				Accepted: true, IsFirst: true,
				Outcome: entity.OutcomeReceived, Message: msg,
				TagNo: tagNo, Status: entity.LabelStatusInstock, ScanCount: attempt,
				PartID: label.PartID, Quantity: label.Quantity,
			}
			return nil

		case label.Status == entity.LabelStatusInstock:
			// 出库投入
			err = tx.Model(&label).Updates(map[string]interface{}{
				"status":         entity.LabelStatusUsed,
				"scan_count":     attempt,
				"consumed_at":    now,
				"consumed_by":    actor,
				"consumed_place": place,
			}).Error
			if err != nil {
				return err
			}
			msg := "出库成功"
			if err = appendScanLog(tx, entity.TagTypeMaterial, label.ID, tagNo, actor, place, false, entity.OutcomeConsumed, msg, now); err != nil {
				return err
			}
			result = &ScanResult{
				Accepted: true, IsFirst: false,
				Outcome: entity.OutcomeConsumed, Message: msg,
				TagNo: tagNo, Status: entity.LabelStatusUsed, ScanCount: attempt,
				PartID: label.PartID, Quantity: label.Quantity,
			}
			return nil
		}

		// used/expired/disposed：只记履历
		if err = tx.Model(&label).Update("scan_count", attempt).Error; err != nil {
			return err
		}
		outcome := entity.OutcomeDuplicate
		var msg string
		switch label.Status {
		case entity.LabelStatusExpired:
			outcome = entity.OutcomeExpired
			msg = fmt.Sprintf("材料已过期，禁止使用，此次为第%d次扫码", attempt)
		case entity.LabelStatusDisposed:
			msg = fmt.Sprintf("标签已废弃，此次为第%d次扫码", attempt)
		default:
			msg = labelUsedMessage(&label, attempt)
		}
		if err = appendScanLog(tx, entity.TagTypeMaterial, label.ID, tagNo, actor, place, false, outcome, msg, now); err != nil {
			return err
		}
		result = &ScanResult{
			Accepted: false, IsFirst: false,
			Outcome: outcome, Message: msg,
			TagNo: tagNo, Status: label.Status, ScanCount: attempt,
			PartID: label.PartID, Quantity: label.Quantity,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stockedPartID != "" {
		s.invalidateProjection(ctx, stockedPartID)
	}
	return result, nil
}

// CancelTag 作废未使用的工程标签
func (s *TagService) CancelTag(ctx context.Context, tagNo, actor string) (*entity.ProcessTag, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tag entity.ProcessTag
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&tag, "tag_no = ?", tagNo).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("标签不存在: %s", tagNo)
			}
			return err
		}
		if tag.Status != entity.TagStatusPrinted {
			return apperr.Conflict("当前状态不可作废: %s", tag.Status)
		}
		return tx.Model(&tag).Update("status", entity.TagStatusCancelled).Error
	})
	if err != nil {
		return nil, err
	}
	return s.tagRepo.FindTagByNo(ctx, tagNo)
}

// DisposeLabel 废弃材料标签。已入库的材料废弃时从基准在库扣回。
func (s *TagService) DisposeLabel(ctx context.Context, tagNo, actor string) (*entity.RawMaterialLabel, error) {
	var reclaimPartID string

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var label entity.RawMaterialLabel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&label, "tag_no = ?", tagNo).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("标签不存在: %s", tagNo)
			}
			return err
		}
		if label.Status != entity.LabelStatusInstock && label.Status != entity.LabelStatusExpired {
			return apperr.Conflict("当前状态不可废弃: %s", label.Status)
		}
		if err = tx.Model(&label).Update("status", entity.LabelStatusDisposed).Error; err != nil {
			return err
		}
		// first_used_at有值说明入库扫码计过在库
		if label.FirstUsedAt != nil {
			if err = invrepo.AdjustBaseQuantityTx(tx, label.PartID, -label.Quantity, actor); err != nil {
				return err
			}
			reclaimPartID = label.PartID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reclaimPartID != "" {
		s.invalidateProjection(ctx, reclaimPartID)
	}
	return s.tagRepo.FindLabelByNo(ctx, tagNo)
}

// GetTag 标签详情与扫码履历
func (s *TagService) GetTag(ctx context.Context, tagNo string) (*TagDetail, error) {
	tag, err := s.tagRepo.FindTagByNo(ctx, tagNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("标签不存在: %s", tagNo)
		}
		return nil, err
	}
	logs, err := s.tagRepo.ListScanLogs(ctx, entity.TagTypeProcess, tag.ID)
	if err != nil {
		return nil, err
	}
	return &TagDetail{Tag: tag, Logs: logs}, nil
}

// GetLabel 材料标签详情与扫码履历
func (s *TagService) GetLabel(ctx context.Context, tagNo string) (*LabelDetail, error) {
	label, err := s.tagRepo.FindLabelByNo(ctx, tagNo)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("标签不存在: %s", tagNo)
		}
		return nil, err
	}
	logs, err := s.tagRepo.ListScanLogs(ctx, entity.TagTypeMaterial, label.ID)
	if err != nil {
		return nil, err
	}
	return &LabelDetail{Label: label, Logs: logs}, nil
}

// ListTags 工程标签一览
func (s *TagService) ListTags(ctx context.Context, partID, status string, page, pageSize int) ([]*entity.ProcessTag, int64, error) {
	return s.tagRepo.ListTags(ctx, partID, status, page, pageSize)
}

// ListLabels 材料标签一览
func (s *TagService) ListLabels(ctx context.Context, partID, status string, page, pageSize int) ([]*entity.RawMaterialLabel, int64, error) {
	return s.tagRepo.ListLabels(ctx, partID, status, page, pageSize)
}

func (s *TagService) invalidateProjection(ctx context.Context, partID string) {
	if s.rdb == nil {
		return
	}
	key := "proj:" + partID + ":" + time.Now().Format("20060102")
	if err := s.rdb.Del(ctx, key).Err(); err != nil && s.logger != nil {
		s.logger.Warn("投影缓存失效失败", zap.String("part_id", partID), zap.Error(err))
	}
}

// appendScanLog 追加一条扫码履历
func appendScanLog(tx *gorm.DB, tagType, tagID, tagNo, actor, place string, isFirst bool, outcome, message string, at time.Time) error {
	return tx.Create(&entity.TagScanLog{
		ID:          uuid.New().String()[:32],
		TagType:     tagType,
		TagID:       tagID,
		TagNo:       tagNo,
		Actor:       actor,
		Place:       place,
		IsFirstScan: isFirst,
		Outcome:     outcome,
		Message:     message,
		CreatedAt:   at,
	}).Error
}

// duplicateMessage 重复扫码的提示文案，带上首次使用者与累计次数
func duplicateMessage(status string, firstAt *time.Time, firstBy, firstPlace string, attempt int) string {
	if status == entity.TagStatusCancelled {
		return fmt.Sprintf("标签已作废，此次为第%d次扫码", attempt)
	}
	if firstAt == nil {
		return fmt.Sprintf("标签已使用，此次为第%d次扫码", attempt)
	}
	return fmt.Sprintf("标签已于%s由%s在%s使用，此次为第%d次扫码",
		firstAt.Format("2006-01-02 15:04"), firstBy, firstPlace, attempt)
}

func labelUsedMessage(label *entity.RawMaterialLabel, attempt int) string {
	if label.ConsumedAt == nil {
		return fmt.Sprintf("标签已使用，此次为第%d次扫码", attempt)
	}
	return fmt.Sprintf("材料已于%s由%s在%s出库，此次为第%d次扫码",
		label.ConsumedAt.Format("2006-01-02 15:04"), label.ConsumedBy, label.ConsumedPlace, attempt)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
