package handler

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	inventory "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	invrepo "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/testutil"
)

func setupTagTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	tagRepo := repository.NewTagRepository(db)
	partRepo := invrepo.NewPartRepository(db)
	svc := service.NewTagService(db, tagRepo, partRepo, nil, zap.NewNop())
	handler := NewTagHandler(svc)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")

	tags := api.Group("/tags")
	tags.Use(middleware.RequireInternal())
	{
		tags.POST("", handler.IssueTag)
		tags.GET("", handler.ListTags)
		tags.GET("/:tagNo", handler.GetTag)
		tags.POST("/:tagNo/scan", handler.ScanTag)
		tags.POST("/:tagNo/cancel", handler.CancelTag)
	}

	labels := api.Group("/labels")
	labels.Use(middleware.RequireInternal())
	{
		labels.POST("", handler.IssueLabel)
		labels.GET("", handler.ListLabels)
		labels.GET("/:tagNo", handler.GetLabel)
		labels.POST("/:tagNo/scan", handler.ScanLabel)
		labels.POST("/:tagNo/dispose", handler.DisposeLabel)
	}

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func seedTagPart(t *testing.T, env *testutil.TestEnv) string {
	t.Helper()
	testutil.SeedVendor(t, env.DB, "ven-tag-001", "V001", "山田电子")
	part := testutil.SeedPart(t, env.DB, "part-tag-001", "ven-tag-001", "JE-1001", "主板组件")
	return part.ID
}

func baseQuantity(t *testing.T, env *testutil.TestEnv, partID string) int {
	t.Helper()
	var base inventory.BaseStock
	err := env.DB.Where("part_id = ?", partID).First(&base).Error
	if err != nil {
		t.Fatalf("Failed to load base stock: %v", err)
	}
	return base.Quantity
}

// TestTagIssueSequence 同日发行的标签号按日连号不跳号
func TestTagIssueSequence(t *testing.T) {
	env := setupTagTest(t)
	token := testutil.InternalToken("user-wh-001")
	partID := seedTagPart(t, env)

	day := time.Now().Format("20060102")
	for i := 1; i <= 3; i++ {
		body := map[string]interface{}{"part_id": partID, "quantity": 10, "lot": "LOT-A"}
		w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags", body, token)
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
		}
		data := testutil.ParseResponse(w)["data"].(map[string]interface{})
		want := fmt.Sprintf("PT-%s-%04d", day, i)
		if data["tag_no"] != want {
			t.Fatalf("expected tag_no %s, got %v", want, data["tag_no"])
		}
		if data["status"] != entity.TagStatusPrinted {
			t.Fatalf("expected status printed, got %v", data["status"])
		}
	}

	// 材料标签走独立序列，同日从0001重新开始
	body := map[string]interface{}{"part_id": partID, "quantity": 5}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels", body, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	want := fmt.Sprintf("RM-%s-%04d", day, 1)
	if data["tag_no"] != want {
		t.Fatalf("expected label tag_no %s, got %v", want, data["tag_no"])
	}
}

// TestTagIssueUnknownPart 引用不存在的品目发行报404
func TestTagIssueUnknownPart(t *testing.T) {
	env := setupTagTest(t)
	token := testutil.InternalToken("user-wh-001")

	body := map[string]interface{}{"part_id": "no-such-part", "quantity": 10}
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags", body, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

// TestTagScanIdempotent 首扫入库计数，重扫只报提示不再动在库
func TestTagScanIdempotent(t *testing.T) {
	env := setupTagTest(t)
	token := testutil.InternalToken("user-wh-001")
	partID := seedTagPart(t, env)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags",
		map[string]interface{}{"part_id": partID, "quantity": 30}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	tagNo := testutil.ParseResponse(w)["data"].(map[string]interface{})["tag_no"].(string)

	// 首次扫码：入库
	w1 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags/"+tagNo+"/scan",
		map[string]interface{}{"place": "受入1"}, token)
	if w1.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w1.Code, w1.Body.String())
	}
	r1 := testutil.ParseResponse(w1)["data"].(map[string]interface{})
	if r1["accepted"] != true || r1["is_first"] != true {
		t.Fatalf("expected first scan accepted, got %v", r1)
	}
	if r1["outcome"] != entity.OutcomeAccepted {
		t.Fatalf("expected outcome accepted, got %v", r1["outcome"])
	}
	if r1["status"] != entity.TagStatusUsed {
		t.Fatalf("expected status used, got %v", r1["status"])
	}
	if got := baseQuantity(t, env, partID); got != 30 {
		t.Fatalf("expected base stock 30 after first scan, got %d", got)
	}

	// 重复扫码：拒绝但不报错，在库不变
	w2 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags/"+tagNo+"/scan",
		map[string]interface{}{"place": "受入2"}, token)
	if w2.Code != http.StatusOK {
		t.Fatalf("Expected 200 on duplicate scan, got %d: %s", w2.Code, w2.Body.String())
	}
	r2 := testutil.ParseResponse(w2)["data"].(map[string]interface{})
	if r2["accepted"] != false || r2["is_first"] != false {
		t.Fatalf("expected duplicate scan rejected, got %v", r2)
	}
	if r2["outcome"] != entity.OutcomeDuplicate {
		t.Fatalf("expected outcome duplicate, got %v", r2["outcome"])
	}
	if r2["scan_count"].(float64) != 2 {
		t.Fatalf("expected scan_count 2, got %v", r2["scan_count"])
	}
	msg := r2["message"].(string)
	if !strings.Contains(msg, "内部担当") || !strings.Contains(msg, "受入1") {
		t.Fatalf("expected duplicate message to carry first scan actor and place, got %q", msg)
	}
	if got := baseQuantity(t, env, partID); got != 30 {
		t.Fatalf("expected base stock unchanged at 30, got %d", got)
	}

	// 首次使用三项不被重扫覆盖
	var tag entity.ProcessTag
	env.DB.Where("tag_no = ?", tagNo).First(&tag)
	if tag.FirstUsedPlace != "受入1" {
		t.Fatalf("expected first_used_place 受入1, got %s", tag.FirstUsedPlace)
	}
	if tag.ScanCount != 2 {
		t.Fatalf("expected scan_count 2, got %d", tag.ScanCount)
	}

	// 每次扫码都留一条履历
	var logCount int64
	env.DB.Model(&entity.TagScanLog{}).Where("tag_no = ?", tagNo).Count(&logCount)
	if logCount != 2 {
		t.Fatalf("expected 2 scan logs, got %d", logCount)
	}
}

// TestTagCancel 未使用可作废，作废后扫码不入库，已使用不可作废
func TestTagCancel(t *testing.T) {
	env := setupTagTest(t)
	token := testutil.InternalToken("user-wh-001")
	partID := seedTagPart(t, env)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags",
		map[string]interface{}{"part_id": partID, "quantity": 8}, token)
	tagNo := testutil.ParseResponse(w)["data"].(map[string]interface{})["tag_no"].(string)

	w1 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags/"+tagNo+"/cancel", nil, token)
	if w1.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w1.Code, w1.Body.String())
	}
	if d := testutil.ParseResponse(w1)["data"].(map[string]interface{}); d["status"] != entity.TagStatusCancelled {
		t.Fatalf("expected status cancelled, got %v", d["status"])
	}

	// 作废标签扫码：提示作废，无在库变动
	w2 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags/"+tagNo+"/scan",
		map[string]interface{}{"place": "受入1"}, token)
	r2 := testutil.ParseResponse(w2)["data"].(map[string]interface{})
	if r2["accepted"] != false {
		t.Fatalf("expected cancelled tag scan rejected, got %v", r2)
	}
	if !strings.Contains(r2["message"].(string), "作废") {
		t.Fatalf("expected cancel notice in message, got %v", r2["message"])
	}
	var count int64
	env.DB.Model(&inventory.BaseStock{}).Where("part_id = ?", partID).Count(&count)
	if count != 0 {
		t.Fatalf("expected no base stock row, got %d", count)
	}

	// 已使用的标签不可作废
	w3 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags",
		map[string]interface{}{"part_id": partID, "quantity": 8}, token)
	usedNo := testutil.ParseResponse(w3)["data"].(map[string]interface{})["tag_no"].(string)
	testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags/"+usedNo+"/scan",
		map[string]interface{}{"place": "受入1"}, token)
	w4 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/tags/"+usedNo+"/cancel", nil, token)
	if w4.Code != http.StatusConflict {
		t.Fatalf("Expected 409 cancelling used tag, got %d: %s", w4.Code, w4.Body.String())
	}
}

// TestLabelLifecycle 材料标签入库→出库两段扫码，出库不动基准在库
func TestLabelLifecycle(t *testing.T) {
	env := setupTagTest(t)
	token := testutil.InternalToken("user-wh-002")
	partID := seedTagPart(t, env)

	expiry := time.Now().AddDate(0, 6, 0).Format("2006-01-02")
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels",
		map[string]interface{}{"part_id": partID, "quantity": 40, "lot": "LOT-M1", "expiry_date": expiry}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	tagNo := testutil.ParseResponse(w)["data"].(map[string]interface{})["tag_no"].(string)

	// 入库扫码
	w1 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+tagNo+"/scan",
		map[string]interface{}{"place": "材料库"}, token)
	r1 := testutil.ParseResponse(w1)["data"].(map[string]interface{})
	if r1["outcome"] != entity.OutcomeReceived || r1["status"] != entity.LabelStatusInstock {
		t.Fatalf("expected received/instock, got %v", r1)
	}
	if got := baseQuantity(t, env, partID); got != 40 {
		t.Fatalf("expected base stock 40 after receiving, got %d", got)
	}

	// 出库扫码：状态转used，基准在库不变
	w2 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+tagNo+"/scan",
		map[string]interface{}{"place": "加工1"}, token)
	r2 := testutil.ParseResponse(w2)["data"].(map[string]interface{})
	if r2["outcome"] != entity.OutcomeConsumed || r2["status"] != entity.LabelStatusUsed {
		t.Fatalf("expected consumed/used, got %v", r2)
	}
	if r2["accepted"] != true {
		t.Fatalf("expected consume scan accepted, got %v", r2)
	}
	if got := baseQuantity(t, env, partID); got != 40 {
		t.Fatalf("expected base stock still 40 after consuming, got %d", got)
	}

	// 第三次扫码：重复
	w3 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+tagNo+"/scan",
		map[string]interface{}{"place": "加工1"}, token)
	r3 := testutil.ParseResponse(w3)["data"].(map[string]interface{})
	if r3["accepted"] != false || r3["outcome"] != entity.OutcomeDuplicate {
		t.Fatalf("expected duplicate on third scan, got %v", r3)
	}
}

// TestLabelExpiry 过期材料扫码被拒并转expired
func TestLabelExpiry(t *testing.T) {
	env := setupTagTest(t)
	token := testutil.InternalToken("user-wh-002")
	partID := seedTagPart(t, env)

	expired := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels",
		map[string]interface{}{"part_id": partID, "quantity": 15, "expiry_date": expired}, token)
	tagNo := testutil.ParseResponse(w)["data"].(map[string]interface{})["tag_no"].(string)

	w1 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+tagNo+"/scan",
		map[string]interface{}{"place": "材料库"}, token)
	r1 := testutil.ParseResponse(w1)["data"].(map[string]interface{})
	if r1["accepted"] != false || r1["outcome"] != entity.OutcomeExpired {
		t.Fatalf("expected expired rejection, got %v", r1)
	}
	if r1["status"] != entity.LabelStatusExpired {
		t.Fatalf("expected status expired, got %v", r1["status"])
	}
	var count int64
	env.DB.Model(&inventory.BaseStock{}).Where("part_id = ?", partID).Count(&count)
	if count != 0 {
		t.Fatalf("expected no stock from expired label, got %d rows", count)
	}

	// 格式错误的有效期限发行直接拒绝
	w2 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels",
		map[string]interface{}{"part_id": partID, "quantity": 15, "expiry_date": "2026/01/01"}, token)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for bad expiry format, got %d: %s", w2.Code, w2.Body.String())
	}
}

// TestLabelDispose 废弃时只扣回已入库的数量
func TestLabelDispose(t *testing.T) {
	env := setupTagTest(t)
	token := testutil.InternalToken("user-wh-002")
	partID := seedTagPart(t, env)

	// 已入库的标签废弃后在库扣回
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels",
		map[string]interface{}{"part_id": partID, "quantity": 25}, token)
	tagNo := testutil.ParseResponse(w)["data"].(map[string]interface{})["tag_no"].(string)
	testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+tagNo+"/scan",
		map[string]interface{}{"place": "材料库"}, token)
	if got := baseQuantity(t, env, partID); got != 25 {
		t.Fatalf("expected base stock 25, got %d", got)
	}

	w1 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+tagNo+"/dispose", nil, token)
	if w1.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w1.Code, w1.Body.String())
	}
	if d := testutil.ParseResponse(w1)["data"].(map[string]interface{}); d["status"] != entity.LabelStatusDisposed {
		t.Fatalf("expected status disposed, got %v", d["status"])
	}
	if got := baseQuantity(t, env, partID); got != 0 {
		t.Fatalf("expected base stock reclaimed to 0, got %d", got)
	}

	// 未入库就过期的标签废弃时不扣在库
	expired := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	w2 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels",
		map[string]interface{}{"part_id": partID, "quantity": 9, "expiry_date": expired}, token)
	expiredNo := testutil.ParseResponse(w2)["data"].(map[string]interface{})["tag_no"].(string)
	testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+expiredNo+"/scan",
		map[string]interface{}{"place": "材料库"}, token)
	w3 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+expiredNo+"/dispose", nil, token)
	if w3.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w3.Code, w3.Body.String())
	}
	if got := baseQuantity(t, env, partID); got != 0 {
		t.Fatalf("expected base stock still 0, got %d", got)
	}

	// printed状态不可直接废弃
	w4 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels",
		map[string]interface{}{"part_id": partID, "quantity": 5}, token)
	printedNo := testutil.ParseResponse(w4)["data"].(map[string]interface{})["tag_no"].(string)
	w5 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels/"+printedNo+"/dispose", nil, token)
	if w5.Code != http.StatusConflict {
		t.Fatalf("Expected 409 disposing printed label, got %d: %s", w5.Code, w5.Body.String())
	}
}

// TestTagRoutesInternalOnly 标签接口对厂商账号关闭
func TestTagRoutesInternalOnly(t *testing.T) {
	env := setupTagTest(t)
	vendorToken := testutil.VendorToken("user-vendor-001", "ven-tag-001")

	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/tags", nil, vendorToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for vendor user, got %d: %s", w.Code, w.Body.String())
	}
	w2 := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/labels",
		map[string]interface{}{"part_id": "x", "quantity": 1}, vendorToken)
	if w2.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for vendor user, got %d: %s", w2.Code, w2.Body.String())
	}
}
