package handler

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/testutil"
)

func setupOrderTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repos := repository.NewRepositories(db)
	svc := service.NewOrderService(db, repos, nil, nil, zap.NewNop())
	handler := NewOrderHandler(svc)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")

	orders := api.Group("/orders")
	{
		orders.GET("", handler.List)
		orders.POST("", middleware.RequireInternal(), handler.Register)
		orders.POST("/import", middleware.RequireInternal(), handler.ImportCSV)
		orders.POST("/import-xlsx", middleware.RequireInternal(), handler.ImportXLSX)
		orders.POST("/ingest-sftp", middleware.RequireInternal(), handler.PullMailbox)
		orders.GET("/:id", handler.Get)
		orders.POST("/:id/acknowledge", handler.Acknowledge)
		orders.POST("/:id/close", middleware.RequireInternal(), handler.Close)
	}

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func seedOrderScope(t *testing.T, env *testutil.TestEnv) {
	t.Helper()
	testutil.SeedVendor(t, env.DB, "ven-ord-001", "V401", "中村商事")
	testutil.SeedVendor(t, env.DB, "ven-ord-002", "V402", "木村工业")
	testutil.SeedPart(t, env.DB, "part-ord-001", "ven-ord-001", "JE-5001", "连接器")
	testutil.SeedPart(t, env.DB, "part-ord-002", "ven-ord-002", "JE-6001", "继电器")
}

func registerOrder(env *testutil.TestEnv, token, orderNo string) map[string]interface{} {
	env.T.Helper()
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"order_no":   orderNo,
		"vendor_id":  "ven-ord-001",
		"part_no":    "JE-5001",
		"quantity":   200,
		"unit_price": "12.5",
		"due_date":   "2026-09-10",
	}, token)
	if w.Code != http.StatusCreated {
		env.T.Fatalf("Expected 201 for register, got %d: %s", w.Code, w.Body.String())
	}
	return testutil.ParseResponse(w)["data"].(map[string]interface{})
}

// sjisBytes 把UTF-8文本编码为Shift-JIS字节流
func sjisBytes(t *testing.T, text string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	enc := transform.NewWriter(buf, japanese.ShiftJIS.NewEncoder())
	if _, err := enc.Write([]byte(text)); err != nil {
		t.Fatalf("Failed to encode shift-jis: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to finish shift-jis encode: %v", err)
	}
	return buf
}

// TestOrderLifecycle 注文登录→厂商确认→关闭，确认登录入库预定、关闭撤回
func TestOrderLifecycle(t *testing.T) {
	env := setupOrderTest(t)
	seedOrderScope(t, env)
	internal := testutil.InternalToken("user-ord-001")
	vendorTok := testutil.VendorToken("user-ven-ord1", "ven-ord-001")

	data := registerOrder(env, internal, "PO-2026-0001")
	orderID := data["id"].(string)
	if data["status"].(string) != entity.OrderStatusOpen {
		t.Fatalf("expected status open, got %v", data["status"])
	}
	if data["part_id"].(string) != "part-ord-001" {
		t.Fatalf("expected part resolved by part_no, got %v", data["part_id"])
	}

	// 金额＝单价×数量
	var order entity.PurchaseOrder
	if err := env.DB.First(&order, "id = ?", orderID).Error; err != nil {
		t.Fatalf("Failed to load order: %v", err)
	}
	if !order.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("expected amount 2500, got %s", order.Amount)
	}

	// 注文号全局唯一
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"order_no": "PO-2026-0001", "vendor_id": "ven-ord-001", "part_no": "JE-5001",
		"quantity": 10, "due_date": "2026-09-12",
	}, internal)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for duplicate order_no, got %d: %s", w.Code, w.Body.String())
	}

	// 品番必须已登录
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"order_no": "PO-2026-0002", "vendor_id": "ven-ord-001", "part_no": "NOPE",
		"quantity": 10, "due_date": "2026-09-12",
	}, internal)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown part, got %d: %s", w.Code, w.Body.String())
	}

	// 厂商确认，同时登录入库预定行
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders/"+orderID+"/acknowledge", nil, vendorTok)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for acknowledge, got %d: %s", w.Code, w.Body.String())
	}
	if got := testutil.ParseResponse(w)["data"].(map[string]interface{})["status"].(string); got != entity.OrderStatusAcknowledged {
		t.Fatalf("expected status acknowledged, got %s", got)
	}

	var lines []entity.IncomingLine
	env.DB.Where("source_type = ? AND source_ref = ?", entity.LedgerSourceOrder, "PO-2026-0001").Find(&lines)
	if len(lines) != 1 {
		t.Fatalf("expected 1 incoming line after acknowledge, got %d", len(lines))
	}
	if lines[0].PartID != "part-ord-001" || lines[0].Quantity != 200 {
		t.Fatalf("unexpected incoming line: part=%s qty=%d", lines[0].PartID, lines[0].Quantity)
	}
	if lines[0].InDate.Format("2006-01-02") != "2026-09-10" {
		t.Fatalf("expected in_date on due date, got %s", lines[0].InDate.Format("2006-01-02"))
	}

	// 重复确认被拒
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders/"+orderID+"/acknowledge", nil, vendorTok)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for double acknowledge, got %d: %s", w.Code, w.Body.String())
	}

	// 关闭撤回入库预定
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders/"+orderID+"/close", nil, internal)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for close, got %d: %s", w.Code, w.Body.String())
	}
	var count int64
	env.DB.Model(&entity.IncomingLine{}).
		Where("source_type = ? AND source_ref = ?", entity.LedgerSourceOrder, "PO-2026-0001").Count(&count)
	if count != 0 {
		t.Fatalf("expected incoming line withdrawn on close, got %d rows", count)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders/"+orderID+"/close", nil, internal)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for closing closed order, got %d: %s", w.Code, w.Body.String())
	}
}

// TestOrderVendorScope 厂商只能看到、确认自己厂的注文
func TestOrderVendorScope(t *testing.T) {
	env := setupOrderTest(t)
	seedOrderScope(t, env)
	internal := testutil.InternalToken("user-ord-001")
	own := testutil.VendorToken("user-ven-ord1", "ven-ord-001")
	other := testutil.VendorToken("user-ven-ord2", "ven-ord-002")

	data := registerOrder(env, internal, "PO-2026-0100")
	orderID := data["id"].(string)

	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/orders/"+orderID, nil, other)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for other-vendor read, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders/"+orderID+"/acknowledge", nil, other)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for other-vendor acknowledge, got %d: %s", w.Code, w.Body.String())
	}

	// 一览收窄到本厂，query参数不可越权
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/orders?vendor_id=ven-ord-001", nil, other)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	pagination := data["pagination"].(map[string]interface{})
	if total := pagination["total"].(float64); total != 0 {
		t.Fatalf("expected empty list for other vendor, got total %v", total)
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/orders", nil, own)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if items := data["items"].([]interface{}); len(items) != 1 {
		t.Fatalf("expected 1 order for own vendor, got %d", len(items))
	}

	// 注文登录是本社操作
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders", map[string]interface{}{
		"order_no": "PO-2026-0101", "vendor_id": "ven-ord-001", "part_no": "JE-5001",
		"quantity": 10, "due_date": "2026-09-12",
	}, own)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for vendor register, got %d: %s", w.Code, w.Body.String())
	}
}

// TestOrderImportShiftJIS 注文CSV按Shift-JIS解码、仕入先列按编码解析
func TestOrderImportShiftJIS(t *testing.T) {
	env := setupOrderTest(t)
	seedOrderScope(t, env)
	internal := testutil.InternalToken("user-ord-001")

	csvText := "注文番号,仕入先,品番,数量,単価,納期\n" +
		"PO-CSV-0001,V401,JE-5001,100,120.5,2026-09-15\n" +
		"PO-CSV-0002,V401,NOPE,50,,2026-09-20\n"
	w := uploadFile(t, env, "/api/v1/orders/import", internal, sjisBytes(t, csvText), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if result["success"].(float64) != 1 || result["failed"].(float64) != 1 {
		t.Fatalf("expected 1 success / 1 failed, got %v", result)
	}
	errs := result["errors"].([]interface{})
	if len(errs) != 1 || !strings.Contains(errs[0].(string), "品番不存在") {
		t.Fatalf("expected unknown-part row error, got %v", errs)
	}

	var order entity.PurchaseOrder
	if err := env.DB.First(&order, "order_no = ?", "PO-CSV-0001").Error; err != nil {
		t.Fatalf("Failed to load imported order: %v", err)
	}
	if order.VendorID != "ven-ord-001" || order.Quantity != 100 {
		t.Fatalf("unexpected imported order: vendor=%s qty=%d", order.VendorID, order.Quantity)
	}
	if order.Source != entity.OrderSourceCSV {
		t.Fatalf("expected source csv, got %s", order.Source)
	}

	// 没有仕入先列且未指定默认厂商时整个文件被拒
	noVendor := "注文番号,品番,数量,単価,納期\n" +
		"PO-CSV-0003,JE-5001,30,,2026-09-18\n"
	w = uploadFile(t, env, "/api/v1/orders/import", internal, sjisBytes(t, noVendor), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without vendor column, got %d: %s", w.Code, w.Body.String())
	}
	if msg := testutil.ParseResponse(w)["message"].(string); !strings.Contains(msg, "无法识别必需列") {
		t.Fatalf("expected missing-column message, got %q", msg)
	}

	// 默认厂商兜底解释整个文件
	w = uploadFile(t, env, "/api/v1/orders/import", internal, sjisBytes(t, noVendor),
		map[string]string{"vendor_id": "ven-ord-001"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 with default vendor, got %d: %s", w.Code, w.Body.String())
	}
	result = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if result["success"].(float64) != 1 {
		t.Fatalf("expected 1 success with default vendor, got %v", result)
	}
}

// TestOrderMailboxUnconfigured 未配置SFTP投递箱时拉取报错
// TestOrderImportXLSX Excel注文导入走与CSV同一套表头解析
func TestOrderImportXLSX(t *testing.T) {
	env := setupOrderTest(t)
	seedOrderScope(t, env)
	internal := testutil.InternalToken("user-ord-001")

	sheet := buildSheet(t, [][]interface{}{
		{"注文番号", "仕入先", "品番", "数量", "単価", "納期"},
		{"PO-X-0001", "V401", "JE-5001", 40, "25.5", "2026-10-01"},
		{"PO-X-0002", "V402", "JE-6001", 15, "", "2026/10/05"},
		{"PO-X-0003", "V401", "NOPE", 5, "", "2026-10-01"},
	})
	w := uploadFile(t, env, "/api/v1/orders/import-xlsx", internal, sheet, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for xlsx import, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["success"].(float64) != 2 || data["failed"].(float64) != 1 {
		t.Fatalf("expected 2 success 1 failed, got %v/%v", data["success"], data["failed"])
	}
	errs := data["errors"].([]interface{})
	if !strings.Contains(errs[0].(string), "品番不存在") {
		t.Fatalf("expected part error, got %v", errs[0])
	}

	var order entity.PurchaseOrder
	if err := env.DB.First(&order, "order_no = ?", "PO-X-0002").Error; err != nil {
		t.Fatalf("Failed to load imported order: %v", err)
	}
	if order.VendorID != "ven-ord-002" || order.Quantity != 15 {
		t.Fatalf("expected vendor resolved from 仕入先 column, got %s qty %d", order.VendorID, order.Quantity)
	}
	if order.Source != entity.OrderSourceXLSX {
		t.Fatalf("expected xlsx source, got %s", order.Source)
	}
}

func TestOrderMailboxUnconfigured(t *testing.T) {
	env := setupOrderTest(t)
	internal := testutil.InternalToken("user-ord-001")

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/orders/ingest-sftp", nil, internal)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without dropbox, got %d: %s", w.Code, w.Body.String())
	}
	if msg := testutil.ParseResponse(w)["message"].(string); !strings.Contains(msg, "SFTP投递箱未配置") {
		t.Fatalf("expected dropbox message, got %q", msg)
	}
}
