package handler

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	identityentity "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/testutil"
)

func setupStockTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repos := repository.NewRepositories(db)
	svc := service.NewStockService(repos.Stock, repos.Part, repos.Vendor, nil)
	handler := NewStockHandler(svc)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")

	parts := api.Group("/parts")
	parts.GET("/:id/stock", middleware.RequireInternal(), handler.GetLedger)
	parts.GET("/:id/stock/base", middleware.RequireInternal(), handler.GetBase)

	stockOps := parts.Group("")
	stockOps.Use(middleware.RequireInternal(), middleware.RequireCapability(identityentity.CapStockOps))
	{
		stockOps.PUT("/:id/stock/base", handler.SetBase)
		stockOps.POST("/:id/stock/adjust", handler.Adjust)
		stockOps.PUT("/:id/stock/demand", handler.UpsertDemand)
		stockOps.POST("/:id/stock/incoming", handler.AddIncoming)
	}

	stockImport := api.Group("/stock")
	stockImport.Use(middleware.RequireInternal(), middleware.RequireCapability(identityentity.CapStockOps))
	{
		stockImport.POST("/import", handler.ImportStockBook)
		stockImport.POST("/demand-plan", handler.ImportDemandPlan)
	}

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func seedStockPart(t *testing.T, env *testutil.TestEnv) string {
	t.Helper()
	testutil.SeedVendor(t, env.DB, "ven-stock-001", "VS01", "山本部品")
	part := testutil.SeedPart(t, env.DB, "part-stock-001", "ven-stock-001", "JE-4001", "轴承座")
	return part.ID
}

// buildSheet 组一个单sheet的Excel，首行表头
func buildSheet(t *testing.T, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("Failed to set sheet row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("Failed to serialize excel: %v", err)
	}
	return buf
}

// uploadFile 按multipart上传文件，fields为附带的表单字段
func uploadFile(t *testing.T, env *testutil.TestEnv, path, token string, file *bytes.Buffer, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "upload.xlsx")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(file.Bytes()); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	writer.Close()

	req, _ := http.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, req)
	return w
}

// TestDemandUpsertReplace 使用预定同日替换登录，零数量删除
func TestDemandUpsertReplace(t *testing.T) {
	env := setupStockTest(t)
	token := testutil.InternalToken("user-stock-001", identityentity.CapStockOps)
	partID := seedStockPart(t, env)

	due := time.Now().AddDate(0, 0, 7).Format("2006-01-02")
	w := testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/parts/"+partID+"/stock/demand",
		map[string]interface{}{"due_date": due, "quantity": 10}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 同日再登录：替换而非累加
	w = testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/parts/"+partID+"/stock/demand",
		map[string]interface{}{"due_date": due, "quantity": 4}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var lines []entity.DemandLine
	env.DB.Where("part_id = ?", partID).Find(&lines)
	if len(lines) != 1 {
		t.Fatalf("expected 1 demand line after upsert, got %d", len(lines))
	}
	if lines[0].Quantity != 4 {
		t.Fatalf("expected quantity replaced to 4, got %d", lines[0].Quantity)
	}

	// 台账读取能看到这条预定
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/"+partID+"/stock", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	view := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if demand := view["demand"].([]interface{}); len(demand) != 1 {
		t.Fatalf("expected 1 demand entry in ledger, got %d", len(demand))
	}

	// 零数量＝取消该日预定
	w = testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/parts/"+partID+"/stock/demand",
		map[string]interface{}{"due_date": due, "quantity": 0}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var count int64
	env.DB.Model(&entity.DemandLine{}).Where("part_id = ?", partID).Count(&count)
	if count != 0 {
		t.Fatalf("expected demand line deleted, got %d rows", count)
	}
}

// TestIncomingAppendOnly 入库预定只追加，负数被拒
func TestIncomingAppendOnly(t *testing.T) {
	env := setupStockTest(t)
	token := testutil.InternalToken("user-stock-001", identityentity.CapStockOps)
	partID := seedStockPart(t, env)

	in := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	for i := 0; i < 2; i++ {
		w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts/"+partID+"/stock/incoming",
			map[string]interface{}{"in_date": in, "quantity": 5}, token)
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
		}
	}

	var lines []entity.IncomingLine
	env.DB.Where("part_id = ?", partID).Find(&lines)
	if len(lines) != 2 {
		t.Fatalf("expected 2 incoming lines (append-only), got %d", len(lines))
	}

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts/"+partID+"/stock/incoming",
		map[string]interface{}{"in_date": in, "quantity": -5}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for negative incoming, got %d: %s", w.Code, w.Body.String())
	}
}

// TestBaseStockOps 基准在库的设定与增减
func TestBaseStockOps(t *testing.T) {
	env := setupStockTest(t)
	token := testutil.InternalToken("user-stock-001", identityentity.CapStockOps)
	partID := seedStockPart(t, env)

	w := testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/parts/"+partID+"/stock/base",
		map[string]interface{}{"quantity": 80, "as_of_date": time.Now().Format("2006-01-02")}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts/"+partID+"/stock/adjust",
		map[string]interface{}{"delta": -30}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/"+partID+"/stock/base", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	base := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if base["quantity"].(float64) != 50 {
		t.Fatalf("expected base 50 after adjust, got %v", base["quantity"])
	}

	// 负基准被拒
	w = testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/parts/"+partID+"/stock/base",
		map[string]interface{}{"quantity": -1}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for negative base, got %d: %s", w.Code, w.Body.String())
	}
}

// TestStockWriteCapability 台账写入需要stock:ops能力
func TestStockWriteCapability(t *testing.T) {
	env := setupStockTest(t)
	partID := seedStockPart(t, env)

	// 内部用户但无能力
	noCap := testutil.InternalToken("user-stock-002")
	w := testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/parts/"+partID+"/stock/base",
		map[string]interface{}{"quantity": 10}, noCap)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 without capability, got %d: %s", w.Code, w.Body.String())
	}

	// 厂商账号在本社限定一层就被拦
	vendor := testutil.VendorToken("user-ven-stock", "ven-stock-001")
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/"+partID+"/stock", nil, vendor)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for vendor, got %d: %s", w.Code, w.Body.String())
	}

	// 管理员能力"*"放行一切
	admin := testutil.InternalToken("user-stock-admin", identityentity.CapAdmin)
	w = testutil.DoRequest(env.Router, http.MethodPut, "/api/v1/parts/"+partID+"/stock/base",
		map[string]interface{}{"quantity": 10}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for admin, got %d: %s", w.Code, w.Body.String())
	}
}

// TestStockBookImport 在库表上传整行替换，表头模糊匹配
func TestStockBookImport(t *testing.T) {
	env := setupStockTest(t)
	token := testutil.InternalToken("user-stock-001", identityentity.CapStockOps)
	partID := seedStockPart(t, env)

	asOf := time.Now().AddDate(0, 0, -1).Format("2006-01-02")
	sheet := buildSheet(t, [][]interface{}{
		{"倉庫コード", "品番", "在庫数"},
		{"VS01", "JE-4001", 70},
		{"NOPE", "JE-4001", 10},
	})
	w := uploadFile(t, env, "/api/v1/stock/import", token, sheet, map[string]string{"as_of_date": asOf})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if result["success"].(float64) != 1 || result["failed"].(float64) != 1 {
		t.Fatalf("expected 1 success / 1 failed, got %v", result)
	}

	var base entity.BaseStock
	if err := env.DB.Where("part_id = ?", partID).First(&base).Error; err != nil {
		t.Fatalf("Failed to load base stock: %v", err)
	}
	if base.Quantity != 70 {
		t.Fatalf("expected imported base 70, got %d", base.Quantity)
	}
	if base.AsOfDate == nil || base.AsOfDate.Format("2006-01-02") != asOf {
		t.Fatalf("expected as_of_date %s, got %v", asOf, base.AsOfDate)
	}
	if base.Source != entity.LedgerSourceUpload {
		t.Fatalf("expected source upload, got %s", base.Source)
	}

	// 缺必需列时整个文件被拒并指名列
	missing := buildSheet(t, [][]interface{}{
		{"倉庫コード", "品番"},
		{"VS01", "JE-4001"},
	})
	w = uploadFile(t, env, "/api/v1/stock/import", token, missing, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing column, got %d: %s", w.Code, w.Body.String())
	}
	if msg := testutil.ParseResponse(w)["message"].(string); !strings.Contains(msg, "无法识别必需列") {
		t.Fatalf("expected missing-column message, got %q", msg)
	}
}

// TestDemandPlanImport 使用预定表按(品番,納期)替换登录
func TestDemandPlanImport(t *testing.T) {
	env := setupStockTest(t)
	token := testutil.InternalToken("user-stock-001", identityentity.CapStockOps)
	partID := seedStockPart(t, env)

	d1 := time.Now().AddDate(0, 0, 5).Format("2006-01-02")
	d2 := time.Now().AddDate(0, 0, 6).Format("2006-01-02")
	sheet := buildSheet(t, [][]interface{}{
		{"品番", "納期", "数量"},
		{"JE-4001", d1, 12},
		{"JE-4001", d2, 8},
		{"UNKNOWN", d1, 3},
	})
	w := uploadFile(t, env, "/api/v1/stock/demand-plan", token, sheet, map[string]string{"vendor_id": "ven-stock-001"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if result["success"].(float64) != 2 || result["failed"].(float64) != 1 {
		t.Fatalf("expected 2 success / 1 failed, got %v", result)
	}

	var count int64
	env.DB.Model(&entity.DemandLine{}).Where("part_id = ?", partID).Count(&count)
	if count != 2 {
		t.Fatalf("expected 2 demand lines, got %d", count)
	}

	// 再次上传同日不同数量：替换
	sheet = buildSheet(t, [][]interface{}{
		{"品番", "納期", "数量"},
		{"JE-4001", d1, 20},
	})
	w = uploadFile(t, env, "/api/v1/stock/demand-plan", token, sheet, map[string]string{"vendor_id": "ven-stock-001"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var line entity.DemandLine
	due, _ := service.ParseDate(d1)
	env.DB.Where("part_id = ? AND due_date = ?", partID, due).First(&line)
	if line.Quantity != 20 {
		t.Fatalf("expected quantity replaced to 20, got %d", line.Quantity)
	}
	env.DB.Model(&entity.DemandLine{}).Where("part_id = ?", partID).Count(&count)
	if count != 2 {
		t.Fatalf("expected still 2 demand lines, got %d", count)
	}
}
