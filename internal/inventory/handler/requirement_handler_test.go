package handler

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	identityentity "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/testutil"
)

func setupRequirementTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repos := repository.NewRepositories(db)
	svc := service.NewRequirementService(repos.BOM, repos.Part, repos.Stock, nil)
	handler := NewRequirementHandler(svc)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")

	parts := api.Group("/parts")
	parts.GET("/:id/bom", middleware.RequireInternal(), handler.ListBOM)
	parts.POST("/:id/bom/import", middleware.RequireInternal(), handler.ImportBOM)
	parts.GET("/:id/bom/explode", middleware.RequireInternal(), handler.Explode)

	api.POST("/requirements/apply",
		middleware.RequireInternal(),
		middleware.RequireCapability(identityentity.CapStockOps),
		handler.ApplyPlan)

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func seedBOMPart(t *testing.T, env *testutil.TestEnv, id, partNo, name string, leadDays int) {
	t.Helper()
	err := env.DB.Create(&entity.Part{
		ID:           id,
		VendorID:     "ven-bom-001",
		PartNo:       partNo,
		Name:         name,
		Unit:         "pcs",
		LeadTimeDays: leadDays,
	}).Error
	if err != nil {
		t.Fatalf("Failed to seed part: %v", err)
	}
}

func seedBOMLine(t *testing.T, env *testutil.TestEnv, parentID, childID string, qtyPer int64) {
	t.Helper()
	err := env.DB.Create(&entity.BOMLine{
		ID:           uuid.New().String()[:32],
		ParentPartID: parentID,
		ChildPartID:  childID,
		QuantityPer:  decimal.NewFromInt(qtyPer),
	}).Error
	if err != nil {
		t.Fatalf("Failed to seed bom line: %v", err)
	}
}

// seedBOMTree 成品F＝面板C1×2＋中间组件A×1，A＝螺丝包C2×3
func seedBOMTree(t *testing.T, env *testutil.TestEnv) {
	t.Helper()
	testutil.SeedVendor(t, env.DB, "ven-bom-001", "VB01", "青木电装")
	seedBOMPart(t, env, "part-bom-f", "JE-7000", "成品机箱", 0)
	seedBOMPart(t, env, "part-bom-c1", "JE-7101", "面板", 3)
	seedBOMPart(t, env, "part-bom-a", "JE-7200", "中间组件", 2)
	seedBOMPart(t, env, "part-bom-c2", "JE-7102", "螺丝包", 5)
	seedBOMLine(t, env, "part-bom-f", "part-bom-c1", 2)
	seedBOMLine(t, env, "part-bom-f", "part-bom-a", 1)
	seedBOMLine(t, env, "part-bom-a", "part-bom-c2", 3)
}

func explodeReqs(t *testing.T, env *testutil.TestEnv, partID, query, token string) map[string]map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/"+partID+"/bom/explode"+query, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	byPartNo := make(map[string]map[string]interface{})
	for _, item := range testutil.ParseResponse(w)["data"].([]interface{}) {
		req := item.(map[string]interface{})
		byPartNo[req["part_no"].(string)] = req
	}
	return byPartNo
}

// TestBOMExplode 多级展开逐级乘員数、对基准在库轧差，循环构成被检出
func TestBOMExplode(t *testing.T) {
	env := setupRequirementTest(t)
	token := testutil.InternalToken("user-bom-001")
	seedBOMTree(t, env)
	seedBase(t, env, "part-bom-c2", 5, nil)

	reqs := explodeReqs(t, env, "part-bom-f", "?qty=10", token)
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(reqs))
	}
	c1 := reqs["JE-7101"]
	if c1["required_qty"].(string) != "20" || c1["net_qty"].(string) != "20" {
		t.Fatalf("unexpected c1 requirement: %v", c1)
	}
	if c1["has_children"].(bool) {
		t.Fatalf("expected leaf part, got has_children")
	}
	asm := reqs["JE-7200"]
	if asm["required_qty"].(string) != "10" || !asm["has_children"].(bool) {
		t.Fatalf("unexpected assembly requirement: %v", asm)
	}
	// 下层構成被中间组件的所要量放大，再减基准在库5
	c2 := reqs["JE-7102"]
	if c2["required_qty"].(string) != "30" {
		t.Fatalf("expected c2 required 30, got %v", c2["required_qty"])
	}
	if c2["current_stock"].(float64) != 5 || c2["net_qty"].(string) != "25" {
		t.Fatalf("unexpected c2 netting: %v", c2)
	}

	// 展开数量必须为正
	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/part-bom-f/bom/explode?qty=0", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for qty=0, got %d: %s", w.Code, w.Body.String())
	}

	// 无构成品目展开为空
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/part-bom-c1/bom/explode?qty=10", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if items := testutil.ParseResponse(w)["data"].([]interface{}); len(items) != 0 {
		t.Fatalf("expected empty expansion for leaf part, got %d", len(items))
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/nope/bom/explode", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown part, got %d: %s", w.Code, w.Body.String())
	}

	// 厂商账号不可见BOM
	vendor := testutil.VendorToken("user-ven-bom", "ven-bom-001")
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/part-bom-f/bom", nil, vendor)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for vendor, got %d: %s", w.Code, w.Body.String())
	}

	// 构成成环后展开报错
	seedBOMLine(t, env, "part-bom-c2", "part-bom-f", 1)
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/part-bom-f/bom/explode?qty=1", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for cyclic bom, got %d: %s", w.Code, w.Body.String())
	}
	if msg := testutil.ParseResponse(w)["message"].(string); !strings.Contains(msg, "循环引用") {
		t.Fatalf("expected cycle message, got %q", msg)
	}
}

// TestApplyPlan 完成品计划只对末端品目落使用预定，预定日按提前期倒排
func TestApplyPlan(t *testing.T) {
	env := setupRequirementTest(t)
	token := testutil.InternalToken("user-bom-001", identityentity.CapStockOps)
	seedBOMTree(t, env)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/requirements/apply", map[string]interface{}{
		"part_id": "part-bom-f", "due_date": "2026-09-20", "quantity": 10,
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	applied := make(map[string]map[string]interface{})
	for _, item := range testutil.ParseResponse(w)["data"].([]interface{}) {
		a := item.(map[string]interface{})
		applied[a["part_no"].(string)] = a
	}
	if len(applied) != 2 {
		t.Fatalf("expected demand on 2 leaf parts, got %d", len(applied))
	}
	if _, ok := applied["JE-7200"]; ok {
		t.Fatalf("intermediate assembly must not receive demand")
	}
	c1 := applied["JE-7101"]
	if c1["due_date"].(string) != "2026-09-17" || c1["quantity"].(float64) != 20 {
		t.Fatalf("unexpected c1 demand: %v", c1)
	}
	c2 := applied["JE-7102"]
	if c2["due_date"].(string) != "2026-09-15" || c2["quantity"].(float64) != 30 {
		t.Fatalf("unexpected c2 demand: %v", c2)
	}

	var line entity.DemandLine
	due, _ := service.ParseDate("2026-09-17")
	if err := env.DB.Where("part_id = ? AND due_date = ?", "part-bom-c1", due).First(&line).Error; err != nil {
		t.Fatalf("Failed to load applied demand: %v", err)
	}
	if line.Quantity != 20 || line.Source != entity.LedgerSourcePlan {
		t.Fatalf("unexpected demand line: qty=%d source=%s", line.Quantity, line.Source)
	}

	// 同完成日再登计划：替换既有预定
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/requirements/apply", map[string]interface{}{
		"part_id": "part-bom-f", "due_date": "2026-09-20", "quantity": 5,
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	env.DB.Where("part_id = ? AND due_date = ?", "part-bom-c1", due).First(&line)
	if line.Quantity != 10 {
		t.Fatalf("expected replaced quantity 10, got %d", line.Quantity)
	}
	var count int64
	env.DB.Model(&entity.DemandLine{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected 2 demand lines after replace, got %d", count)
	}

	// 写入需要stock:ops能力
	noCap := testutil.InternalToken("user-bom-002")
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/requirements/apply", map[string]interface{}{
		"part_id": "part-bom-f", "due_date": "2026-09-20", "quantity": 5,
	}, noCap)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 without capability, got %d: %s", w.Code, w.Body.String())
	}

	// 无构成品目不可登计划
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/requirements/apply", map[string]interface{}{
		"part_id": "part-bom-c1", "due_date": "2026-09-20", "quantity": 5,
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for part without bom, got %d: %s", w.Code, w.Body.String())
	}
	if msg := testutil.ParseResponse(w)["message"].(string); !strings.Contains(msg, "BOM构成") {
		t.Fatalf("expected no-bom message, got %q", msg)
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/requirements/apply", map[string]interface{}{
		"part_id": "part-bom-f", "due_date": "2026.09.20", "quantity": 5,
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for bad date, got %d: %s", w.Code, w.Body.String())
	}
}

// TestBOMImport 构成Excel整表替换，重复子品番員数合计，自引用被拒
func TestBOMImport(t *testing.T) {
	env := setupRequirementTest(t)
	token := testutil.InternalToken("user-bom-001")
	testutil.SeedVendor(t, env.DB, "ven-bom-001", "VB01", "青木电装")
	seedBOMPart(t, env, "part-bom-f", "JE-7000", "成品机箱", 0)
	seedBOMPart(t, env, "part-bom-c1", "JE-7101", "面板", 3)
	seedBOMPart(t, env, "part-bom-c2", "JE-7102", "螺丝包", 5)
	// 既有构成：导入后应被整表替换
	seedBOMLine(t, env, "part-bom-f", "part-bom-c1", 9)

	sheet := buildSheet(t, [][]interface{}{
		{"子品番", "員数"},
		{"JE-7101", 2},
		{"JE-7101", 1},
		{"JE-7102", 4},
		{"JE-7000", 1},
		{"NOPE", 2},
	})
	w := uploadFile(t, env, "/api/v1/parts/part-bom-f/bom/import", token, sheet, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if result["success"].(float64) != 3 || result["failed"].(float64) != 2 {
		t.Fatalf("expected 3 success / 2 failed, got %v", result)
	}
	errs := result["errors"].([]interface{})
	joined := ""
	for _, e := range errs {
		joined += e.(string) + "\n"
	}
	if !strings.Contains(joined, "构成不可引用自身") || !strings.Contains(joined, "品番不存在") {
		t.Fatalf("expected self-reference and unknown-part errors, got %q", joined)
	}

	var lines []entity.BOMLine
	env.DB.Where("parent_part_id = ?", "part-bom-f").Find(&lines)
	if len(lines) != 2 {
		t.Fatalf("expected 2 bom lines after replace, got %d", len(lines))
	}
	byChild := make(map[string]entity.BOMLine)
	for _, l := range lines {
		byChild[l.ChildPartID] = l
	}
	if !byChild["part-bom-c1"].QuantityPer.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected merged quantity 3, got %s", byChild["part-bom-c1"].QuantityPer)
	}
	if !byChild["part-bom-c2"].QuantityPer.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected quantity 4, got %s", byChild["part-bom-c2"].QuantityPer)
	}

	// 读回构成一览
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/part-bom-f/bom", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if items := testutil.ParseResponse(w)["data"].([]interface{}); len(items) != 2 {
		t.Fatalf("expected 2 bom entries, got %d", len(items))
	}

	// 缺員数列时整个文件被拒
	missing := buildSheet(t, [][]interface{}{
		{"子品番"},
		{"JE-7101"},
	})
	w = uploadFile(t, env, "/api/v1/parts/part-bom-f/bom/import", token, missing, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for missing column, got %d: %s", w.Code, w.Body.String())
	}
	if msg := testutil.ParseResponse(w)["message"].(string); !strings.Contains(msg, "无法识别必需列") {
		t.Fatalf("expected missing-column message, got %q", msg)
	}
}
