package handler

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/testutil"
)

func setupCatalogTest(t *testing.T) *testutil.TestEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	repos := repository.NewRepositories(db)
	svc := service.NewCatalogService(repos.Vendor, repos.Part)
	handler := NewCatalogHandler(svc)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")

	vendors := api.Group("/vendors")
	vendors.Use(middleware.RequireInternal())
	{
		vendors.GET("", handler.ListVendors)
		vendors.POST("", handler.CreateVendor)
		vendors.GET("/:id", handler.GetVendor)
	}

	parts := api.Group("/parts")
	{
		parts.GET("", handler.ListParts)
		parts.GET("/lookup", middleware.RequireInternal(), handler.LookupPart)
		parts.POST("", middleware.RequireInternal(), handler.CreatePart)
		parts.GET("/:id", handler.GetPart)
	}

	return &testutil.TestEnv{DB: db, Router: router, T: t}
}

func createVendor(env *testutil.TestEnv, token, name string) map[string]interface{} {
	env.T.Helper()
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/vendors",
		map[string]interface{}{"name": name}, token)
	if w.Code != http.StatusCreated {
		env.T.Fatalf("Expected 201 for vendor create, got %d: %s", w.Code, w.Body.String())
	}
	return testutil.ParseResponse(w)["data"].(map[string]interface{})
}

// TestVendorRegistry 厂商登记、编码自动采番、名称唯一
func TestVendorRegistry(t *testing.T) {
	env := setupCatalogTest(t)
	token := testutil.InternalToken("user-cat-001")

	v1 := createVendor(env, token, "明和电机")
	if v1["code"].(string) != "SUP-0001" {
		t.Fatalf("expected code SUP-0001, got %v", v1["code"])
	}
	if v1["status"].(string) != "active" {
		t.Fatalf("expected active vendor, got %v", v1["status"])
	}
	v2 := createVendor(env, token, "丸红金属")
	if v2["code"].(string) != "SUP-0002" {
		t.Fatalf("expected code SUP-0002, got %v", v2["code"])
	}

	// 名称唯一
	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/vendors",
		map[string]interface{}{"name": "明和电机"}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for duplicate vendor name, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/vendors/"+v1["id"].(string), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 厂商目录本社限定
	vendorTok := testutil.VendorToken("user-ven-cat", v1["id"].(string))
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/vendors", nil, vendorTok)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for vendor account, got %d: %s", w.Code, w.Body.String())
	}
}

// TestPartRegistry 品目登记、品番在厂商内唯一、跨厂商可重复
func TestPartRegistry(t *testing.T) {
	env := setupCatalogTest(t)
	token := testutil.InternalToken("user-cat-001")
	v1 := createVendor(env, token, "明和电机")["id"].(string)
	v2 := createVendor(env, token, "丸红金属")["id"].(string)

	w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts", map[string]interface{}{
		"vendor_id": v1, "part_no": "JE-8001", "name": "电源模块", "lead_time_days": 4,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	part := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if part["unit"].(string) != "pcs" {
		t.Fatalf("expected default unit pcs, got %v", part["unit"])
	}
	if part["lead_time_days"].(float64) != 4 {
		t.Fatalf("expected lead time 4, got %v", part["lead_time_days"])
	}

	// 同厂商内品番唯一
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts", map[string]interface{}{
		"vendor_id": v1, "part_no": "JE-8001", "name": "电源模块B",
	}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409 for duplicate part_no, got %d: %s", w.Code, w.Body.String())
	}

	// 跨厂商同品番允许
	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts", map[string]interface{}{
		"vendor_id": v2, "part_no": "JE-8001", "name": "电源模块",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 for same part_no under another vendor, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts", map[string]interface{}{
		"vendor_id": "nope", "part_no": "JE-8002", "name": "外壳",
	}, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for unknown vendor, got %d: %s", w.Code, w.Body.String())
	}

	// 厂商名+品番定位
	query := url.Values{"part_no": {"JE-8001"}, "vendor_name": {"丸红金属"}}.Encode()
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/lookup?"+query, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for lookup, got %d: %s", w.Code, w.Body.String())
	}
	found := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if found["vendor_id"].(string) != v2 {
		t.Fatalf("expected lookup resolved under v2, got %v", found["vendor_id"])
	}

	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/lookup?part_no=JE-8001", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for incomplete lookup, got %d: %s", w.Code, w.Body.String())
	}
}

// TestPartVendorVisibility 厂商账号只看到本司品目
func TestPartVendorVisibility(t *testing.T) {
	env := setupCatalogTest(t)
	token := testutil.InternalToken("user-cat-001")
	v1 := createVendor(env, token, "明和电机")["id"].(string)
	v2 := createVendor(env, token, "丸红金属")["id"].(string)

	for _, body := range []map[string]interface{}{
		{"vendor_id": v1, "part_no": "JE-8101", "name": "风扇"},
		{"vendor_id": v1, "part_no": "JE-8102", "name": "导轨"},
		{"vendor_id": v2, "part_no": "JE-8201", "name": "端子台"},
	} {
		w := testutil.DoRequest(env.Router, http.MethodPost, "/api/v1/parts", body, token)
		if w.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
		}
	}

	// 内部用户全量可见
	w := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts", nil, token)
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if items := data["items"].([]interface{}); len(items) != 3 {
		t.Fatalf("expected 3 parts for internal user, got %d", len(items))
	}

	// 厂商查询参数不可越权
	vendorTok := testutil.VendorToken("user-ven-cat", v1)
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts?vendor_id="+v2, nil, vendorTok)
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if items := data["items"].([]interface{}); len(items) != 2 {
		t.Fatalf("expected 2 own parts for vendor, got %d", len(items))
	}

	// 他司品目详情拒绝
	var otherPartID string
	for _, item := range data["items"].([]interface{}) {
		otherPartID = item.(map[string]interface{})["id"].(string)
	}
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/"+otherPartID, nil, vendorTok)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for own part, got %d: %s", w.Code, w.Body.String())
	}

	var foreignID string
	wAll := testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts?vendor_id="+v2, nil, token)
	allData := testutil.ParseResponse(wAll)["data"].(map[string]interface{})
	for _, item := range allData["items"].([]interface{}) {
		foreignID = item.(map[string]interface{})["id"].(string)
	}
	w = testutil.DoRequest(env.Router, http.MethodGet, "/api/v1/parts/"+foreignID, nil, vendorTok)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for foreign part, got %d: %s", w.Code, w.Body.String())
	}
}
