package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	identityentity "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	inventoryentity "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	m4entity "github.com/choihyunjun/JEM-SCM-sub000/internal/m4/entity"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	receivingentity "github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/entity"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_scm"
	JWTSecret  = "jem-scm-test-jwt-secret"
)

// TestEnv holds test environment resources
type TestEnv struct {
	DB     *gorm.DB
	Router *gin.Engine
	T      *testing.T
}

// projectRoot returns the project root directory by looking for go.mod
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// loadEnv loads .env from the project root
func loadEnv() {
	root := projectRoot()
	if root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB creates a test database connection using a dedicated test schema.
// Each test gets an isolated schema that is cleaned up after the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "jemscm")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	// Create a unique test schema for isolation
	schemaName := fmt.Sprintf("%s_%d", TestSchema, time.Now().UnixNano()%1000000)

	// First: create schema using a temporary connection
	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to database for schema setup: %v", err)
	}
	setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName))
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// Second: open connection with search_path in DSN so ALL pooled connections use test schema.
	// TranslateError与生产配置保持一致，标签发号重试在测试里也要看到ErrDuplicatedKey
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Migrate test tables
	err = db.AutoMigrate(
		&identityentity.User{},
		&identityentity.UserCapability{},
		&inventoryentity.Vendor{},
		&inventoryentity.Part{},
		&inventoryentity.BaseStock{},
		&inventoryentity.DemandLine{},
		&inventoryentity.IncomingLine{},
		&inventoryentity.PurchaseOrder{},
		&inventoryentity.BOMLine{},
		&receivingentity.ProcessTag{},
		&receivingentity.RawMaterialLabel{},
		&receivingentity.TagScanLog{},
		&m4entity.M4Request{},
		&m4entity.M4ChangeLog{},
		&m4entity.FormalDocument{},
		&m4entity.FormalItem{},
		&m4entity.FormalAttachment{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	// Cleanup on test completion
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		// Reconnect to drop the schema
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupTestRedis connects to the test redis instance.
// Token registry keys carry uuid jtis, so suites can share one database.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	loadEnv()

	host := getEnv("REDIS_HOST", "127.0.0.1")
	port := getEnv("REDIS_PORT", "6379")
	dbIndex, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       dbIndex,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to test redis: %v", err)
	}

	t.Cleanup(func() {
		rdb.Close()
	})
	return rdb
}

// SetupRouter creates a gin test router
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup creates an API group with JWT auth middleware for testing
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken creates a valid JWT token for testing
func GenerateTestToken(userID, name, kind, orgID string, caps []string) string {
	if caps == nil {
		caps = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    userID,
		"uid":    userID,
		"name":   name,
		"email":  userID + "@test.local",
		"kind":   kind,
		"org_id": orgID,
		"caps":   caps,
		"iss":    "jem-scm",
		"iat":    now.Unix(),
		"exp":    now.Add(24 * time.Hour).Unix(),
		"jti":    fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// InternalToken returns a token for an internal staff user
func InternalToken(userID string, caps ...string) string {
	return GenerateTestToken(userID, "内部担当", middleware.UserKindInternal, "", caps)
}

// VendorToken returns a token for a vendor-side user scoped to orgID
func VendorToken(userID, orgID string) string {
	return GenerateTestToken(userID, "厂商担当", middleware.UserKindVendor, orgID, nil)
}

// DoRequest executes an HTTP request against the test router
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse parses the JSON response body into a Response-like map
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// SeedVendor creates a test vendor
func SeedVendor(t *testing.T, db *gorm.DB, id, code, name string) *inventoryentity.Vendor {
	t.Helper()
	vendor := &inventoryentity.Vendor{
		ID:        id,
		Code:      code,
		Name:      name,
		Status:    inventoryentity.VendorStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(vendor).Error; err != nil {
		t.Fatalf("Failed to seed test vendor: %v", err)
	}
	return vendor
}

// SeedPart creates a test part under the given vendor
func SeedPart(t *testing.T, db *gorm.DB, id, vendorID, partNo, name string) *inventoryentity.Part {
	t.Helper()
	part := &inventoryentity.Part{
		ID:        id,
		VendorID:  vendorID,
		PartNo:    partNo,
		Name:      name,
		Unit:      "pcs",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := db.Create(part).Error; err != nil {
		t.Fatalf("Failed to seed test part: %v", err)
	}
	return part
}

// SeedUser creates a test user
func SeedUser(t *testing.T, db *gorm.DB, id, name, kind, orgID string) *identityentity.User {
	t.Helper()
	user := &identityentity.User{
		ID:           id,
		Username:     "user_" + id,
		Name:         name,
		PasswordHash: "x",
		Kind:         kind,
		OrgID:        orgID,
		Status:       identityentity.UserStatusActive,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed test user: %v", err)
	}
	return user
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
