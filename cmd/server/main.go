package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/choihyunjun/JEM-SCM-sub000/internal/config"
	identityentity "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/entity"
	idhandler "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/handler"
	idrepo "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/repository"
	idservice "github.com/choihyunjun/JEM-SCM-sub000/internal/identity/service"
	inventoryentity "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/entity"
	invhandler "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/handler"
	invrepo "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/repository"
	invservice "github.com/choihyunjun/JEM-SCM-sub000/internal/inventory/service"
	m4entity "github.com/choihyunjun/JEM-SCM-sub000/internal/m4/entity"
	m4handler "github.com/choihyunjun/JEM-SCM-sub000/internal/m4/handler"
	m4repo "github.com/choihyunjun/JEM-SCM-sub000/internal/m4/repository"
	m4service "github.com/choihyunjun/JEM-SCM-sub000/internal/m4/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/middleware"
	receivingentity "github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/entity"
	rechandler "github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/handler"
	recrepo "github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/repository"
	recservice "github.com/choihyunjun/JEM-SCM-sub000/internal/receiving/service"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/objstore"
	"github.com/choihyunjun/JEM-SCM-sub000/internal/shared/sftpdrop"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 加载 .env 文件
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting jem-scm service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// 初始化数据库
	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := autoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}
	zapLogger.Info("Database migration completed")

	// 初始化Redis
	rdb := initRedis(cfg.Redis)

	// MinIO对象存储。未配置时为nil，正式文件附件上传会返回校验错误
	store, err := objstore.New(cfg.MinIO)
	if err != nil {
		zapLogger.Warn("MinIO init failed, formal attachment upload disabled", zap.Error(err))
		store = nil
	}

	// 客户注文SFTP投递箱（按需拉取）
	drop := sftpdrop.NewDropbox(cfg.SFTP, zapLogger)

	// 仓库
	userRepo := idrepo.NewUserRepository(db)
	invRepos := invrepo.NewRepositories(db)
	tagRepo := recrepo.NewTagRepository(db)
	m4Repos := m4repo.NewRepositories(db)

	// 服务
	authSvc := idservice.NewAuthService(userRepo, rdb, cfg)
	userSvc := idservice.NewUserService(userRepo)
	catalogSvc := invservice.NewCatalogService(invRepos.Vendor, invRepos.Part)
	stockSvc := invservice.NewStockService(invRepos.Stock, invRepos.Part, invRepos.Vendor, rdb)
	projectionSvc := invservice.NewProjectionService(invRepos.Stock, invRepos.Part, rdb, zapLogger)
	orderSvc := invservice.NewOrderService(db, invRepos, drop, rdb, zapLogger)
	requirementSvc := invservice.NewRequirementService(invRepos.BOM, invRepos.Part, invRepos.Stock, rdb)
	tagSvc := recservice.NewTagService(db, tagRepo, invRepos.Part, rdb, zapLogger)
	formalSvc := m4service.NewFormalService(db, m4Repos.Formal, store, zapLogger)
	m4Svc := m4service.NewM4Service(db, m4Repos.M4, formalSvc, invRepos.Vendor, invRepos.Part, userRepo)

	// 处理器
	idHandlers := idhandler.NewHandlers(authSvc, userSvc)
	invHandlers := invhandler.NewHandlers(catalogSvc, stockSvc, projectionSvc, orderSvc, requirementSvc)
	tagHandler := rechandler.NewTagHandler(tagSvc)
	m4Handlers := m4handler.NewHandlers(m4Svc, formalSvc)

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	// 注册路由
	registerRoutes(router, cfg, idHandlers, invHandlers, tagHandler, m4Handlers)

	// 创建HTTP服务器
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
		// 唯一键冲突要以gorm.ErrDuplicatedKey暴露，标签发号重试依赖它
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
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
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func registerRoutes(r *gin.Engine, cfg *config.Config, idH *idhandler.Handlers, invH *invhandler.Handlers, tagH *rechandler.TagHandler, m4H *m4handler.Handlers) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// API v1
	v1 := r.Group("/api/v1")
	{
		// 认证 (无需登录)
		auth := v1.Group("/auth")
		{
			auth.POST("/login", idH.Auth.Login)
			auth.POST("/refresh", idH.Auth.RefreshToken)
		}

		// 需要认证的接口
		authorized := v1.Group("")
		authorized.Use(middleware.JWTAuth(cfg.JWT.Secret))
		{
			// 当前用户
			authorized.GET("/auth/me", idH.Auth.GetCurrentUser)
			authorized.POST("/auth/logout", idH.Auth.Logout)

			// 用户管理。本社限定，变更操作需要管理员能力
			users := authorized.Group("/users")
			users.Use(middleware.RequireInternal())
			{
				users.GET("", idH.User.List)
				users.GET("/:id", idH.User.Get)

				userAdmin := users.Group("")
				userAdmin.Use(middleware.RequireCapability(identityentity.CapAdmin))
				{
					userAdmin.POST("", idH.User.Create)
					userAdmin.PUT("/:id/status", idH.User.UpdateStatus)
					userAdmin.PUT("/:id/capabilities", idH.User.GrantCapabilities)
				}
			}

			// 厂商目录（本社限定）
			vendors := authorized.Group("/vendors")
			vendors.Use(middleware.RequireInternal())
			{
				vendors.GET("", invH.Catalog.ListVendors)
				vendors.POST("", invH.Catalog.CreateVendor)
				vendors.GET("/:id", invH.Catalog.GetVendor)
			}

			// 品目目录。读取全员可见（厂商在服务层限定到本司品目），登记本社限定
			parts := authorized.Group("/parts")
			{
				parts.GET("", invH.Catalog.ListParts)
				parts.GET("/lookup", middleware.RequireInternal(), invH.Catalog.LookupPart)
				parts.POST("", middleware.RequireInternal(), invH.Catalog.CreatePart)
				parts.GET("/:id", invH.Catalog.GetPart)

				// 在库投影。窗口规则按用户类别在服务层收敛
				parts.GET("/:id/projection", invH.Projection.Get)
				parts.GET("/:id/projection/export", invH.Projection.Export)

				// 在库台账读取（本社限定）
				parts.GET("/:id/stock", middleware.RequireInternal(), invH.Stock.GetLedger)
				parts.GET("/:id/stock/base", middleware.RequireInternal(), invH.Stock.GetBase)

				// 台账写入（本社+stock:ops能力）
				stockOps := parts.Group("")
				stockOps.Use(middleware.RequireInternal(), middleware.RequireCapability(identityentity.CapStockOps))
				{
					stockOps.PUT("/:id/stock/base", invH.Stock.SetBase)
					stockOps.POST("/:id/stock/adjust", invH.Stock.Adjust)
					stockOps.PUT("/:id/stock/demand", invH.Stock.UpsertDemand)
					stockOps.POST("/:id/stock/incoming", invH.Stock.AddIncoming)
				}

				// BOM所要量
				parts.GET("/:id/bom", middleware.RequireInternal(), invH.Requirement.ListBOM)
				parts.POST("/:id/bom/import", middleware.RequireInternal(), invH.Requirement.ImportBOM)
				parts.GET("/:id/bom/explode", middleware.RequireInternal(), invH.Requirement.Explode)
			}

			// 欠品一览（厂商在服务层限定到本司品目）
			authorized.GET("/shortages", invH.Projection.ListShortages)

			// 台账批量上传（本社+stock:ops能力）
			stockImport := authorized.Group("/stock")
			stockImport.Use(middleware.RequireInternal(), middleware.RequireCapability(identityentity.CapStockOps))
			{
				stockImport.POST("/import", invH.Stock.ImportStockBook)
				stockImport.POST("/demand-plan", invH.Stock.ImportDemandPlan)
			}

			// 生产计划→所要量展开
			authorized.POST("/requirements/apply",
				middleware.RequireInternal(),
				middleware.RequireCapability(identityentity.CapStockOps),
				invH.Requirement.ApplyPlan)

			// 注文。登记与取入本社限定，厂商可查看和应答本司注文
			orders := authorized.Group("/orders")
			{
				orders.GET("", invH.Order.List)
				orders.POST("", middleware.RequireInternal(), invH.Order.Register)
				orders.POST("/import", middleware.RequireInternal(), invH.Order.ImportCSV)
				orders.POST("/import-xlsx", middleware.RequireInternal(), invH.Order.ImportXLSX)
				orders.POST("/ingest-sftp", middleware.RequireInternal(), invH.Order.PullMailbox)
				orders.GET("/:id", invH.Order.Get)
				orders.POST("/:id/acknowledge", invH.Order.Acknowledge)
				orders.POST("/:id/close", middleware.RequireInternal(), invH.Order.Close)
			}

			// 工程票（仓库现场操作，本社限定）
			tags := authorized.Group("/tags")
			tags.Use(middleware.RequireInternal())
			{
				tags.POST("", tagH.IssueTag)
				tags.GET("", tagH.ListTags)
				tags.GET("/:tagNo", tagH.GetTag)
				tags.POST("/:tagNo/scan", tagH.ScanTag)
				tags.POST("/:tagNo/cancel", tagH.CancelTag)
			}

			// 原料标签（仓库现场操作，本社限定）
			labels := authorized.Group("/labels")
			labels.Use(middleware.RequireInternal())
			{
				labels.POST("", tagH.IssueLabel)
				labels.GET("", tagH.ListLabels)
				labels.GET("/:tagNo", tagH.GetLabel)
				labels.POST("/:tagNo/scan", tagH.ScanLabel)
				labels.POST("/:tagNo/dispose", tagH.DisposeLabel)
			}

			// 4M变更申请。厂商可见范围在服务层限定，审批动作需要对应能力
			m4Requests := authorized.Group("/m4-requests")
			{
				m4Requests.POST("", m4H.M4.Create)
				m4Requests.GET("", m4H.M4.List)
				m4Requests.GET("/:id", m4H.M4.Get)
				m4Requests.PUT("/:id", m4H.M4.Update)
				m4Requests.GET("/:id/changelogs", m4H.M4.ListChangeLogs)
				m4Requests.POST("/:id/submit", m4H.M4.Submit)
				m4Requests.POST("/:id/review1", middleware.RequireCapability(identityentity.CapM4Review1), m4H.M4.ApproveReview1)
				m4Requests.POST("/:id/review2", middleware.RequireCapability(identityentity.CapM4Review2), m4H.M4.ApproveReview2)
				m4Requests.POST("/:id/approve", middleware.RequireCapability(identityentity.CapM4Approve), m4H.M4.FinalApprove)
				m4Requests.POST("/:id/reject", m4H.M4.Reject)
				m4Requests.POST("/:id/resubmit", m4H.M4.Resubmit)

				// 正式文件派生与查看
				m4Requests.POST("/:id/derive", middleware.RequireInternal(), m4H.Formal.Derive)
				m4Requests.GET("/:id/formal", m4H.Formal.GetByRequest)
			}

			// 正式文件。检查项目操作在服务层限定本社担当
			formals := authorized.Group("/formal-documents")
			{
				formals.GET("", m4H.Formal.List)
				formals.GET("/:id", m4H.Formal.Get)
				formals.POST("/:id/items/:itemID/complete", m4H.Formal.CompleteItem)
				formals.POST("/:id/complete", m4H.Formal.Complete)
				formals.POST("/:id/attachments", m4H.Formal.UploadAttachment)
				formals.GET("/:id/attachments", m4H.Formal.ListAttachments)
				formals.GET("/:id/attachments/:attachmentID/url", m4H.Formal.AttachmentURL)
			}
		}
	}
}
