package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/safeguard-ngo/impact-api/api/swagger"
	"github.com/safeguard-ngo/impact-api/internal/handler"
	"github.com/safeguard-ngo/impact-api/internal/middleware"
	"github.com/safeguard-ngo/impact-api/internal/models"
	"github.com/safeguard-ngo/impact-api/internal/repository"
	"github.com/safeguard-ngo/impact-api/internal/service"
	"github.com/safeguard-ngo/impact-api/pkg/cache"
	"github.com/safeguard-ngo/impact-api/pkg/config"
	"github.com/safeguard-ngo/impact-api/pkg/database"
	"github.com/safeguard-ngo/impact-api/pkg/logger"
	"github.com/safeguard-ngo/impact-api/pkg/mailer"
	corsmiddleware "github.com/safeguard-ngo/impact-api/pkg/middleware/cors"
	reqidmiddleware "github.com/safeguard-ngo/impact-api/pkg/middleware/requestid"
	"github.com/safeguard-ngo/impact-api/pkg/storage"
	"github.com/safeguard-ngo/impact-api/pkg/translate"
)

// @title Impact API
// @version 1.0.0
// @description Humanitarian impact data submission and approval workflow service
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Env, cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("postgres connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("redis connection failed", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	liveMetricRepo := repository.NewLiveMetricRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "impact-api",
		Audience:           []string{"impact-api"},
	})

	submissionSvc := service.NewSubmissionService(submissionRepo, userRepo, cacheRepo, validate, logr).WithMetrics(metricsSvc)
	dashboardSvc := service.NewDashboardService(liveMetricRepo, cacheRepo, cfg.Dashboard.CacheTTL, logr).WithMetrics(metricsSvc)
	exportSvc := service.NewExportService(dashboardSvc)

	translateHandler := handler.NewTranslateHandler(nil)
	if cfg.Translation.Enabled {
		translationSvc := service.NewTranslationService(
			translate.NewClient(cfg.Translation.BaseURL, cfg.Translation.Timeout), logr)
		translateHandler = handler.NewTranslateHandler(translationSvc)
	}

	fileStore, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("attachment storage init failed", "error", err)
	}
	attachmentSvc := service.NewAttachmentService(
		attachmentRepo, submissionRepo, fileStore, userRepo, validate,
		cfg.Attachments.MaxFileSizeBytes, logr)
	if cfg.Attachments.SignedURLSecret != "" {
		attachmentSvc = attachmentSvc.WithSigner(storage.NewSignedURLSigner(
			cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL))
	}

	if cfg.Reminders.Enabled {
		var mail mailer.Mailer
		if cfg.Reminders.SendgridAPIKey != "" {
			mail = mailer.NewSendgridMailer(cfg.Reminders.SendgridAPIKey,
				cfg.Reminders.FromName, cfg.Reminders.FromEmail)
		} else {
			mail = mailer.NewConsoleMailer(logr)
		}
		reminderSvc := service.NewReminderService(userRepo, mail,
			cfg.Reminders.CutoffDay, cfg.Reminders.CheckInterval, logr)
		reminderSvc.Start(context.Background())
		defer reminderSvc.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	submissionHandler := handler.NewSubmissionHandler(submissionSvc)
	attachmentHandler := handler.NewAttachmentHandler(attachmentSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)

	submissions := api.Group("/submissions", middleware.JWT(authSvc))
	submissions.POST("", middleware.RequireRoles(models.RoleAgent), submissionHandler.Create)
	submissions.GET("", submissionHandler.List)
	submissions.GET("/:id", submissionHandler.Get)
	submissions.POST("/:id/changes", middleware.RequireRoles(models.RoleAgent), submissionHandler.RecordChange)
	submissions.POST("/:id/metrics/:field/approve",
		middleware.RequireRoles(models.RolePartner, models.RoleAdmin), submissionHandler.ApproveMetric)
	submissions.POST("/:id/metrics/:field/reject",
		middleware.RequireRoles(models.RolePartner, models.RoleAdmin), submissionHandler.RejectMetric)
	submissions.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin), submissionHandler.FinalApprove)
	submissions.POST("/:id/reject", middleware.RequireRoles(models.RoleAdmin), submissionHandler.FinalReject)
	submissions.POST("/:id/attachments", middleware.RequireRoles(models.RoleAgent), attachmentHandler.Create)
	submissions.GET("/:id/attachments", attachmentHandler.List)

	live := api.Group("/metrics", middleware.JWT(authSvc))
	live.GET("/live", dashboardHandler.LiveMetrics)
	live.GET("/live/export", middleware.RequireRoles(models.RoleAdmin),
		middleware.Audit(userRepo, "EXPORT", "live_metrics"), dashboardHandler.Export)

	api.POST("/translate", middleware.JWT(authSvc), translateHandler.Translate)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
