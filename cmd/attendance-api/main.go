package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-attendance-core/api/swagger"
	"github.com/noah-isme/sma-attendance-core/internal/dto"
	"github.com/noah-isme/sma-attendance-core/internal/handler"
	internalmiddleware "github.com/noah-isme/sma-attendance-core/internal/middleware"
	"github.com/noah-isme/sma-attendance-core/internal/repository"
	"github.com/noah-isme/sma-attendance-core/internal/service"
	"github.com/noah-isme/sma-attendance-core/pkg/cache"
	"github.com/noah-isme/sma-attendance-core/pkg/config"
	"github.com/noah-isme/sma-attendance-core/pkg/database"
	"github.com/noah-isme/sma-attendance-core/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-attendance-core/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-attendance-core/pkg/middleware/requestid"
)

// @title SMA Attendance Core API
// @version 1.0.0
// @description Attendance events, derived summaries and academic term lifecycle
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Cache.TermEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, read caches disabled", zap.Error(err))
			redisClient = nil
		}
	}

	metrics := service.NewMetricsService()
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)
	termCache := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TermTTL, logr, cfg.Cache.TermEnabled && redisClient != nil)

	eventRepo := repository.NewAttendanceEventRepository(db)
	summaryRepo := repository.NewAttendanceSummaryRepository(db)
	termRepo := repository.NewTermRepository(db)
	historyRepo := repository.NewTermHistoryRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	validate := dto.NewValidator()
	events := service.NewEventStore(eventRepo, studentRepo, validate, logr)
	summaries := service.NewSummaryMaintainer(summaryRepo, termRepo, eventRepo, logr)
	terms := service.NewTermRegistry(termRepo, termCache, validate, logr)
	archiver := service.NewTermArchiver(termRepo, eventRepo, summaryRepo, historyRepo, service.TermArchiverConfig{
		ExportEnabled: cfg.Histories.ExportEnabled,
	}, logr)
	coordinator := service.NewCoordinator(db, events, summaries, terms, archiver, studentRepo, cacheSvc, metrics, service.CoordinatorConfig{
		MaxAttempts: cfg.Coordinator.MaxAttempts,
		Timeout:     cfg.Coordinator.Timeout,
	}, logr)

	reconciler := service.NewReconcileService(coordinator, service.ReconcileConfig{
		Enabled:    cfg.Reconciler.Enabled,
		Workers:    cfg.Reconciler.Workers,
		Retries:    cfg.Reconciler.Retries,
		RetryDelay: cfg.Reconciler.RetryDelay,
	}, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	reconciler.Start(ctx)
	defer reconciler.Stop()

	checks := map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = cacheRepo.Ping
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	registerRoutes(api,
		handler.NewAttendanceHandler(coordinator),
		handler.NewTermHandler(coordinator, reconciler),
		handler.NewHistoryHandler(archiver),
		metricsHandler,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func registerRoutes(api *gin.RouterGroup, attendance *handler.AttendanceHandler, terms *handler.TermHandler, histories *handler.HistoryHandler, metrics *handler.MetricsHandler) {
	events := api.Group("/attendance/events")
	events.POST("", attendance.RecordEvent)
	events.GET("", attendance.ListEvents)
	events.PATCH("/:id", attendance.UpdateEvent)
	events.DELETE("/:id", attendance.DeleteEvent)

	summaries := api.Group("/attendance/summaries")
	summaries.GET("", attendance.GetSummary)
	summaries.POST("/recompute", attendance.RecomputeSummary)

	termGroup := api.Group("/terms")
	termGroup.POST("", terms.Create)
	termGroup.GET("", terms.List)
	termGroup.GET("/active", terms.GetActive)
	termGroup.GET("/:id", terms.Get)
	termGroup.POST("/:id/activate", terms.Activate)
	termGroup.POST("/:id/reconcile", terms.Reconcile)
	termGroup.DELETE("/:id", terms.Delete)

	historyGroup := api.Group("/term-histories")
	historyGroup.GET("", histories.List)
	historyGroup.GET("/:id", histories.Get)
	historyGroup.GET("/:id/export", histories.Export)

	api.GET("/system/metrics", metrics.System)
}
