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

	_ "github.com/noah-isme/thesis-track-api/api/swagger"
	"github.com/noah-isme/thesis-track-api/internal/handler"
	"github.com/noah-isme/thesis-track-api/internal/repository"
	"github.com/noah-isme/thesis-track-api/internal/router"
	"github.com/noah-isme/thesis-track-api/internal/service"
	"github.com/noah-isme/thesis-track-api/internal/workflow"
	"github.com/noah-isme/thesis-track-api/pkg/cache"
	"github.com/noah-isme/thesis-track-api/pkg/config"
	"github.com/noah-isme/thesis-track-api/pkg/database"
	"github.com/noah-isme/thesis-track-api/pkg/jobs"
	"github.com/noah-isme/thesis-track-api/pkg/logger"
	"github.com/noah-isme/thesis-track-api/pkg/storage"
)

// @title Thesis Track API
// @version 1.0.0
// @description Multi-party thesis approval workflow service
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsService := service.NewMetricsService()

	var cacheService *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, redisErr := cache.NewRedis(cfg.Redis)
		if redisErr != nil {
			logr.Sugar().Warnw("redis unavailable, worklist cache disabled", "error", redisErr)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheService = service.NewCacheService(cacheRepo, metricsService, cfg.Cache.WorklistTTL, logr, true)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}

	uploadStorage, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}
	reportStorage, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report storage", "error", err)
	}

	uploadSigner := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)
	reportSigner := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Reports.RetentionTTL)

	userRepo := repository.NewUserRepository(db)
	thesisRepo := repository.NewThesisRepository(db)
	reportRepo := repository.NewReportRepository(db)

	authService := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "thesis-track-api",
	})

	engine := workflow.NewEngine()
	thesisService := service.NewThesisService(thesisRepo, userRepo, engine, uploadStorage, uploadSigner, cacheService, userRepo, metricsService, logr, service.ThesisServiceConfig{
		MaxFileSize:       cfg.Uploads.MaxFileSizeBytes,
		AllowedExtensions: cfg.Uploads.AllowedExtensions,
		APIPrefix:         cfg.APIPrefix,
		WorklistTTL:       cfg.Cache.WorklistTTL,
	})

	exportService := service.NewExportService(reportStorage, reportSigner, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.RetentionTTL,
	}, logr, nil, nil)

	reportWorker := service.NewReportWorker(reportRepo, thesisRepo, exportService, 3, logr)
	reportQueue := jobs.NewQueue("approval-reports", reportWorker.Handle, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: 3,
		Logger:     logr,
	})
	reportQueue.Start(ctx)
	defer reportQueue.Stop()

	reportService := service.NewReportService(reportRepo, thesisRepo, reportQueue, exportService, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.RetentionTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      3,
	})
	reportService.RecoverPendingJobs(ctx)
	reportService.StartCleanup(ctx)

	userService := service.NewUserService(userRepo, logr)

	deps := router.Dependencies{
		Config:         cfg,
		Logger:         logr,
		Auth:           handler.NewAuthHandler(authService),
		Theses:         handler.NewThesisHandler(thesisService),
		Reports:        handler.NewReportHandler(reportService),
		Users:          handler.NewUserHandler(userService),
		Metrics:        handler.NewMetricsHandler(metricsService),
		AuthService:    authService,
		MetricsService: metricsService,
		AuditRepo:      userRepo,
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router.New(deps),
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
