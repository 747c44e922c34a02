package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-adp-archiver/api/swagger"
	"github.com/noah-isme/sma-adp-archiver/internal/handler"
	"github.com/noah-isme/sma-adp-archiver/internal/middleware"
	"github.com/noah-isme/sma-adp-archiver/internal/models"
	"github.com/noah-isme/sma-adp-archiver/internal/repository"
	"github.com/noah-isme/sma-adp-archiver/internal/service"
	"github.com/noah-isme/sma-adp-archiver/pkg/cache"
	"github.com/noah-isme/sma-adp-archiver/pkg/config"
	"github.com/noah-isme/sma-adp-archiver/pkg/database"
	appErrors "github.com/noah-isme/sma-adp-archiver/pkg/errors"
	"github.com/noah-isme/sma-adp-archiver/pkg/export"
	"github.com/noah-isme/sma-adp-archiver/pkg/jobs"
	"github.com/noah-isme/sma-adp-archiver/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-adp-archiver/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-adp-archiver/pkg/middleware/requestid"
	"github.com/noah-isme/sma-adp-archiver/pkg/render"
	"github.com/noah-isme/sma-adp-archiver/pkg/response"
	"github.com/noah-isme/sma-adp-archiver/pkg/storage"
	"github.com/noah-isme/sma-adp-archiver/pkg/workspace"
)

// @title SMA ADP Content Archiver
// @version 0.2.0
// @description Asynchronous zip exports of assignment submissions, ePortfolios and course folders
// @BasePath /api/v1
// @schemes http

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Sugar().Fatalw("archiver stopped", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, progress cache disabled", "addr", cache.Addr(cfg.Redis), "error", err)
		redisClient = nil
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	exportsRepo := repository.NewContentExportRepository(db)
	contentRepo := repository.NewCourseContentRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	userRepo := repository.NewUserRepository(db)

	metrics := service.NewMetricsService()
	permissions := service.NewPermissionService(membershipRepo, service.PermissionServiceConfig{
		CacheTTL:  cfg.Permissions.CacheTTL,
		CacheSize: cfg.Permissions.CacheSize,
	}, logr)

	exportsCfg := cfg.ContentExports
	renderer, err := render.NewHTMLRenderer(exportsCfg.TemplateDir)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	attachments, err := storage.NewLocalStorage(exportsCfg.AttachmentsDir)
	if err != nil {
		return fmt.Errorf("open attachment storage: %w", err)
	}
	archives, err := storage.NewLocalStorage(exportsCfg.StorageDir)
	if err != nil {
		return fmt.Errorf("open archive storage: %w", err)
	}
	workspaces, err := workspace.NewManager(exportsCfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("prepare workspaces: %w", err)
	}
	logr.Info("content export storage ready",
		zap.String("archives", exportsCfg.StorageDir),
		zap.String("workspaces", workspaces.BaseDir()),
	)
	var static fs.FS
	if exportsCfg.StaticDir != "" {
		static = os.DirFS(exportsCfg.StaticDir)
	}

	zipper := service.NewContentZipper(service.ContentZipperDeps{
		Exports:    exportsRepo,
		Content:    contentRepo,
		Users:      userRepo,
		Oracle:     permissions,
		Renderer:   renderer,
		Blobs:      attachments,
		Publisher:  archives,
		Workspaces: workspaces,
		Cache:      cacheRepo,
		Manifests: map[string]service.ManifestRenderer{
			"csv": export.NewCSVExporter(),
			"pdf": export.NewPDFExporter(),
		},
		Metrics: metrics,
	}, service.ContentZipperConfig{
		CompressionLevel: exportsCfg.CompressionLevel,
		DefaultManifest:  exportsCfg.ManifestFormat,
		ProgressCacheTTL: exportsCfg.ProgressCacheTTL,
		StaticAssets:     static,
	}, logr)
	zipper.Walker().OnRestrictedFolder = func(folder models.Folder, dirs []string) {
		logr.Debug("restricted folder reached", zap.String("folder_id", folder.ID), zap.Strings("path", dirs))
	}

	worker := service.NewContentExportWorker(zipper, logr)
	queue := jobs.NewQueue("content-exports", worker.Handle, jobs.QueueConfig{
		Workers:    exportsCfg.WorkerConcurrency,
		BufferSize: 256,
		MaxRetries: exportsCfg.WorkerRetries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	metrics.TrackQueueDepth(queue.Depth)

	exportsSvc := service.NewContentExportService(service.ContentExportServiceDeps{
		Exports:    exportsRepo,
		Content:    contentRepo,
		Oracle:     permissions,
		Queue:      queue,
		Cache:      cacheRepo,
		Files:      archives,
		Workspaces: workspaces,
		Signer:     storage.NewSignedURLSigner(exportsCfg.SignedURLSecret, exportsCfg.SignedURLTTL),
		Metrics:    metrics,
	}, validator.New(), service.ContentExportServiceConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       exportsCfg.ResultTTL,
		CleanupInterval: exportsCfg.CleanupInterval,
	}, logr)

	if exportsCfg.Enabled {
		queue.Start(ctx)
		defer queue.Stop()
		exportsSvc.RecoverPending(ctx)
		exportsSvc.StartCleanup(ctx)
	}

	r := buildRouter(cfg, logr, metrics, service.NewTokenService(cfg.JWT.Secret), handler.NewContentExportHandler(exportsSvc))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "content_exports", exportsCfg.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logr.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func buildRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, tokens *service.TokenService, exports *handler.ContentExportHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	group := api.Group("/content-exports")
	if !cfg.ContentExports.Enabled {
		group.Any("/*any", func(c *gin.Context) {
			response.Error(c, appErrors.ErrFeatureOff)
		})
		return r
	}

	group.GET("/download/:token", exports.Download)

	authed := group.Group("", middleware.JWT(tokens))
	authed.POST("", exports.Create)
	authed.GET("/:id", exports.Status)
	authed.POST("/:id/retry", exports.Retry)
	authed.GET("/:id/download-url", exports.DownloadURL)

	admin := authed.Group("/maintenance", middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	admin.POST("/recover", exports.Recover)
	admin.POST("/cleanup", exports.Cleanup)
	return r
}
