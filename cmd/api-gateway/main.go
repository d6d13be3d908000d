package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/tale-download-api/internal/handler"
	"github.com/noah-isme/tale-download-api/internal/middleware"
	"github.com/noah-isme/tale-download-api/internal/repository"
	"github.com/noah-isme/tale-download-api/internal/service"
	"github.com/noah-isme/tale-download-api/pkg/cache"
	"github.com/noah-isme/tale-download-api/pkg/config"
	"github.com/noah-isme/tale-download-api/pkg/convert"
	"github.com/noah-isme/tale-download-api/pkg/database"
	"github.com/noah-isme/tale-download-api/pkg/fetch"
	"github.com/noah-isme/tale-download-api/pkg/jobs"
	"github.com/noah-isme/tale-download-api/pkg/logger"
	"github.com/noah-isme/tale-download-api/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

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

	if err := cfg.Validate(); err != nil {
		logr.Warn("configuration incomplete", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics := service.NewMetricsService()

	db, err := database.Open(cfg.Redshift)
	if err != nil {
		return fmt.Errorf("open warehouse: %w", err)
	}
	defer db.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		logr.Warn("warehouse unreachable, starting degraded", zap.Error(err))
	}
	cancelPing()
	documentRepo := repository.NewDocumentRepository(db)
	documentRepo.SetQueryTimeout(cfg.Redshift.QueryTimeout)

	var redisClient *redis.Client
	if cfg.Cache.Enabled || cfg.Exports.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cache and exports disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && redisClient != nil)

	fetcher := fetch.NewClient(fetch.ClientConfig{
		MaxAttempts:    cfg.Download.MaxAttempts,
		DefaultTimeout: cfg.Download.DefaultTimeout,
		MaxFileSize:    cfg.Download.MaxFileSizeBytes,
		ProbeSize:      cfg.Download.ProbeSize,
		UserAgent:      cfg.Download.UserAgent,
	}, nil, logr)
	converter := convert.NewConverter(convert.Config{
		MaxWidth:    cfg.Packager.ImageMaxW,
		MaxHeight:   cfg.Packager.ImageMaxH,
		JPEGQuality: cfg.Packager.JPEGQuality,
	}, logr)

	packager := service.NewPackageService(fetcher, converter, service.PackageConfig{Concurrency: cfg.Packager.Concurrency}, metrics, logr)
	documents := service.NewDocumentService(documentRepo, fetcher, converter, cacheSvc, validator.New(), service.DocumentServiceConfig{
		MaxRecords: cfg.Packager.MaxRecords,
	}, logr)

	var (
		exports *handler.ExportHandler
		queue   *jobs.Queue
	)
	if cfg.Exports.Enabled && redisClient != nil {
		exportSvc, q, err := buildExports(ctx, cfg, redisClient, documents, packager, metrics, logr)
		if err != nil {
			return err
		}
		queue = q
		exports = handler.NewExportHandler(exportSvc, logr)
	} else {
		exports = handler.NewExportHandler(nil, logr)
	}

	var auth middleware.TokenValidator
	if cfg.Auth.Enabled {
		auth = service.NewAuthService(service.AuthConfig{Secret: cfg.Auth.Secret}, logr)
	}

	var cachePinger handler.Pinger
	if redisClient != nil {
		cachePinger = cacheRepo
	}

	router := newRouter(cfg, logr, routes{
		health:    handler.NewHealthHandler(documents, cachePinger, cfg.Version, logr),
		documents: handler.NewDocumentHandler(documents),
		filters:   handler.NewFilterHandler(documents),
		packages:  handler.NewPackageHandler(documents, packager, logr),
		exports:   exports,
		metrics:   handler.NewMetricsHandler(metrics),
		auth:      auth,
		observer:  metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if queue != nil {
			queue.Stop()
		}
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
	if queue != nil {
		queue.Stop()
	}
	return nil
}

func buildExports(ctx context.Context, cfg *config.Config, client *redis.Client, documents *service.DocumentService, packager *service.PackageService, metrics *service.MetricsService, logr *zap.Logger) (*service.ExportService, *jobs.Queue, error) {
	var store storage.ArchiveStore
	switch cfg.Exports.StorageDriver {
	case config.StorageDriverS3:
		s3Store, err := storage.NewS3Storage(ctx, cfg.S3, logr)
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 storage: %w", err)
		}
		store = s3Store
	default:
		local, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			return nil, nil, fmt.Errorf("init export storage: %w", err)
		}
		store = local
	}

	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	jobRepo := repository.NewExportJobRepository(client, 2*cfg.Exports.ResultTTL)
	exportSvc := service.NewExportService(jobRepo, documents, nil, store, signer, service.ExportServiceConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.ResultTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
	}, logr)
	worker := service.NewExportWorker(jobRepo, documents, packager, store, signer, exportSvc, metrics, cfg.Exports.WorkerRetries, logr)

	queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
	})
	exportSvc.AttachQueue(queue)
	queue.Start(ctx)
	exportSvc.RecoverPendingJobs(ctx)
	exportSvc.StartCleanup(ctx)
	logr.Info("exports enabled", zap.String("storage", cfg.Exports.StorageDriver))
	return exportSvc, queue, nil
}
