package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gearledger/gearledger/internal/app"
	"github.com/gearledger/gearledger/internal/batch"
	"github.com/gearledger/gearledger/internal/catalog"
	"github.com/gearledger/gearledger/internal/expiry"
	"github.com/gearledger/gearledger/internal/identity"
	"github.com/gearledger/gearledger/internal/issuance"
	"github.com/gearledger/gearledger/internal/observability"
	"github.com/gearledger/gearledger/internal/platform/cache"
	"github.com/gearledger/gearledger/internal/platform/db"
	"github.com/gearledger/gearledger/internal/shared"
	"github.com/gearledger/gearledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	directory := identity.NewRepository(pool)
	identityMiddleware := identity.Middleware{Directory: directory, Logger: logger}

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger, metrics)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	issuanceRepo := issuance.NewRepository(pool)
	issuanceService := issuance.NewService(issuanceRepo, catalogService, directory, auditLogger, idempotencyStore)
	issuanceHandler := issuance.NewHandler(logger, issuanceService)

	batchRepo := batch.NewRepository(pool)
	progressStore := batch.NewRedisProgressStore(redisClient)
	batchService := batch.NewService(logger, batchRepo, issuanceService, progressStore, idempotencyStore)
	batchService.SetDefaultConcurrency(cfg.BatchMaxConcurrent)
	batchHandler := batch.NewHandler(logger, batchService, jobsClient)

	expiryRepo := expiry.NewRepository(pool)
	expiryService := expiry.NewService(expiryRepo, catalogService, issuanceService, cfg.ExpiryWarningWindow())
	expiryHandler := expiry.NewHandler(logger, expiryService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Identity:        identityMiddleware,
		CatalogHandler:  catalogHandler,
		IssuanceHandler: issuanceHandler,
		BatchHandler:    batchHandler,
		ExpiryHandler:   expiryHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
