package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/gearledger/gearledger/internal/app"
	"github.com/gearledger/gearledger/internal/batch"
	"github.com/gearledger/gearledger/internal/catalog"
	"github.com/gearledger/gearledger/internal/expiry"
	"github.com/gearledger/gearledger/internal/identity"
	"github.com/gearledger/gearledger/internal/issuance"
	jobmetrics "github.com/gearledger/gearledger/internal/jobs"
	"github.com/gearledger/gearledger/internal/platform/cache"
	"github.com/gearledger/gearledger/internal/platform/db"
	"github.com/gearledger/gearledger/internal/shared"
	"github.com/gearledger/gearledger/jobs"
)

// tracked wraps an asynq handler with run metrics.
func tracked(m *jobmetrics.Metrics, name string, h asynq.HandlerFunc) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		return m.Track(name).End(h(ctx, task))
	}
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
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

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	directory := identity.NewRepository(pool)

	catalogRepo := catalog.NewRepository(pool)
	catalogService := catalog.NewService(catalogRepo, auditLogger, nil)

	issuanceRepo := issuance.NewRepository(pool)
	issuanceService := issuance.NewService(issuanceRepo, catalogService, directory, auditLogger, idempotencyStore)

	batchRepo := batch.NewRepository(pool)
	progressStore := batch.NewRedisProgressStore(redisClient)
	batchService := batch.NewService(logger, batchRepo, issuanceService, progressStore, idempotencyStore)
	batchService.SetDefaultConcurrency(cfg.BatchMaxConcurrent)

	expiryRepo := expiry.NewRepository(pool)
	expiryService := expiry.NewService(expiryRepo, catalogService, issuanceService, cfg.ExpiryWarningWindow())

	metrics := jobmetrics.NewMetrics(nil)

	batchJob := batch.NewProcessJob(batchService, metrics, logger)
	overdueJob := issuance.NewOverdueScanJob(issuanceService, jobsClient, logger)
	expiryJob := expiry.NewScanJob(expiryService, jobsClient, logger)

	overdueTask, err := jobs.NewOverdueScanTask(jobs.OverdueScanPayload{})
	if err != nil {
		logger.Error("build overdue task", slog.Any("error", err))
		os.Exit(1)
	}
	expiryTask, err := jobs.NewExpiryScanTask(jobs.ExpiryScanPayload{WindowDays: cfg.ExpiryWarningWindowDays})
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeBatchProcess, Handler: tracked(metrics, "batch_process", batchJob.Handle)},
			{Type: jobs.TaskTypeOverdueScan, Handler: tracked(metrics, "overdue_scan", overdueJob.Handle)},
			{Type: jobs.TaskTypeExpiryScan, Handler: tracked(metrics, "expiry_scan", expiryJob.Handle)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
