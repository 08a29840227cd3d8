package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fleetdesk/fleetdesk/internal/app"
	"github.com/fleetdesk/fleetdesk/internal/assets"
	jobmetrics "github.com/fleetdesk/fleetdesk/internal/jobs"
	"github.com/fleetdesk/fleetdesk/internal/numbering"
	"github.com/fleetdesk/fleetdesk/internal/observability"
	"github.com/fleetdesk/fleetdesk/internal/organizations"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/platform/db"
	"github.com/fleetdesk/fleetdesk/internal/pm"
	"github.com/fleetdesk/fleetdesk/internal/shared"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
	"github.com/fleetdesk/fleetdesk/jobs"
)

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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditLogger := shared.NewAuditLogger(pool)
	numbers := numbering.NewGenerator(pool)
	orgService := organizations.NewService(organizations.NewRepository(pool))
	assetService := assets.NewService(assets.NewRepository(pool))
	partService := parts.NewService(parts.NewRepository(pool))
	workOrderService := workorders.NewService(workorders.NewRepository(pool), numbers, partService, auditLogger)
	pmService := pm.NewService(pm.NewRepository(pool), assetService, workOrderService, auditLogger)

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	pmJob := jobs.NewPMScanJob(pmService, logger, jobMetrics)
	classifyJob := jobs.NewPartsClassifyJob(orgService, partService, logger, jobMetrics)

	pmTask, err := jobs.NewPMScanTask(jobs.PMScanPayload{})
	if err != nil {
		logger.Error("build pm scan task", slog.Any("error", err))
		os.Exit(1)
	}
	classifyTask, err := jobs.NewPartsClassifyTask(jobs.PartsClassifyPayload{})
	if err != nil {
		logger.Error("build parts classify task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cfg.AsynqRedis(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPMScan, Handler: pmJob.Handle},
			{Type: jobs.TaskPartsClassify, Handler: classifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.PMScanCron, Task: pmTask, Options: []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)}},
			{Spec: cfg.PartsClassifyCron, Task: classifyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting worker metrics", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
