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
	"github.com/redis/go-redis/v9"

	"github.com/fleetdesk/fleetdesk/internal/app"
	"github.com/fleetdesk/fleetdesk/internal/assets"
	"github.com/fleetdesk/fleetdesk/internal/audit"
	"github.com/fleetdesk/fleetdesk/internal/dashboard"
	"github.com/fleetdesk/fleetdesk/internal/dvir"
	"github.com/fleetdesk/fleetdesk/internal/estimates"
	"github.com/fleetdesk/fleetdesk/internal/numbering"
	"github.com/fleetdesk/fleetdesk/internal/observability"
	"github.com/fleetdesk/fleetdesk/internal/organizations"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/platform/cache"
	"github.com/fleetdesk/fleetdesk/internal/platform/db"
	"github.com/fleetdesk/fleetdesk/internal/pm"
	"github.com/fleetdesk/fleetdesk/internal/procurement"
	"github.com/fleetdesk/fleetdesk/internal/shared"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
	"github.com/fleetdesk/fleetdesk/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.PGApplySchema {
		if err := db.EnsureSchema(ctx, dbpool); err != nil {
			logger.Error("apply schema", slog.Any("error", err))
			os.Exit(1)
		}
	}

	checks := map[string]app.ReadinessCheck{"postgres": dbpool.Ping}

	// Without Redis the API still serves; conversions lose replay protection.
	var idempotencyStore *shared.IdempotencyStore
	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, idempotency disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		idempotencyStore = shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL)
		checks["redis"] = func(ctx context.Context) error { return redisPing(ctx, redisClient) }
	}

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	numbers := numbering.NewGenerator(dbpool)

	orgService := organizations.NewService(organizations.NewRepository(dbpool))
	assetService := assets.NewService(assets.NewRepository(dbpool))
	partService := parts.NewService(parts.NewRepository(dbpool))
	workOrderService := workorders.NewService(workorders.NewRepository(dbpool), numbers, partService, auditLogger)
	procurementService := procurement.NewService(procurement.NewRepository(dbpool), partService, numbers, approvalRecorder, auditLogger)
	estimateService := estimates.NewService(estimates.NewRepository(dbpool), workOrderService, partService, numbers, approvalRecorder, auditLogger)
	pmService := pm.NewService(pm.NewRepository(dbpool), assetService, workOrderService, auditLogger)
	dvirService := dvir.NewService(dvir.NewRepository(dbpool), assetService, workOrderService, auditLogger)
	dashboardService := dashboard.NewService(assetService, workOrderService, partService, procurementService, estimateService)

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(cfg.AsynqRedis())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Metrics:             observability.NewMetrics(),
		Checks:              checks,
		OrganizationHandler: organizations.NewHandler(logger, orgService),
		AssetHandler:        assets.NewHandler(logger, assetService),
		PartHandler:         parts.NewHandler(logger, partService),
		WorkOrderHandler:    workorders.NewHandler(logger, workOrderService),
		ProcurementHandler:  procurement.NewHandler(logger, procurementService, idempotencyStore),
		EstimateHandler:     estimates.NewHandler(logger, estimateService, orgService, idempotencyStore),
		PMHandler:           pm.NewHandler(logger, pmService),
		DVIRHandler:         dvir.NewHandler(logger, dvirService),
		DashboardHandler:    dashboard.NewHandler(logger, dashboardService),
		AuditHandler:        audit.NewHandler(logger, audit.NewService(audit.NewRepository(dbpool))),
		JobHandler:          jobs.NewHandler(inspector, jobClient, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
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

func redisPing(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
