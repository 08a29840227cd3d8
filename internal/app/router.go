package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fleetdesk/fleetdesk/internal/assets"
	"github.com/fleetdesk/fleetdesk/internal/audit"
	"github.com/fleetdesk/fleetdesk/internal/dashboard"
	"github.com/fleetdesk/fleetdesk/internal/dvir"
	"github.com/fleetdesk/fleetdesk/internal/estimates"
	"github.com/fleetdesk/fleetdesk/internal/observability"
	"github.com/fleetdesk/fleetdesk/internal/organizations"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/pm"
	"github.com/fleetdesk/fleetdesk/internal/procurement"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
	"github.com/fleetdesk/fleetdesk/jobs"
)

// ReadinessCheck reports whether a dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Checks  map[string]ReadinessCheck

	OrganizationHandler *organizations.Handler
	AssetHandler        *assets.Handler
	PartHandler         *parts.Handler
	WorkOrderHandler    *workorders.Handler
	ProcurementHandler  *procurement.Handler
	EstimateHandler     *estimates.Handler
	PMHandler           *pm.Handler
	DVIRHandler         *dvir.Handler
	DashboardHandler    *dashboard.Handler
	AuditHandler        *audit.Handler
	JobHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router with FleetDesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(params.Logger, params.Checks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.OrganizationHandler != nil {
			r.Route("/organizations", params.OrganizationHandler.MountAdminRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(Tenant)
			if params.OrganizationHandler != nil {
				r.Route("/organization", params.OrganizationHandler.MountRoutes)
			}
			if params.AssetHandler != nil {
				r.Route("/assets", params.AssetHandler.MountRoutes)
			}
			if params.PartHandler != nil {
				r.Route("/parts", params.PartHandler.MountRoutes)
				r.Route("/imports", params.PartHandler.MountImportRoutes)
			}
			if params.WorkOrderHandler != nil {
				r.Route("/workorders", params.WorkOrderHandler.MountRoutes)
			}
			if params.ProcurementHandler != nil {
				r.Route("/requisitions", params.ProcurementHandler.MountRequisitionRoutes)
				r.Route("/purchase-orders", params.ProcurementHandler.MountPurchaseOrderRoutes)
			}
			if params.EstimateHandler != nil {
				r.Route("/estimates", params.EstimateHandler.MountRoutes)
			}
			if params.PMHandler != nil {
				r.Route("/pm-schedules", params.PMHandler.MountRoutes)
			}
			if params.DVIRHandler != nil {
				r.Route("/dvirs", params.DVIRHandler.MountRoutes)
			}
			if params.DashboardHandler != nil {
				r.Route("/dashboard", params.DashboardHandler.MountRoutes)
			}
			if params.AuditHandler != nil {
				r.Route("/audit-logs", params.AuditHandler.MountRoutes)
			}
		})
	})

	return r
}

func readiness(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		result := make(map[string]string, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		httpx.JSON(w, status, result)
	}
}
