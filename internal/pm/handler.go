package pm

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Handler exposes PM schedule endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers PM routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/generate", h.generate)
	r.Get("/{id}", h.get)
	r.Post("/{id}/serviced", h.serviced)
	r.Post("/{id}/deactivate", h.deactivate)
}

type createRequest struct {
	AssetID       int64    `json:"assetId" validate:"required,gt=0"`
	Title         string   `json:"title" validate:"required,max=200"`
	VMRSCode      string   `json:"vmrsCode" validate:"max=32"`
	IntervalDays  *int     `json:"intervalDays" validate:"omitempty,gt=0"`
	IntervalMeter *float64 `json:"intervalMeter" validate:"omitempty,gt=0"`
}

type servicedRequest struct {
	At    *time.Time `json:"at"`
	Meter *float64   `json:"meter" validate:"omitempty,gte=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	q := r.URL.Query()
	page, perPage := shared.PageParams(q)
	filters := ListFilters{
		ActiveOnly: q.Get("active") == "true",
		Limit:      perPage,
		Offset:     shared.Offset(page, perPage),
	}
	if raw := q.Get("asset_id"); raw != "" {
		assetID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, httpx.CodeBadRequest, "Bad Request", "invalid asset_id")
			return
		}
		filters.AssetID = assetID
	}
	items, total, err := h.service.List(r.Context(), orgID, filters)
	if err != nil {
		h.fail(w, "list pm schedules", err)
		return
	}
	httpx.Page(w, items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	var req createRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.service.Create(r.Context(), orgID, CreateInput(req))
	if err != nil {
		h.fail(w, "create pm schedule", err)
		return
	}
	httpx.Data(w, http.StatusCreated, sched)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get pm schedule", err)
		return
	}
	httpx.Data(w, http.StatusOK, sched)
}

func (h *Handler) serviced(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req servicedRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeValid(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	sched, err := h.service.MarkServiced(r.Context(), orgID, id, ServiceInput(req))
	if err != nil {
		h.fail(w, "mark pm serviced", err)
		return
	}
	httpx.Data(w, http.StatusOK, sched)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sched, err := h.service.Deactivate(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "deactivate pm schedule", err)
		return
	}
	httpx.Data(w, http.StatusOK, sched)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	summary, err := h.service.GenerateDue(r.Context(), orgID, time.Now())
	if err != nil {
		if len(summary.Generated) == 0 && summary.Skipped == 0 {
			h.fail(w, "generate pm work orders", err)
			return
		}
		// Some schedules went through; report the rest as warnings.
		h.logger.Warn("pm generation partially failed", slog.Int64("org_id", orgID), slog.Any("error", err))
		summary.Warnings = append(summary.Warnings, err.Error())
	}
	httpx.Data(w, http.StatusOK, summary, summary.Warnings...)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
