package assets

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Handler manages asset endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers asset routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
}

type createRequest struct {
	Number    string  `json:"number" validate:"required,max=64"`
	Name      string  `json:"name" validate:"required,max=200"`
	AssetType string  `json:"assetType" validate:"max=64"`
	Status    Status  `json:"status" validate:"omitempty,oneof=operational in_maintenance down"`
	Meter     float64 `json:"meter" validate:"gte=0"`
}

type updateRequest struct {
	Name      *string  `json:"name" validate:"omitempty,max=200"`
	AssetType *string  `json:"assetType" validate:"omitempty,max=64"`
	Status    *Status  `json:"status" validate:"omitempty,oneof=operational in_maintenance down"`
	Meter     *float64 `json:"meter" validate:"omitempty,gte=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	page, perPage := shared.PageParams(r.URL.Query())
	items, total, err := h.service.List(r.Context(), orgID, ListFilters{
		Status: Status(r.URL.Query().Get("status")),
		Search: r.URL.Query().Get("search"),
		Limit:  perPage,
		Offset: shared.Offset(page, perPage),
	})
	if err != nil {
		h.fail(w, "list assets", err)
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
	asset, err := h.service.Create(r.Context(), orgID, CreateInput(req))
	if err != nil {
		h.fail(w, "create asset", err)
		return
	}
	httpx.Data(w, http.StatusCreated, asset)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asset, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get asset", err)
		return
	}
	httpx.Data(w, http.StatusOK, asset)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	asset, err := h.service.Update(r.Context(), orgID, id, UpdateInput(req))
	if err != nil {
		h.fail(w, "update asset", err)
		return
	}
	httpx.Data(w, http.StatusOK, asset)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
