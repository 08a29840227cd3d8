package organizations

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Handler exposes organization settings endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers organization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.get)
	r.Get("/settings", h.getSettings)
	r.Put("/settings", h.putSettings)
}

// MountAdminRoutes registers tenant-less routes.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Post("/", h.create)
}

type createRequest struct {
	Name                    string `json:"name" validate:"required,max=200"`
	RequireEstimateApproval bool   `json:"requireEstimateApproval"`
}

type settingsRequest struct {
	RequireEstimateApproval *bool `json:"requireEstimateApproval" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	org, err := h.service.Create(r.Context(), req.Name, Settings{RequireEstimateApproval: req.RequireEstimateApproval})
	if err != nil {
		h.fail(w, "create organization", err)
		return
	}
	httpx.Data(w, http.StatusCreated, org)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	org, err := h.service.Get(r.Context(), orgID)
	if err != nil {
		h.fail(w, "get organization", err)
		return
	}
	httpx.Data(w, http.StatusOK, org)
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	settings, err := h.service.Settings(r.Context(), orgID)
	if err != nil {
		h.fail(w, "get settings", err)
		return
	}
	httpx.Data(w, http.StatusOK, settings)
}

func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	var req settingsRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.service.UpdateSettings(r.Context(), orgID, Settings{RequireEstimateApproval: *req.RequireEstimateApproval})
	if err != nil {
		h.fail(w, "update settings", err)
		return
	}
	httpx.Data(w, http.StatusOK, settings)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
