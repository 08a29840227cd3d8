package estimates

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/organizations"
	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// SettingsSource loads organization settings for the conversion gate.
type SettingsSource interface {
	Settings(ctx context.Context, orgID int64) (organizations.Settings, error)
}

// Handler manages estimate endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	settings    SettingsSource
	idempotency *shared.IdempotencyStore
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, settings SettingsSource, idem *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, settings: settings, idempotency: idem}
}

// MountRoutes registers estimate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/lines", h.addLine)
	r.Delete("/{id}/lines/{lineID}", h.removeLine)
	r.Post("/{id}/submit", h.transition(EventSubmit))
	r.Post("/{id}/approve", h.transition(EventApprove))
	r.Post("/{id}/reject", h.transition(EventReject))
	r.Get("/{id}/conversion", h.eligibility)
	r.With(httpx.Idempotent(h.idempotency, "estimate.convert", h.logger)).Post("/{id}/convert", h.convert)
}

type lineRequest struct {
	LineType    shared.LineType `json:"lineType" validate:"required,oneof=inventory_part zero_stock_part non_inventory_item labor"`
	PartID      *int64          `json:"partId" validate:"omitempty,gt=0"`
	Description string          `json:"description" validate:"required,max=500"`
	VMRSCode    string          `json:"vmrsCode" validate:"required,max=32"`
	VMRSTitle   string          `json:"vmrsTitle" validate:"max=200"`
	Quantity    float64         `json:"quantity" validate:"gt=0"`
	UnitCost    float64         `json:"unitCost" validate:"gte=0"`
}

type createRequest struct {
	AssetID *int64        `json:"assetId" validate:"omitempty,gt=0"`
	Title   string        `json:"title" validate:"required,max=200"`
	Lines   []lineRequest `json:"lines" validate:"omitempty,dive"`
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	page, perPage := shared.PageParams(r.URL.Query())
	items, total, err := h.service.List(r.Context(), orgID, ListFilters{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  perPage,
		Offset: shared.Offset(page, perPage),
	})
	if err != nil {
		h.fail(w, "list estimates", err)
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
	input := CreateInput{AssetID: req.AssetID, Title: req.Title}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput(line))
	}
	detail, err := h.service.Create(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, "create estimate", err)
		return
	}
	httpx.Data(w, http.StatusCreated, detail)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get estimate", err)
		return
	}
	httpx.Data(w, http.StatusOK, detail)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req lineRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	line, err := h.service.AddLine(r.Context(), orgID, id, LineInput(req))
	if err != nil {
		h.fail(w, "add estimate line", err)
		return
	}
	httpx.Data(w, http.StatusCreated, line)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lineID, err := httpx.IDParam(r, "lineID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.RemoveLine(r.Context(), orgID, id, lineID); err != nil {
		h.fail(w, "remove estimate line", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transition(event string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, _ := shared.OrgFromContext(r.Context())
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var body noteRequest
		if r.ContentLength > 0 {
			if err := httpx.DecodeValid(r, &body); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		var est Estimate
		switch event {
		case EventApprove:
			est, err = h.service.Approve(r.Context(), orgID, id, body.Note)
		case EventReject:
			est, err = h.service.Reject(r.Context(), orgID, id, body.Note)
		default:
			est, err = h.service.Submit(r.Context(), orgID, id)
		}
		if err != nil {
			h.fail(w, event+" estimate", err)
			return
		}
		httpx.Data(w, http.StatusOK, est)
	}
}

func (h *Handler) eligibility(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.settings.Settings(r.Context(), orgID)
	if err != nil {
		h.fail(w, "load organization settings", err)
		return
	}
	result, err := h.service.Eligibility(r.Context(), orgID, id, settings)
	if err != nil {
		h.fail(w, "check estimate conversion", err)
		return
	}
	httpx.Data(w, http.StatusOK, result)
}

func (h *Handler) convert(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	settings, err := h.settings.Settings(r.Context(), orgID)
	if err != nil {
		h.fail(w, "load organization settings", err)
		return
	}
	conv, err := h.service.Convert(r.Context(), orgID, id, settings)
	if err != nil {
		h.fail(w, "convert estimate", err)
		return
	}
	h.logger.Info("estimate converted",
		slog.Int64("org_id", orgID),
		slog.Int64("estimate_id", id),
		slog.Int64("work_order_id", conv.WorkOrderID))
	httpx.Data(w, http.StatusCreated, conv, conv.Warnings...)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
