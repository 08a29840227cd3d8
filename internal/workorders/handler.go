package workorders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Handler manages work order endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Post("/{id}/lines", h.addLine)
	r.Delete("/{id}/lines/{lineID}", h.removeLine)
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

func (l lineRequest) input() LineInput {
	return LineInput{
		LineType:    l.LineType,
		PartID:      l.PartID,
		Description: l.Description,
		VMRSCode:    l.VMRSCode,
		VMRSTitle:   l.VMRSTitle,
		Quantity:    l.Quantity,
		UnitCost:    l.UnitCost,
	}
}

type createRequest struct {
	AssetID     *int64        `json:"assetId" validate:"omitempty,gt=0"`
	Title       string        `json:"title" validate:"required,max=200"`
	Description string        `json:"description" validate:"max=4000"`
	Priority    Priority      `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Status      Status        `json:"status" validate:"omitempty,oneof=open in_progress completed cancelled"`
	DueDate     *time.Time    `json:"dueDate"`
	Lines       []lineRequest `json:"lines" validate:"omitempty,dive"`
}

type updateRequest struct {
	Title       *string    `json:"title" validate:"omitempty,max=200"`
	Description *string    `json:"description" validate:"omitempty,max=4000"`
	Priority    *Priority  `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	DueDate     *time.Time `json:"dueDate"`
	Status      *Status    `json:"status" validate:"omitempty,oneof=open in_progress completed cancelled"`
	AssetID     *int64     `json:"assetId" validate:"omitempty,gt=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	q := r.URL.Query()
	page, perPage := shared.PageParams(q)
	filters := ListFilters{Status: Status(q.Get("status")), Limit: perPage, Offset: shared.Offset(page, perPage)}
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
		h.fail(w, "list work orders", err)
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
	input := CreateInput{
		AssetID:     req.AssetID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		DueDate:     req.DueDate,
		SourceKind:  SourceManual,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, line.input())
	}
	result, err := h.service.Create(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, "create work order", err)
		return
	}
	if len(result.Warnings) > 0 {
		h.logger.Warn("work order created with warnings",
			slog.Int64("org_id", orgID),
			slog.Int64("work_order_id", result.WorkOrder.ID),
			slog.Any("warnings", result.Warnings))
	}
	httpx.Data(w, http.StatusCreated, result, result.Warnings...)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get work order", err)
		return
	}
	httpx.Data(w, http.StatusOK, result)
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
	result, err := h.service.Update(r.Context(), orgID, id, UpdateInput(req))
	if err != nil {
		h.fail(w, "update work order", err)
		return
	}
	if len(result.Warnings) > 0 {
		h.logger.Warn("work order updated with warnings",
			slog.Int64("org_id", orgID),
			slog.Int64("work_order_id", id),
			slog.Any("warnings", result.Warnings))
	}
	httpx.Data(w, http.StatusOK, result, result.Warnings...)
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
	line, err := h.service.AddLine(r.Context(), orgID, id, req.input())
	if err != nil {
		h.fail(w, "add work order line", err)
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
		h.fail(w, "remove work order line", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
