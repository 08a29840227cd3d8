package dvir

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Handler exposes inspection report endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers DVIR routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.submit)
	r.Get("/{id}", h.get)
	r.Post("/{id}/defects/{defectID}/work-order", h.createWorkOrder)
	r.Post("/{id}/defects/{defectID}/resolve", h.resolve)
}

type defectRequest struct {
	Component   string   `json:"component" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=2000"`
	Severity    Severity `json:"severity" validate:"required,oneof=minor major critical"`
}

type submitRequest struct {
	AssetID        int64           `json:"assetId" validate:"required,gt=0"`
	DriverName     string          `json:"driverName" validate:"required,max=200"`
	InspectionType InspectionType  `json:"inspectionType" validate:"required,oneof=pre_trip post_trip"`
	Odometer       float64         `json:"odometer" validate:"gte=0"`
	Defects        []defectRequest `json:"defects" validate:"omitempty,dive"`
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
		h.fail(w, "list dvirs", err)
		return
	}
	httpx.Page(w, items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	var req submitRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := SubmitInput{
		AssetID:        req.AssetID,
		DriverName:     req.DriverName,
		InspectionType: req.InspectionType,
		Odometer:       req.Odometer,
	}
	for _, d := range req.Defects {
		input.Defects = append(input.Defects, DefectInput(d))
	}
	report, err := h.service.Submit(r.Context(), orgID, input)
	if err != nil {
		h.fail(w, "submit dvir", err)
		return
	}
	httpx.Data(w, http.StatusCreated, report)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get dvir", err)
		return
	}
	httpx.Data(w, http.StatusOK, report)
}

func (h *Handler) ids(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	defectID, err := httpx.IDParam(r, "defectID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return id, defectID, true
}

func (h *Handler) createWorkOrder(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, defectID, ok := h.ids(w, r)
	if !ok {
		return
	}
	out, err := h.service.CreateWorkOrderForDefect(r.Context(), orgID, id, defectID)
	if err != nil {
		h.fail(w, "create defect work order", err)
		return
	}
	if len(out.Warnings) > 0 {
		h.logger.Warn("defect work order created with warnings",
			slog.Int64("org_id", orgID),
			slog.Int64("dvir_id", id),
			slog.Any("warnings", out.Warnings))
	}
	httpx.Data(w, http.StatusCreated, out, out.Warnings...)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, defectID, ok := h.ids(w, r)
	if !ok {
		return
	}
	report, err := h.service.ResolveDefect(r.Context(), orgID, id, defectID)
	if err != nil {
		h.fail(w, "resolve defect", err)
		return
	}
	httpx.Data(w, http.StatusOK, report)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
