package parts

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

const maxUploadBytes = 10 << 20

// Handler manages parts and parts import endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers part routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/classify", h.classify)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
}

// MountImportRoutes registers the import routes.
func (h *Handler) MountImportRoutes(r chi.Router) {
	r.Post("/parts", h.importParts)
	r.Get("/{id}", h.getImport)
}

type partRequest struct {
	PartNumber     string  `json:"partNumber" validate:"required,max=64"`
	Name           string  `json:"name" validate:"required,max=200"`
	UnitCost       float64 `json:"unitCost" validate:"gte=0"`
	QuantityOnHand float64 `json:"quantityOnHand" validate:"gte=0"`
	ReorderPoint   float64 `json:"reorderPoint" validate:"gte=0"`
	MaxQuantity    float64 `json:"maxQuantity" validate:"gte=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	q := r.URL.Query()
	page, perPage := shared.PageParams(q)
	items, total, err := h.service.List(r.Context(), orgID, ListFilters{
		Search:     q.Get("search"),
		SmartClass: SmartClass(q.Get("class")),
		BelowOnly:  q.Get("below_reorder") == "true",
		Limit:      perPage,
		Offset:     shared.Offset(page, perPage),
	})
	if err != nil {
		h.fail(w, "list parts", err)
		return
	}
	httpx.Page(w, items, shared.NewPagination(page, perPage, total))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	var req partRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	part, err := h.service.Create(r.Context(), orgID, Input(req))
	if err != nil {
		h.fail(w, "create part", err)
		return
	}
	httpx.Data(w, http.StatusCreated, part)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	part, err := h.service.Get(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get part", err)
		return
	}
	httpx.Data(w, http.StatusOK, part)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req partRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	part, err := h.service.Update(r.Context(), orgID, id, Input(req))
	if err != nil {
		h.fail(w, "update part", err)
		return
	}
	httpx.Data(w, http.StatusOK, part)
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	summary, err := h.service.Reclassify(r.Context(), orgID)
	if err != nil {
		h.fail(w, "classify parts", err)
		return
	}
	httpx.Data(w, http.StatusOK, summary)
}

func (h *Handler) importParts(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: file field required", httpx.ErrBadRequest))
		return
	}
	defer file.Close()

	job, err := h.service.Import(r.Context(), orgID, header.Filename, file)
	if err != nil {
		h.fail(w, "import parts", err)
		return
	}
	h.logger.Info("parts imported",
		slog.Int64("org_id", orgID),
		slog.Int64("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.Int("imported", job.ImportedRows),
		slog.Int("errors", job.ErrorRows))
	httpx.Data(w, http.StatusCreated, job)
}

func (h *Handler) getImport(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	job, err := h.service.ImportJob(r.Context(), orgID, id)
	if err != nil {
		h.fail(w, "get import job", err)
		return
	}
	httpx.Data(w, http.StatusOK, job)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
