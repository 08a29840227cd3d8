package audit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

const (
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

// TimelineService is the contract the handler needs.
type TimelineService interface {
	Timeline(ctx context.Context, orgID int64, filters TimelineFilters) (Result, error)
	Export(ctx context.Context, orgID int64, filters TimelineFilters) ([]TimelineRow, error)
}

// Handler serves the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.timeline)
	r.Get("/export.csv", h.export)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), orgID, filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Int64("org_id", orgID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	rows := result.Rows
	if rows == nil {
		rows = []TimelineRow{}
	}
	httpx.Page(w, rows, result.Paging)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	orgID, _ := shared.OrgFromContext(r.Context())
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), orgID, filters)
	if err != nil {
		h.logger.Error("export audit timeline", slog.Int64("org_id", orgID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	csvBytes, err := WriteCSV(rows)
	if err != nil {
		h.logger.Error("encode csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-timeline.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters defaults to the last seven days. Dates are inclusive calendar
// days in UTC.
func (h *Handler) parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format(time.DateOnly)
	}
	toDay, err := time.Parse(time.DateOnly, toStr)
	if err != nil {
		return TimelineFilters{}, fmt.Errorf("%w: to must be YYYY-MM-DD", httpx.ErrBadRequest)
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toDay.Add(-defaultDateRange).Format(time.DateOnly)
	}
	fromDay, err := time.Parse(time.DateOnly, fromStr)
	if err != nil {
		return TimelineFilters{}, fmt.Errorf("%w: from must be YYYY-MM-DD", httpx.ErrBadRequest)
	}
	if fromDay.After(toDay) || toDay.Sub(fromDay) > maxDateRange {
		return TimelineFilters{}, fmt.Errorf("%w: range must be between 0 and 90 days", httpx.ErrBadRequest)
	}

	filters := TimelineFilters{
		From:     fromDay,
		To:       toDay.AddDate(0, 0, 1),
		Entity:   strings.TrimSpace(q.Get("entity")),
		EntityID: strings.TrimSpace(q.Get("entityId")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     1,
		PageSize: defaultPageSize,
	}
	if v := strings.TrimSpace(q.Get("actorId")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return TimelineFilters{}, fmt.Errorf("%w: invalid actorId", httpx.ErrBadRequest)
		}
		filters.ActorID = id
	}
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			return TimelineFilters{}, fmt.Errorf("%w: invalid page", httpx.ErrBadRequest)
		}
		filters.Page = page
	}
	if v := strings.TrimSpace(q.Get("pageSize")); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return TimelineFilters{}, fmt.Errorf("%w: invalid pageSize", httpx.ErrBadRequest)
		}
		filters.PageSize = min(size, maxPageSize)
	}
	return filters, nil
}
