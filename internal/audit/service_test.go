package audit

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

type stubTimelineRepo struct {
	rows []TimelineRow
	last WindowParams
}

func (s *stubTimelineRepo) Window(ctx context.Context, params WindowParams) ([]TimelineRow, error) {
	s.last = params
	if params.Limit.Valid && int(params.Limit.Int32) < len(s.rows) {
		return s.rows[:params.Limit.Int32], nil
	}
	return s.rows, nil
}

func mockRow(at, action, entity, id string) TimelineRow {
	ts, _ := time.Parse(time.RFC3339, at)
	return TimelineRow{At: ts, ActorID: 9, Action: action, Entity: entity, EntityID: id}
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{
		mockRow("2026-10-10T10:00:00Z", "convert", "estimate", "4"),
		mockRow("2026-10-09T09:00:00Z", "approve", "estimate", "4"),
		mockRow("2026-10-08T08:00:00Z", "create", "estimate", "4"),
	}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), 1, TimelineFilters{Entity: " estimate ", Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, int32(3), repo.last.Limit.Int32)
	require.Equal(t, int32(0), repo.last.Offset)
	require.Equal(t, "estimate", repo.last.Entity.String)
	require.False(t, repo.last.Action.Valid)
	require.False(t, repo.last.ActorID.Valid)
	require.Equal(t, int64(1), repo.last.OrgID)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	_, err := NewService(repo).Timeline(context.Background(), 1, TimelineFilters{Page: 3, PageSize: 500, ActorID: 4})
	require.NoError(t, err)
	require.Equal(t, int32(maxPageSize+1), repo.last.Limit.Int32)
	require.Equal(t, int32(2*maxPageSize), repo.last.Offset)
	require.Equal(t, int64(4), repo.last.ActorID.Int64)
}

func TestWriteCSV(t *testing.T) {
	row := mockRow("2026-10-10T10:00:00Z", "convert", "estimate", "4")
	row.Meta = map[string]any{"workOrderId": 12}
	out, err := WriteCSV([]TimelineRow{row})
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"2026-10-10T10:00:00Z", "9", "convert", "estimate", "4", `{"workOrderId":12}`}, records[1])
}

func TestHandlerFiltersAndExport(t *testing.T) {
	repo := &stubTimelineRepo{rows: []TimelineRow{mockRow("2026-10-10T10:00:00Z", "create", "work_order", "1")}}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(repo))
	h.now = func() time.Time { return time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit-logs", h.MountRoutes)

	do := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req = req.WithContext(shared.ContextWithOrg(req.Context(), 5))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do("/audit-logs?entity=work_order")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"hasNext":false`)
	require.Equal(t, time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC), repo.last.FromAt.Time)
	require.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), repo.last.ToAt.Time)
	require.Equal(t, int64(5), repo.last.OrgID)

	require.Equal(t, http.StatusBadRequest, do("/audit-logs?from=2026-10-20&to=2026-10-01").Code)
	require.Equal(t, http.StatusBadRequest, do("/audit-logs?page=0").Code)

	rr = do("/audit-logs/export.csv?from=2026-10-01&to=2026-10-16")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rr.Body.String(), "at,actor_id,action,entity,entity_id,meta\n"))
	require.Equal(t, int32(exportLimit), repo.last.Limit.Int32)
}
