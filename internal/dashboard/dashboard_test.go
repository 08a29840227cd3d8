package dashboard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/assets"
	"github.com/fleetdesk/fleetdesk/internal/estimates"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/procurement"
	"github.com/fleetdesk/fleetdesk/internal/shared"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
)

type fakeSources struct {
	assets      []assets.Asset
	orders      []workorders.WorkOrder
	parts       []parts.Part
	pendingReqs int
	pendingEsts int
	err         error
}

func (f *fakeSources) List(ctx context.Context, orgID int64, filters assets.ListFilters) ([]assets.Asset, int, error) {
	return f.assets, len(f.assets), nil
}

type orderSource struct{ *fakeSources }

func (f orderSource) List(ctx context.Context, orgID int64, filters workorders.ListFilters) ([]workorders.WorkOrder, int, error) {
	return f.orders, len(f.orders), f.err
}

type partSource struct{ *fakeSources }

func (f partSource) List(ctx context.Context, orgID int64, filters parts.ListFilters) ([]parts.Part, int, error) {
	return f.parts, len(f.parts), nil
}

func (f *fakeSources) ListRequisitions(ctx context.Context, orgID int64, filters procurement.ListFilters) ([]procurement.Requisition, int, error) {
	if filters.Status != string(procurement.RequisitionPendingApproval) {
		return nil, 0, errors.New("unexpected filter")
	}
	return nil, f.pendingReqs, nil
}

type estimateSource struct{ *fakeSources }

func (f estimateSource) List(ctx context.Context, orgID int64, filters estimates.ListFilters) ([]estimates.Estimate, int, error) {
	return nil, f.pendingEsts, nil
}

func newService(f *fakeSources, now time.Time) *Service {
	svc := NewService(f, orderSource{f}, partSource{f}, f, estimateSource{f})
	svc.now = func() time.Time { return now }
	return svc
}

func TestStatsEmptyStore(t *testing.T) {
	stats, err := newService(&fakeSources{}, time.Now()).Stats(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, Stats{}, stats)
}

func TestStatsCounts(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)
	f := &fakeSources{
		assets: []assets.Asset{
			{Status: assets.StatusOperational},
			{Status: assets.StatusOperational},
			{Status: assets.StatusInMaintenance},
			{Status: assets.StatusDown},
		},
		orders: []workorders.WorkOrder{
			{Status: workorders.StatusOpen, DueDate: &yesterday},
			{Status: workorders.StatusInProgress, DueDate: &tomorrow},
			{Status: workorders.StatusOpen},
			{Status: workorders.StatusCompleted, DueDate: &yesterday},
			{Status: workorders.StatusCancelled},
		},
		parts: []parts.Part{
			{QuantityOnHand: 0, ReorderPoint: 0},
			{QuantityOnHand: 3, ReorderPoint: 5},
			{QuantityOnHand: 5, ReorderPoint: 5},
			{QuantityOnHand: 9, ReorderPoint: 5},
		},
		pendingReqs: 2,
		pendingEsts: 4,
	}
	stats, err := newService(f, now).Stats(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, AssetCounts{Total: 4, Operational: 2, InMaintenance: 1, Down: 1}, stats.Assets)
	require.Equal(t, 3, stats.OpenWorkOrders)
	require.Equal(t, 1, stats.OverdueWorkOrders)
	require.Equal(t, 3, stats.PartsBelowReorder)
	require.Equal(t, 2, stats.PendingRequisitions)
	require.Equal(t, 4, stats.EstimatesAwaitingReview)
}

func TestStatsHandlerPropagatesFailure(t *testing.T) {
	f := &fakeSources{err: errors.New("db down")}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), newService(f, time.Now()))
	r := chi.NewRouter()
	r.Route("/dashboard", h.MountRoutes)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/stats", nil)
	req = req.WithContext(shared.ContextWithOrg(req.Context(), 1))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	f.err = nil
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"openWorkOrders":0`)
}
