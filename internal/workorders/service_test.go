package workorders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

type memoryWORepo struct {
	workOrders map[int64]WorkOrder
	lines      map[int64]Line
	assets     map[int64]string
	assetCalls []string
	nextWO     int64
	nextLine   int64
}

func newMemoryWORepo() *memoryWORepo {
	return &memoryWORepo{
		workOrders: make(map[int64]WorkOrder),
		lines:      make(map[int64]Line),
		assets:     make(map[int64]string),
	}
}

func (r *memoryWORepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	wos := make(map[int64]WorkOrder, len(r.workOrders))
	for k, v := range r.workOrders {
		wos[k] = v
	}
	lines := make(map[int64]Line, len(r.lines))
	for k, v := range r.lines {
		lines[k] = v
	}
	assets := make(map[int64]string, len(r.assets))
	for k, v := range r.assets {
		assets[k] = v
	}
	if err := fn(ctx, &memoryWOTx{repo: r}); err != nil {
		r.workOrders, r.lines, r.assets = wos, lines, assets
		return err
	}
	return nil
}

func (r *memoryWORepo) Get(ctx context.Context, orgID, id int64) (WorkOrder, error) {
	wo, ok := r.workOrders[id]
	if !ok || wo.OrgID != orgID {
		return WorkOrder{}, ErrNotFound
	}
	return wo, nil
}

func (r *memoryWORepo) ListLines(ctx context.Context, workOrderID int64) ([]Line, error) {
	var out []Line
	for id := int64(1); id <= r.nextLine; id++ {
		if line, ok := r.lines[id]; ok && line.WorkOrderID == workOrderID {
			out = append(out, line)
		}
	}
	return out, nil
}

func (r *memoryWORepo) List(ctx context.Context, orgID int64, filters ListFilters) ([]WorkOrder, int, error) {
	var out []WorkOrder
	for id := int64(1); id <= r.nextWO; id++ {
		wo, ok := r.workOrders[id]
		if !ok || wo.OrgID != orgID {
			continue
		}
		if filters.Status != "" && wo.Status != filters.Status {
			continue
		}
		out = append(out, wo)
	}
	return out, len(out), nil
}

type memoryWOTx struct {
	repo *memoryWORepo
}

func (t *memoryWOTx) GetForUpdate(ctx context.Context, orgID, id int64) (WorkOrder, error) {
	return t.repo.Get(ctx, orgID, id)
}

func (t *memoryWOTx) Create(ctx context.Context, wo WorkOrder) (WorkOrder, error) {
	t.repo.nextWO++
	wo.ID = t.repo.nextWO
	t.repo.workOrders[wo.ID] = wo
	return wo, nil
}

func (t *memoryWOTx) Update(ctx context.Context, wo WorkOrder) error {
	if _, ok := t.repo.workOrders[wo.ID]; !ok {
		return ErrNotFound
	}
	t.repo.workOrders[wo.ID] = wo
	return nil
}

func (t *memoryWOTx) InsertLine(ctx context.Context, line Line) (Line, error) {
	t.repo.nextLine++
	line.ID = t.repo.nextLine
	t.repo.lines[line.ID] = line
	return line, nil
}

func (t *memoryWOTx) DeleteLine(ctx context.Context, workOrderID, lineID int64) error {
	line, ok := t.repo.lines[lineID]
	if !ok || line.WorkOrderID != workOrderID {
		return ErrLineNotFound
	}
	delete(t.repo.lines, lineID)
	return nil
}

func (t *memoryWOTx) HoldAsset(ctx context.Context, orgID, assetID int64) (bool, error) {
	if _, ok := t.repo.assets[assetID]; !ok {
		return false, nil
	}
	t.repo.assets[assetID] = "in_maintenance"
	return true, nil
}

func (t *memoryWOTx) LockAsset(ctx context.Context, orgID, assetID int64) (string, bool, error) {
	t.repo.assetCalls = append(t.repo.assetCalls, "lock")
	status, ok := t.repo.assets[assetID]
	return status, ok, nil
}

func (t *memoryWOTx) ReleaseAsset(ctx context.Context, orgID, assetID int64) error {
	t.repo.assetCalls = append(t.repo.assetCalls, "release")
	if t.repo.assets[assetID] == "in_maintenance" {
		t.repo.assets[assetID] = "operational"
	}
	return nil
}

func (t *memoryWOTx) CountOpenOnAsset(ctx context.Context, orgID, assetID, excludeID int64) (int, error) {
	t.repo.assetCalls = append(t.repo.assetCalls, "count")
	n := 0
	for id, wo := range t.repo.workOrders {
		if id == excludeID || wo.OrgID != orgID || wo.AssetID == nil || *wo.AssetID != assetID {
			continue
		}
		if !wo.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

type stubNumbers struct {
	seq int
}

func (s *stubNumbers) Next(ctx context.Context, orgID int64, docType string) (string, error) {
	s.seq++
	return fmt.Sprintf("%s-2610-%04d", docType, s.seq), nil
}

type stubParts map[int64]parts.Part

func (s stubParts) Lookup(ctx context.Context, orgID, id int64) (parts.Part, error) {
	part, ok := s[id]
	if !ok {
		return parts.Part{}, parts.ErrNotFound
	}
	return part, nil
}

func int64Ptr(v int64) *int64 { return &v }

func statusPtr(s Status) *Status { return &s }

func newTestService(repo *memoryWORepo) *Service {
	return NewService(repo, &stubNumbers{}, stubParts{42: {ID: 42, QuantityOnHand: 2}}, nil)
}

func TestCreateHoldsAsset(t *testing.T) {
	repo := newMemoryWORepo()
	repo.assets[7] = "operational"
	svc := newTestService(repo)

	result, err := svc.Create(context.Background(), 1, CreateInput{AssetID: int64Ptr(7), Title: "Brake inspection"})
	require.NoError(t, err)
	require.Empty(t, result.Warnings)
	require.Equal(t, StatusOpen, result.WorkOrder.Status)
	require.Equal(t, PriorityNormal, result.WorkOrder.Priority)
	require.Equal(t, "WO-2610-0001", result.WorkOrder.Number)
	require.Equal(t, "in_maintenance", repo.assets[7])
}

func TestCompletingLastWorkOrderReleasesAsset(t *testing.T) {
	repo := newMemoryWORepo()
	repo.assets[7] = "operational"
	svc := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Create(ctx, 1, CreateInput{AssetID: int64Ptr(7), Title: "Oil change"})
	require.NoError(t, err)
	second, err := svc.Create(ctx, 1, CreateInput{AssetID: int64Ptr(7), Title: "Tire rotation", Status: StatusInProgress})
	require.NoError(t, err)
	require.Equal(t, "in_maintenance", repo.assets[7])

	updated, err := svc.Update(ctx, 1, first.WorkOrder.ID, UpdateInput{Status: statusPtr(StatusCompleted)})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.WorkOrder.Status)
	require.NotNil(t, updated.WorkOrder.CompletedAt)
	require.Equal(t, "in_maintenance", repo.assets[7])

	require.Equal(t, []string{"lock", "count"}, repo.assetCalls)

	repo.assetCalls = nil
	_, err = svc.Update(ctx, 1, second.WorkOrder.ID, UpdateInput{Status: statusPtr(StatusCancelled)})
	require.NoError(t, err)
	require.Equal(t, "operational", repo.assets[7])
	// the asset row is locked before siblings are counted
	require.Equal(t, []string{"lock", "count", "release"}, repo.assetCalls)
}

func TestCreateWithMissingAssetIsDegraded(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)

	result, err := svc.Create(context.Background(), 1, CreateInput{AssetID: int64Ptr(99), Title: "Ghost truck"})
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	require.Contains(t, result.Warnings[0], "asset 99")
	require.Len(t, repo.workOrders, 1)
}

func TestStatusTransitions(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, 1, CreateInput{Title: "Wipers"})
	require.NoError(t, err)
	id := created.WorkOrder.ID

	_, err = svc.Update(ctx, 1, id, UpdateInput{Status: statusPtr(StatusInProgress)})
	require.NoError(t, err)
	_, err = svc.Update(ctx, 1, id, UpdateInput{Status: statusPtr(StatusOpen)})
	require.NoError(t, err)
	_, err = svc.Update(ctx, 1, id, UpdateInput{Status: statusPtr(StatusOpen)})
	require.NoError(t, err)
	_, err = svc.Update(ctx, 1, id, UpdateInput{Status: statusPtr(StatusCompleted)})
	require.NoError(t, err)

	_, err = svc.Update(ctx, 1, id, UpdateInput{Status: statusPtr(StatusOpen)})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = svc.Update(ctx, 1, id, UpdateInput{Status: statusPtr(StatusCancelled)})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, StatusCompleted, repo.workOrders[id].Status)

	_, err = svc.Update(ctx, 1, 404, UpdateInput{Status: statusPtr(StatusCompleted)})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Update(ctx, 1, id, UpdateInput{Status: statusPtr("paused")})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReassignAssetMovesHold(t *testing.T) {
	repo := newMemoryWORepo()
	repo.assets[1] = "operational"
	repo.assets[2] = "operational"
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, 1, CreateInput{AssetID: int64Ptr(1), Title: "Alternator"})
	require.NoError(t, err)
	require.Equal(t, "in_maintenance", repo.assets[1])

	_, err = svc.Update(ctx, 1, created.WorkOrder.ID, UpdateInput{AssetID: int64Ptr(2)})
	require.NoError(t, err)
	require.Equal(t, "operational", repo.assets[1])
	require.Equal(t, "in_maintenance", repo.assets[2])
}

func TestReleaseKeepsDownAsset(t *testing.T) {
	repo := newMemoryWORepo()
	repo.assets[3] = "operational"
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, 1, CreateInput{AssetID: int64Ptr(3), Title: "Engine"})
	require.NoError(t, err)
	repo.assets[3] = "down"

	_, err = svc.Update(ctx, 1, created.WorkOrder.ID, UpdateInput{Status: statusPtr(StatusCancelled)})
	require.NoError(t, err)
	require.Equal(t, "down", repo.assets[3])
}

func TestLinesComputeTotalsAndOrdering(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, 1, CreateInput{Title: "Brakes", Lines: []LineInput{
		{LineType: shared.LineInventoryPart, PartID: int64Ptr(42), Description: "Pads", VMRSCode: "013-001", Quantity: 5, UnitCost: 19.999},
		{LineType: shared.LineInventoryPart, PartID: int64Ptr(42), Description: "Pads", VMRSCode: "013-001", Quantity: 1, UnitCost: 20},
		{LineType: shared.LineLabor, Description: "Install", VMRSCode: "013-000", Quantity: 1.5, UnitCost: 95},
	}})
	require.NoError(t, err)
	require.Len(t, created.Lines, 3)
	require.True(t, created.Lines[0].NeedsOrdering)
	require.Equal(t, 100.0, created.Lines[0].TotalCost)
	require.False(t, created.Lines[1].NeedsOrdering)
	require.False(t, created.Lines[2].NeedsOrdering)
	require.Equal(t, 142.5, created.Lines[2].TotalCost)

	_, err = svc.AddLine(ctx, 1, created.WorkOrder.ID, LineInput{LineType: shared.LineLabor, Description: "x", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, svc.RemoveLine(ctx, 1, created.WorkOrder.ID, created.Lines[2].ID))
	require.ErrorIs(t, svc.RemoveLine(ctx, 1, created.WorkOrder.ID, created.Lines[2].ID), shared.ErrNotFound)

	_, err = svc.Update(ctx, 1, created.WorkOrder.ID, UpdateInput{Status: statusPtr(StatusCompleted)})
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, 1, created.WorkOrder.ID, LineInput{LineType: shared.LineLabor, Description: "x", VMRSCode: "1", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	got, err := svc.Get(ctx, 1, created.WorkOrder.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
}

func TestLinesUseStoredPrecision(t *testing.T) {
	repo := newMemoryWORepo()
	svc := newTestService(repo)
	ctx := context.Background()

	carried := 1.00
	created, err := svc.Create(ctx, 1, CreateInput{Title: "Fluids", Lines: []LineInput{
		{LineType: shared.LineNonInventoryItem, Description: "Fluid", VMRSCode: "068-001", Quantity: 8, UnitCost: 0.125},
		{LineType: shared.LineLabor, Description: "Top off", VMRSCode: "068-000", Quantity: 0.3333, UnitCost: 90},
		{LineType: shared.LineNonInventoryItem, Description: "Legacy", VMRSCode: "068-002", Quantity: 8, UnitCost: 0.125, TotalCost: &carried},
	}})
	require.NoError(t, err)
	require.Equal(t, 0.13, created.Lines[0].UnitCost)
	require.Equal(t, 1.04, created.Lines[0].TotalCost)
	require.Equal(t, 0.333, created.Lines[1].Quantity)
	require.Equal(t, 29.97, created.Lines[1].TotalCost)
	require.Equal(t, 1.00, created.Lines[2].TotalCost)

	_, err = svc.AddLine(ctx, 1, created.WorkOrder.ID, LineInput{LineType: shared.LineLabor, Description: "x", VMRSCode: "1", Quantity: 0.0004})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateRollsBackOnBadPart(t *testing.T) {
	repo := newMemoryWORepo()
	repo.assets[7] = "operational"
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), 1, CreateInput{AssetID: int64Ptr(7), Title: "Filter", Lines: []LineInput{
		{LineType: shared.LineInventoryPart, PartID: int64Ptr(5), Description: "Unknown", VMRSCode: "045", Quantity: 1},
	}})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.workOrders)
	require.Equal(t, "operational", repo.assets[7])
}

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithOrg(req.Context(), 1)))
		})
	})
	r.Route("/workorders", h.MountRoutes)
	return r
}

func TestHandlerFlagsDegradedCreate(t *testing.T) {
	repo := newMemoryWORepo()
	router := newTestRouter(newTestService(repo))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/workorders", strings.NewReader(`{"assetId":55,"title":"Lights"}`)))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, "true", rr.Header().Get("X-Degraded"))
	require.Contains(t, rr.Body.String(), `"warnings":["asset 55 not found`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/workorders/1", strings.NewReader(`{"status":"completed"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, "/workorders/1", strings.NewReader(`{"status":"open"}`)))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), `"code":"invalid_transition"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/workorders", strings.NewReader(`{"title":""}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
