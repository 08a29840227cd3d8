package estimates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/organizations"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/shared"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
)

type memoryEstimateRepo struct {
	estimates map[int64]Estimate
	lines     map[int64][]Line
	nextID    int64
}

type memoryEstimateTx struct {
	repo *memoryEstimateRepo
}

func newMemoryEstimateRepo() *memoryEstimateRepo {
	return &memoryEstimateRepo{
		estimates: make(map[int64]Estimate),
		lines:     make(map[int64][]Line),
	}
}

func (r *memoryEstimateRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	estimates := make(map[int64]Estimate, len(r.estimates))
	for k, v := range r.estimates {
		estimates[k] = v
	}
	lines := make(map[int64][]Line, len(r.lines))
	for k, v := range r.lines {
		lines[k] = append([]Line(nil), v...)
	}
	if err := fn(ctx, &memoryEstimateTx{repo: r}); err != nil {
		r.estimates, r.lines = estimates, lines
		return err
	}
	return nil
}

func (r *memoryEstimateRepo) Get(ctx context.Context, orgID, id int64) (Estimate, []Line, error) {
	est, ok := r.estimates[id]
	if !ok || est.OrgID != orgID {
		return Estimate{}, nil, ErrNotFound
	}
	return est, append([]Line(nil), r.lines[id]...), nil
}

func (r *memoryEstimateRepo) List(ctx context.Context, orgID int64, filters ListFilters) ([]Estimate, int, error) {
	var out []Estimate
	for _, est := range r.estimates {
		if est.OrgID == orgID && (filters.Status == "" || est.Status == filters.Status) {
			out = append(out, est)
		}
	}
	return out, len(out), nil
}

func (tx *memoryEstimateTx) Lock(ctx context.Context, orgID, id int64) (Estimate, error) {
	est, _, err := tx.repo.Get(ctx, orgID, id)
	return est, err
}

func (tx *memoryEstimateTx) Create(ctx context.Context, est Estimate) (Estimate, error) {
	tx.repo.nextID++
	est.ID = tx.repo.nextID
	tx.repo.estimates[est.ID] = est
	return est, nil
}

func (tx *memoryEstimateTx) InsertLine(ctx context.Context, line Line) (Line, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.EstimateID] = append(tx.repo.lines[line.EstimateID], line)
	return line, nil
}

func (tx *memoryEstimateTx) DeleteLine(ctx context.Context, estimateID, lineID int64) error {
	lines := tx.repo.lines[estimateID]
	for i, line := range lines {
		if line.ID == lineID {
			tx.repo.lines[estimateID] = append(lines[:i:i], lines[i+1:]...)
			return nil
		}
	}
	return ErrLineNotFound
}

func (tx *memoryEstimateTx) ListLines(ctx context.Context, estimateID int64) ([]Line, error) {
	return tx.repo.lines[estimateID], nil
}

func (tx *memoryEstimateTx) SetTotal(ctx context.Context, estimateID int64, total float64) error {
	est := tx.repo.estimates[estimateID]
	est.TotalAmount = total
	tx.repo.estimates[estimateID] = est
	return nil
}

func (tx *memoryEstimateTx) UpdateStatus(ctx context.Context, est Estimate) error {
	tx.repo.estimates[est.ID] = est
	return nil
}

func (tx *memoryEstimateTx) MarkConverted(ctx context.Context, orgID, id, workOrderID int64) (bool, error) {
	est, ok := tx.repo.estimates[id]
	if !ok || est.ConvertedToWorkOrderID != nil {
		return false, nil
	}
	est.ConvertedToWorkOrderID = &workOrderID
	tx.repo.estimates[id] = est
	return true, nil
}

type stubWorkOrders struct {
	created []workorders.CreateInput
	fail    error
}

func (s *stubWorkOrders) Create(ctx context.Context, orgID int64, input workorders.CreateInput) (workorders.Result, error) {
	if s.fail != nil {
		return workorders.Result{}, s.fail
	}
	s.created = append(s.created, input)
	n := int64(len(s.created))
	return workorders.Result{WorkOrder: workorders.WorkOrder{
		ID:         500 + n,
		OrgID:      orgID,
		Number:     fmt.Sprintf("WO-2610-%04d", n),
		AssetID:    input.AssetID,
		Title:      input.Title,
		Status:     workorders.StatusOpen,
		SourceKind: input.SourceKind,
		SourceID:   input.SourceID,
	}}, nil
}

type stubParts map[int64]parts.Part

func (s stubParts) Lookup(ctx context.Context, orgID, id int64) (parts.Part, error) {
	part, ok := s[id]
	if !ok {
		return parts.Part{}, parts.ErrNotFound
	}
	return part, nil
}

type stubNumbers struct {
	seq int
}

func (s *stubNumbers) Next(ctx context.Context, orgID int64, docType string) (string, error) {
	s.seq++
	return fmt.Sprintf("%s-2610-%04d", docType, s.seq), nil
}

func int64Ptr(v int64) *int64 { return &v }

var (
	approvalRequired = organizations.Settings{RequireEstimateApproval: true}
	approvalOptional = organizations.Settings{}
)

func newTestService() (*Service, *memoryEstimateRepo, *stubWorkOrders) {
	repo := newMemoryEstimateRepo()
	wo := &stubWorkOrders{}
	inventory := stubParts{42: {ID: 42, OrgID: 1, PartNumber: "BRK-42", QuantityOnHand: 2}}
	return NewService(repo, wo, inventory, &stubNumbers{}, nil, nil), repo, wo
}

func oilChange() LineInput {
	return LineInput{
		LineType:    shared.LineLabor,
		Description: "Oil change",
		VMRSCode:    "045-001",
		VMRSTitle:   "Engine oil",
		Quantity:    1.5,
		UnitCost:    95,
	}
}

func TestCanConvert(t *testing.T) {
	line := []Line{{ID: 1}}
	converted := int64(9)
	cases := []struct {
		name     string
		est      Estimate
		settings organizations.Settings
		lines    []Line
		want     bool
	}{
		{"draft needs approval", Estimate{Status: StatusDraft}, approvalRequired, line, false},
		{"approved", Estimate{Status: StatusApproved}, approvalRequired, line, true},
		{"draft without gate", Estimate{Status: StatusDraft}, approvalOptional, line, true},
		{"pending without gate", Estimate{Status: StatusPendingApproval}, approvalOptional, line, true},
		{"no lines", Estimate{Status: StatusApproved}, approvalRequired, nil, false},
		{"rejected", Estimate{Status: StatusRejected}, approvalOptional, line, false},
		{"already converted", Estimate{Status: StatusApproved, ConvertedToWorkOrderID: &converted}, approvalOptional, line, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := CanConvert(tc.est, tc.settings, tc.lines)
			require.Equal(t, tc.want, ok)
			if !ok {
				require.NotEmpty(t, reason)
			}
		})
	}
}

func TestApprovalGateThenConvert(t *testing.T) {
	svc, repo, wo := newTestService()
	ctx := context.Background()

	detail, err := svc.Create(ctx, 1, CreateInput{AssetID: int64Ptr(7), Title: "Annual service", Lines: []LineInput{oilChange()}})
	require.NoError(t, err)
	id := detail.Estimate.ID
	require.Equal(t, "EST-2610-0001", detail.Estimate.Number)
	require.Equal(t, 142.5, detail.Estimate.TotalAmount)

	elig, err := svc.Eligibility(ctx, 1, id, approvalRequired)
	require.NoError(t, err)
	require.False(t, elig.CanConvert)

	_, err = svc.Convert(ctx, 1, id, approvalRequired)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Empty(t, wo.created)

	_, err = svc.Submit(ctx, 1, id)
	require.NoError(t, err)
	est, err := svc.Approve(ctx, 1, id, "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, est.Status)
	require.NotNil(t, est.ApprovedAt)

	elig, err = svc.Eligibility(ctx, 1, id, approvalRequired)
	require.NoError(t, err)
	require.True(t, elig.CanConvert)

	conv, err := svc.Convert(ctx, 1, id, approvalRequired)
	require.NoError(t, err)
	require.Equal(t, int64(501), conv.WorkOrderID)
	require.Equal(t, "WO-2610-0001", conv.WorkOrderNumber)
	require.Equal(t, int64(501), *repo.estimates[id].ConvertedToWorkOrderID)

	require.Len(t, wo.created, 1)
	input := wo.created[0]
	require.Equal(t, workorders.SourceEstimate, input.SourceKind)
	require.Equal(t, id, *input.SourceID)
	require.Equal(t, int64(7), *input.AssetID)
	require.Equal(t, workorders.StatusOpen, input.Status)
	require.Len(t, input.Lines, 1)
	require.Equal(t, "045-001", input.Lines[0].VMRSCode)
	require.Equal(t, 1.5, input.Lines[0].Quantity)
	require.Equal(t, 95.0, input.Lines[0].UnitCost)

	_, err = svc.Convert(ctx, 1, id, approvalRequired)
	require.ErrorIs(t, err, ErrAlreadyConverted)
	require.Len(t, wo.created, 1)

	_, err = svc.Reject(ctx, 1, id, "late")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = svc.AddLine(ctx, 1, id, oilChange())
	require.ErrorIs(t, err, ErrNotEditable)
}

func TestConvertWithoutGateOnDraft(t *testing.T) {
	svc, _, wo := newTestService()
	ctx := context.Background()

	empty, err := svc.Create(ctx, 1, CreateInput{Title: "Inspection"})
	require.NoError(t, err)
	_, err = svc.Convert(ctx, 1, empty.Estimate.ID, approvalOptional)
	require.ErrorIs(t, err, ErrNotConvertible)

	detail, err := svc.Create(ctx, 1, CreateInput{Title: "Tires", Lines: []LineInput{oilChange()}})
	require.NoError(t, err)
	conv, err := svc.Convert(ctx, 1, detail.Estimate.ID, approvalOptional)
	require.NoError(t, err)
	require.NotZero(t, conv.WorkOrderID)
	require.Nil(t, wo.created[0].AssetID)
}

func TestConvertRollsBackWhenWorkOrderFails(t *testing.T) {
	svc, repo, wo := newTestService()
	ctx := context.Background()
	detail, err := svc.Create(ctx, 1, CreateInput{Title: "Brakes", Lines: []LineInput{oilChange()}})
	require.NoError(t, err)

	wo.fail = errors.New("connection reset")
	_, err = svc.Convert(ctx, 1, detail.Estimate.ID, approvalOptional)
	require.Error(t, err)
	require.Nil(t, repo.estimates[detail.Estimate.ID].ConvertedToWorkOrderID)

	wo.fail = nil
	_, err = svc.Convert(ctx, 1, detail.Estimate.ID, approvalOptional)
	require.NoError(t, err)
}

func TestNeedsOrderingFromStock(t *testing.T) {
	svc, repo, wo := newTestService()
	ctx := context.Background()
	detail, err := svc.Create(ctx, 1, CreateInput{Title: "Brake job"})
	require.NoError(t, err)
	id := detail.Estimate.ID

	short, err := svc.AddLine(ctx, 1, id, LineInput{
		LineType: shared.LineInventoryPart, PartID: int64Ptr(42), Description: "Brake pads",
		VMRSCode: "013-002", Quantity: 5, UnitCost: 19.999,
	})
	require.NoError(t, err)
	require.True(t, short.NeedsOrdering)
	require.Equal(t, 100.0, short.TotalCost)

	covered, err := svc.AddLine(ctx, 1, id, LineInput{
		LineType: shared.LineInventoryPart, PartID: int64Ptr(42), Description: "Brake pads",
		VMRSCode: "013-002", Quantity: 1, UnitCost: 20,
	})
	require.NoError(t, err)
	require.False(t, covered.NeedsOrdering)
	require.Equal(t, 120.0, repo.estimates[id].TotalAmount)

	_, err = svc.AddLine(ctx, 1, id, LineInput{
		LineType: shared.LineInventoryPart, PartID: int64Ptr(99), Description: "Unknown",
		VMRSCode: "013-002", Quantity: 1,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.NoError(t, svc.RemoveLine(ctx, 1, id, covered.ID))
	require.Equal(t, 100.0, repo.estimates[id].TotalAmount)
	require.Equal(t, StatusDraft, repo.estimates[id].Status)
	require.ErrorIs(t, svc.RemoveLine(ctx, 1, id, covered.ID), shared.ErrNotFound)

	_, err = svc.Convert(ctx, 1, id, approvalOptional)
	require.NoError(t, err)
	require.True(t, *wo.created[0].Lines[0].NeedsOrdering)
}

func TestSubCentLinesStayConsistentThroughConversion(t *testing.T) {
	svc, repo, wo := newTestService()
	ctx := context.Background()

	detail, err := svc.Create(ctx, 1, CreateInput{Title: "Washer fluid", Lines: []LineInput{{
		LineType: shared.LineNonInventoryItem, Description: "Fluid", VMRSCode: "068-001", Quantity: 8, UnitCost: 0.125,
	}}})
	require.NoError(t, err)
	line := detail.Lines[0]
	require.Equal(t, 0.13, line.UnitCost)
	require.Equal(t, shared.LineTotal(line.Quantity, line.UnitCost), line.TotalCost)
	require.Equal(t, 1.04, line.TotalCost)
	require.Equal(t, 1.04, repo.estimates[detail.Estimate.ID].TotalAmount)

	tiny := oilChange()
	tiny.Quantity = 0.0004
	_, err = svc.AddLine(ctx, 1, detail.Estimate.ID, tiny)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Convert(ctx, 1, detail.Estimate.ID, approvalOptional)
	require.NoError(t, err)
	converted := wo.created[0].Lines[0]
	require.Equal(t, line.Quantity, converted.Quantity)
	require.Equal(t, line.UnitCost, converted.UnitCost)
	require.NotNil(t, converted.TotalCost)
	require.Equal(t, line.TotalCost, *converted.TotalCost)
}

func TestValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, CreateInput{Title: " "})
	require.ErrorIs(t, err, shared.ErrValidation)

	bad := oilChange()
	bad.Quantity = 0
	_, err = svc.Create(ctx, 1, CreateInput{Title: "x", Lines: []LineInput{bad}})
	require.ErrorIs(t, err, shared.ErrValidation)

	noPart := LineInput{LineType: shared.LineInventoryPart, Description: "Filter", VMRSCode: "045", Quantity: 1}
	_, err = svc.Create(ctx, 1, CreateInput{Title: "x", Lines: []LineInput{noPart}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Get(ctx, 2, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

type staticSettings organizations.Settings

func (s staticSettings) Settings(ctx context.Context, orgID int64) (organizations.Settings, error) {
	return organizations.Settings(s), nil
}

func TestHandlerConversionFlow(t *testing.T) {
	svc, _, _ := newTestService()
	detail, err := svc.Create(context.Background(), 1, CreateInput{Title: "Annual service", Lines: []LineInput{oilChange()}})
	require.NoError(t, err)

	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, staticSettings(approvalRequired), nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithOrg(req.Context(), 1)))
		})
	})
	r.Route("/estimates", h.MountRoutes)

	send := func(method, path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
		return rr
	}
	base := fmt.Sprintf("/estimates/%d", detail.Estimate.ID)

	rr := send(http.MethodGet, base+"/conversion")
	require.Equal(t, http.StatusOK, rr.Code)
	var elig struct {
		Data Eligibility `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &elig))
	require.False(t, elig.Data.CanConvert)

	require.Equal(t, http.StatusConflict, send(http.MethodPost, base+"/convert").Code)
	require.Equal(t, http.StatusOK, send(http.MethodPost, base+"/submit").Code)
	require.Equal(t, http.StatusOK, send(http.MethodPost, base+"/approve").Code)

	rr = send(http.MethodPost, base+"/convert")
	require.Equal(t, http.StatusCreated, rr.Code)
	var conv struct {
		Data Conversion `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conv))
	require.Equal(t, "WO-2610-0001", conv.Data.WorkOrderNumber)

	require.Equal(t, http.StatusConflict, send(http.MethodPost, base+"/convert").Code)
	require.Equal(t, http.StatusNotFound, send(http.MethodGet, "/estimates/999").Code)
}
