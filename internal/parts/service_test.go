package parts

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

type memoryPartRepo struct {
	parts  map[int64]Part
	jobs   map[int64]ImportJob
	nextID int64
	failOn string
}

func newMemoryPartRepo() *memoryPartRepo {
	return &memoryPartRepo{parts: make(map[int64]Part), jobs: make(map[int64]ImportJob)}
}

func (r *memoryPartRepo) WithTx(ctx context.Context, fn func(context.Context) error) error {
	snapshot := make(map[int64]Part, len(r.parts))
	for k, v := range r.parts {
		snapshot[k] = v
	}
	if err := fn(ctx); err != nil {
		r.parts = snapshot
		return err
	}
	return nil
}

func (r *memoryPartRepo) Create(ctx context.Context, part Part) (Part, error) {
	for _, existing := range r.parts {
		if existing.OrgID == part.OrgID && existing.PartNumber == part.PartNumber {
			return Part{}, ErrDuplicatePartNumber
		}
	}
	r.nextID++
	part.ID = r.nextID
	r.parts[part.ID] = part
	return part, nil
}

func (r *memoryPartRepo) Get(ctx context.Context, orgID, id int64) (Part, error) {
	part, ok := r.parts[id]
	if !ok || part.OrgID != orgID {
		return Part{}, ErrNotFound
	}
	return part, nil
}

func (r *memoryPartRepo) List(ctx context.Context, orgID int64, filters ListFilters) ([]Part, int, error) {
	var out []Part
	for id := int64(1); id <= r.nextID; id++ {
		part, ok := r.parts[id]
		if !ok || part.OrgID != orgID {
			continue
		}
		if filters.SmartClass != "" && part.SmartClass != filters.SmartClass {
			continue
		}
		if filters.BelowOnly && !AtOrBelowReorder(part) {
			continue
		}
		out = append(out, part)
	}
	return out, len(out), nil
}

func (r *memoryPartRepo) Update(ctx context.Context, part Part) error {
	if _, ok := r.parts[part.ID]; !ok {
		return ErrNotFound
	}
	r.parts[part.ID] = part
	return nil
}

func (r *memoryPartRepo) AdjustOnHand(ctx context.Context, orgID, id int64, delta float64) (Part, error) {
	part, err := r.Get(ctx, orgID, id)
	if err != nil {
		return Part{}, err
	}
	part.QuantityOnHand += delta
	r.parts[id] = part
	return part, nil
}

func (r *memoryPartRepo) SetClass(ctx context.Context, orgID, id int64, class SmartClass) error {
	part, err := r.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	part.SmartClass = class
	r.parts[id] = part
	return nil
}

func (r *memoryPartRepo) UpsertByNumber(ctx context.Context, part Part) (Part, error) {
	if part.PartNumber == r.failOn {
		return Part{}, io.ErrUnexpectedEOF
	}
	for id, existing := range r.parts {
		if existing.OrgID == part.OrgID && existing.PartNumber == part.PartNumber {
			part.ID = id
			r.parts[id] = part
			return part, nil
		}
	}
	return r.Create(ctx, part)
}

func (r *memoryPartRepo) CreateImportJob(ctx context.Context, job ImportJob) (ImportJob, error) {
	job.ID = int64(len(r.jobs) + 1)
	r.jobs[job.ID] = job
	return job, nil
}

func (r *memoryPartRepo) GetImportJob(ctx context.Context, orgID, id int64) (ImportJob, error) {
	job, ok := r.jobs[id]
	if !ok || job.OrgID != orgID {
		return ImportJob{}, ErrNotFound
	}
	return job, nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		part Part
		want SmartClass
	}{
		{"out of stock", Part{QuantityOnHand: 0, ReorderPoint: 2}, ClassCritical},
		{"at reorder point", Part{QuantityOnHand: 2, ReorderPoint: 2}, ClassLow},
		{"above max", Part{QuantityOnHand: 50, ReorderPoint: 2, MaxQuantity: 20}, ClassOverstock},
		{"no max configured", Part{QuantityOnHand: 50, ReorderPoint: 2}, ClassHealthy},
		{"healthy", Part{QuantityOnHand: 10, ReorderPoint: 2, MaxQuantity: 20}, ClassHealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.part))
		})
	}
}

func TestReceiveStockReclassifies(t *testing.T) {
	repo := newMemoryPartRepo()
	svc := NewService(repo)
	ctx := context.Background()

	part, err := svc.Create(ctx, 1, Input{PartNumber: "BRK-01", Name: "Brake pad", UnitCost: 25, ReorderPoint: 4})
	require.NoError(t, err)
	require.Equal(t, ClassCritical, part.SmartClass)

	require.NoError(t, svc.ReceiveStock(ctx, 1, part.ID, 10))
	got, err := svc.Get(ctx, 1, part.ID)
	require.NoError(t, err)
	require.Equal(t, 10.0, got.QuantityOnHand)
	require.Equal(t, ClassHealthy, got.SmartClass)

	require.ErrorIs(t, svc.ReceiveStock(ctx, 1, part.ID, 0), shared.ErrValidation)
	require.ErrorIs(t, svc.ReceiveStock(ctx, 2, part.ID, 1), shared.ErrNotFound)
}

func TestReclassifyCountsChanges(t *testing.T) {
	repo := newMemoryPartRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, 1, Input{PartNumber: "A", Name: "a", QuantityOnHand: 5, ReorderPoint: 1})
	require.NoError(t, err)
	stale, err := svc.Create(ctx, 1, Input{PartNumber: "B", Name: "b", QuantityOnHand: 1, ReorderPoint: 3})
	require.NoError(t, err)
	stale.SmartClass = ClassUnclassified
	repo.parts[stale.ID] = stale

	summary, err := svc.Reclassify(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Changed)
	require.Equal(t, 1, summary.ByClass[ClassLow])
	require.Equal(t, ClassLow, repo.parts[stale.ID].SmartClass)
}

func TestImportPartialSuccess(t *testing.T) {
	repo := newMemoryPartRepo()
	svc := NewService(repo)
	sheet := "\xEF\xBB\xBFpart_number,name,unit_cost,quantity_on_hand,reorder_point,max_quantity\n" +
		"OIL-5W30,Engine oil,8.50,40,10,100\n" +
		"FLT-01,,4,2,1,\n" +
		"OIL-5W30,Duplicate,1,1,1,\n" +
		"\n" +
		"TIR-22,Tire,abc,4,2,\n" +
		"BLT-9,Belt,12,3,5,\n"

	job, err := svc.Import(context.Background(), 1, "parts.csv", strings.NewReader(sheet))
	require.NoError(t, err)
	require.Equal(t, ImportCompletedWithErrors, job.Status)
	require.Equal(t, 5, job.TotalRows)
	require.Equal(t, 2, job.ImportedRows)
	require.Equal(t, 3, job.ErrorRows)

	codes := map[string]int{}
	for _, e := range job.Errors {
		codes[e.Code]++
	}
	require.Equal(t, 1, codes[CodeRequiredField])
	require.Equal(t, 1, codes[CodeDuplicateInFile])
	require.Equal(t, 1, codes[CodeInvalidType])
	require.Equal(t, 3, job.Errors[0].Row)

	parts, _, err := svc.List(context.Background(), 1, ListFilters{})
	require.NoError(t, err)
	require.Len(t, parts, 2)
	require.Equal(t, ClassLow, parts[1].SmartClass)
}

func TestImportUpsertsExistingPart(t *testing.T) {
	repo := newMemoryPartRepo()
	svc := NewService(repo)
	ctx := context.Background()
	existing, err := svc.Create(ctx, 1, Input{PartNumber: "OIL-5W30", Name: "Old name", QuantityOnHand: 1})
	require.NoError(t, err)

	job, err := svc.Import(ctx, 1, "parts.csv", strings.NewReader("part_number,name,unit_cost,quantity_on_hand,reorder_point\nOIL-5W30,Engine oil,9,12,3\n"))
	require.NoError(t, err)
	require.Equal(t, ImportCompleted, job.Status)
	require.Empty(t, job.Errors)
	require.Equal(t, "Engine oil", repo.parts[existing.ID].Name)
	require.Equal(t, 12.0, repo.parts[existing.ID].QuantityOnHand)
}

func TestImportRejectsBadFiles(t *testing.T) {
	svc := NewService(newMemoryPartRepo())
	ctx := context.Background()

	_, err := svc.Import(ctx, 1, "empty.csv", strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyFile)

	_, err = svc.Import(ctx, 1, "latin1.csv", bytes.NewReader([]byte("part_number,name\n\xff\xfe,x\n")))
	require.ErrorIs(t, err, shared.ErrValidation)

	job, err := svc.Import(ctx, 1, "headers.csv", strings.NewReader("part_number,name\nA,b\n"))
	require.NoError(t, err)
	require.Equal(t, ImportFailed, job.Status)
	require.Equal(t, CodeMissingHeader, job.Errors[0].Code)
}

func TestImportRollsBackOnWriteFailure(t *testing.T) {
	repo := newMemoryPartRepo()
	repo.failOn = "B"
	svc := NewService(repo)

	job, err := svc.Import(context.Background(), 1, "parts.csv",
		strings.NewReader("part_number,name,unit_cost,quantity_on_hand,reorder_point\nA,a,1,1,1\nB,b,1,1,1\n"))
	require.NoError(t, err)
	require.Equal(t, ImportFailed, job.Status)
	require.Equal(t, 0, job.ImportedRows)
	require.Empty(t, repo.parts)
}

func newTestRouter(svc *Service) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithOrg(req.Context(), 1)))
		})
	})
	r.Route("/parts", h.MountRoutes)
	r.Route("/imports", h.MountImportRoutes)
	return r
}

func TestHandlerImportUpload(t *testing.T) {
	router := newTestRouter(NewService(newMemoryPartRepo()))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "parts.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("part_number,name,unit_cost,quantity_on_hand,reorder_point\nA-1,Filter,3,6,2\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports/parts", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"completed"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/imports/1", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/parts?class=healthy", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"partNumber":"A-1"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/parts", strings.NewReader(`{"partNumber":"A-1","name":"dup"}`)))
	require.Equal(t, http.StatusConflict, rr.Code)
}
