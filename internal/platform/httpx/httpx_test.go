package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

func TestRespondErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: fmt.Errorf("workorders: %w", shared.ErrNotFound), status: http.StatusNotFound, code: CodeNotFound},
		{err: fmt.Errorf("%w: already converted", shared.ErrInvalidTransition), status: http.StatusConflict, code: CodeInvalidTransition},
		{err: fmt.Errorf("%w: vmrs code required", shared.ErrValidation), status: http.StatusUnprocessableEntity, code: CodeValidation},
		{err: shared.ErrConflict, status: http.StatusConflict, code: CodeConflict},
		{err: fmt.Errorf("%w: invalid id", ErrBadRequest), status: http.StatusBadRequest, code: CodeBadRequest},
		{err: fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"}), status: http.StatusConflict, code: CodeConflict},
		{err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: CodeInternal},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, tc.code, problem.Code)
		require.Equal(t, tc.status, problem.Status)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("dial tcp 10.0.0.1: refused"))
	require.NotContains(t, rr.Body.String(), "10.0.0.1")
}

type lineRequest struct {
	VMRSCode string  `json:"vmrsCode" validate:"required"`
	Quantity float64 `json:"quantity" validate:"gt=0"`
}

func TestDecodeValidReportsJSONFieldNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"quantity":0}`))
	var body lineRequest
	err := DecodeValid(req, &body)
	require.Error(t, err)

	rr := httptest.NewRecorder()
	RespondError(rr, err)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "required", problem.Fields["vmrsCode"])
	require.Equal(t, "gt", problem.Fields["quantity"])
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"vmrsCode":"013-001","qty":1}`))
	var body lineRequest
	err := DecodeJSON(req, &body)
	require.ErrorIs(t, err, ErrBadRequest)

	req = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	require.ErrorIs(t, DecodeJSON(req, &body), ErrBadRequest)
}

func TestDataMarksDegradedResponses(t *testing.T) {
	rr := httptest.NewRecorder()
	Data(rr, http.StatusCreated, map[string]int{"id": 1}, "asset 7 not found")
	require.Equal(t, "true", rr.Header().Get(DegradedHeader))
	require.JSONEq(t, `{"data":{"id":1},"warnings":["asset 7 not found"]}`, rr.Body.String())

	rr = httptest.NewRecorder()
	Data(rr, http.StatusOK, map[string]int{"id": 1})
	require.Empty(t, rr.Header().Get(DegradedHeader))
	require.JSONEq(t, `{"data":{"id":1}}`, rr.Body.String())
}

func TestIdempotentReplaysSuccessfulResponse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := shared.NewIdempotencyStore(client, time.Hour)

	calls := 0
	handler := Idempotent(store, "test.convert", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		Data(w, http.StatusCreated, map[string]int{"call": calls})
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/estimates/1/convert", nil)
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := send("abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := send("abc")
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(ReplayedHeader))
	require.JSONEq(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, calls)

	send("")
	require.Equal(t, 2, calls)
}

func TestIdempotentReleasesKeyOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := shared.NewIdempotencyStore(client, time.Hour)

	fail := true
	handler := Idempotent(store, "test.convert", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			RespondError(w, shared.ErrInvalidTransition)
			return
		}
		Data(w, http.StatusOK, "ok")
	}))

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(IdempotencyKeyHeader, "k")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)

	fail = false
	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(IdempotencyKeyHeader, "k")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Header().Get(ReplayedHeader))
}

func newIdempotencyStore(t *testing.T) (*shared.IdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewIdempotencyStore(client, 24*time.Hour), mr
}

func TestIdempotentReleasesKeyWhenRequestCancelled(t *testing.T) {
	store, mr := newIdempotencyStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	handler := Idempotent(store, "test.convert", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// client goes away mid-request
			cancel()
			RespondError(w, r.Context().Err())
			return
		}
		Data(w, http.StatusCreated, map[string]int{"call": calls})
	}))

	req := httptest.NewRequest(http.MethodPost, "/estimates/1/convert", nil).WithContext(ctx)
	req.Header.Set(IdempotencyKeyHeader, "retry-me")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Empty(t, mr.Keys())

	req = httptest.NewRequest(http.MethodPost, "/estimates/1/convert", nil)
	req.Header.Set(IdempotencyKeyHeader, "retry-me")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, 2, calls)
}

func TestIdempotentReleasesKeyOnPanic(t *testing.T) {
	store, mr := newIdempotencyStore(t)

	handler := Idempotent(store, "test.convert", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(IdempotencyKeyHeader, "k")
	require.Panics(t, func() { handler.ServeHTTP(httptest.NewRecorder(), req) })
	require.Empty(t, mr.Keys())
}

func TestIdempotentReplaysDegradedHeader(t *testing.T) {
	store, _ := newIdempotencyStore(t)

	handler := Idempotent(store, "test.convert", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Data(w, http.StatusCreated, map[string]int{"id": 9}, "asset 7 not found")
	}))
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(IdempotencyKeyHeader, "k")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	require.Equal(t, "true", first.Header().Get(DegradedHeader))
	second := send()
	require.Equal(t, "true", second.Header().Get(ReplayedHeader))
	require.Equal(t, "true", second.Header().Get(DegradedHeader))
	require.Equal(t, first.Header().Get("Content-Type"), second.Header().Get("Content-Type"))
	require.JSONEq(t, first.Body.String(), second.Body.String())
}
