package httpx

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// IdempotencyKeyHeader carries the client supplied retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader is set on responses served from the idempotency store.
const ReplayedHeader = "Idempotent-Replayed"

// replayHeaders are stored alongside the body and restored on replay.
var replayHeaders = []string{"Content-Type", "Location", DegradedHeader}

const finishTimeout = 3 * time.Second

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) stored() shared.StoredResponse {
	resp := shared.StoredResponse{Status: w.status}
	for _, name := range replayHeaders {
		if v := w.Header().Get(name); v != "" {
			if resp.Headers == nil {
				resp.Headers = make(map[string]string, len(replayHeaders))
			}
			resp.Headers[name] = v
		}
	}
	if body := bytes.TrimSpace(w.body.Bytes()); len(body) > 0 {
		resp.Body = body
	}
	return resp
}

// Idempotent replays the stored response for a repeated Idempotency-Key. Requests
// without the header pass through untouched. Only 2xx responses are stored; a
// failed, cancelled or panicking attempt releases the key so the client can retry.
func Idempotent(store *shared.IdempotencyStore, module string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if orgID, ok := shared.OrgFromContext(r.Context()); ok {
				key = r.URL.Path + "|" + key + "|" + itoa(orgID)
			}
			stored, err := store.Begin(r.Context(), key, module)
			if err != nil {
				if logger != nil && !IsClientError(err) {
					logger.Error("idempotency begin", slog.String("module", module), slog.Any("error", err))
				}
				RespondError(w, err)
				return
			}
			if stored != nil {
				replay(w, stored)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			completed := false
			defer func() {
				// The request context may already be cancelled here.
				ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), finishTimeout)
				defer cancel()
				var err error
				if completed {
					err = store.Complete(ctx, key, module, cw.stored())
				} else {
					err = store.Delete(ctx, key, module)
				}
				if err != nil && logger != nil {
					logger.Warn("idempotency finish", slog.String("module", module), slog.Any("error", err))
				}
			}()

			next.ServeHTTP(cw, r)
			completed = cw.status >= 200 && cw.status < 300
		})
	}
}

func replay(w http.ResponseWriter, stored *shared.StoredResponse) {
	for name, v := range stored.Headers {
		w.Header().Set(name, v)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}
