package stockcount

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/HDurna/drn-satis-yazilimi/internal/rbac"
	"github.com/HDurna/drn-satis-yazilimi/internal/shared"
)

func serveAs(t *testing.T, f *fixture, actor shared.Actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), actor)))
		})
	})
	NewHandler(logger, f.svc, validator.New(), rbac.Middleware{Logger: logger}).MountRoutes(r)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleApproveStatuses(t *testing.T) {
	f := newFixture(1)
	f.seed(1, 50)
	ctx := context.Background()
	count := f.populated(t)
	item := itemFor(t, count.Items, 1)
	approvePath := fmt.Sprintf("/%d/approve", count.ID)

	rec := serveAs(t, f, manager, http.MethodPost, approvePath, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serveAs(t, f, cashier, http.MethodPut, fmt.Sprintf("/items/%d", item.ID), `{"counted_stock":47}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = serveAs(t, f, cashier, http.MethodPost, fmt.Sprintf("/%d/submit", count.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serveAs(t, f, cashier, http.MethodPost, approvePath, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serveAs(t, f, manager, http.MethodPost, approvePath, `{"note":"tamam"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result ApprovalResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, count.ID, result.CountID)
	require.Equal(t, 1, result.Adjusted)
	require.Equal(t, int64(47), f.stockOf(t, 1))

	rec = serveAs(t, f, manager, http.MethodPost, approvePath, "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serveAs(t, f, manager, http.MethodPost, fmt.Sprintf("/%d/repost", count.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Zero(t, result.Adjusted)
	require.Equal(t, 1, result.Skipped)

	logs, err := f.svc.Approvals(ctx, count.ID)
	require.NoError(t, err)
	require.Equal(t, "tamam", logs[len(logs)-1].Note)
}

func TestHandleApproveUnknownCount(t *testing.T) {
	f := newFixture(1)
	rec := serveAs(t, f, manager, http.MethodPost, "/999/approve", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = serveAs(t, f, manager, http.MethodPost, "/abc/approve", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreateValidates(t *testing.T) {
	f := newFixture(1)
	rec := serveAs(t, f, cashier, http.MethodPost, "/", `{"name":"","warehouse_id":10}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveAs(t, f, cashier, http.MethodPost, "/", `{"name":"Raf 3","warehouse_id":10}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var count StockCount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &count))
	require.Equal(t, StatusOpen, count.Status)
}
