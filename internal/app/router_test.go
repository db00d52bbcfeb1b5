package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/coordinator"
	"github.com/odyssey-erp/odyssey-ops/internal/observability"
	"github.com/odyssey-erp/odyssey-ops/internal/rbac"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory"
	"github.com/odyssey-erp/odyssey-ops/jobs"
)

func newTestRouter(t *testing.T, perMinute int) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	st.AddCustomer(sales.Customer{ID: "C1"})
	st.Grant("clerk", shared.PermOrderCreate)
	metrics := observability.NewMetrics()
	mw := rbac.Middleware{Service: rbac.NewService(st), Logger: logger}
	svc := coordinator.NewService(st, logger, metrics, coordinator.Config{})
	return NewRouter(RouterParams{
		Logger:             logger,
		Config:             &Config{RateLimitPerMinute: perMinute},
		CoordinatorHandler: coordinator.NewHandler(logger, svc, mw),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbac.NewService(st), mw),
		JobHandler:         jobs.NewHandler(nil, logger),
		Metrics:            metrics,
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func postOrder(h http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(`{"order":{"customer_id":"C1","total_amount":"10"}}`))
	req.Header.Set(rbac.ActorHeader, "clerk")
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	h := newTestRouter(t, 60)
	rec := get(h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRouterMountsEngineAndMetrics(t *testing.T) {
	h := newTestRouter(t, 60)

	rec := postOrder(h)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = get(h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "odyssey_composite_writes_total")

	rec = get(h, "/jobs/health")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(h, "/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRouterRateLimitsWrites(t *testing.T) {
	h := newTestRouter(t, 2)

	require.Equal(t, http.StatusCreated, postOrder(h).Code)
	require.Equal(t, http.StatusCreated, postOrder(h).Code)
	rec := postOrder(h)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.Equal(t, http.StatusOK, get(h, "/healthz").Code)
}
