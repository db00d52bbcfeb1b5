package consistency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/rbac"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory/memorytest"
)

type stubEnqueuer struct {
	repair []bool
}

func (e *stubEnqueuer) EnqueueConsistencySweep(_ context.Context, repair bool) (string, error) {
	e.repair = append(e.repair, repair)
	return "task-1", nil
}

func newTestRouter(t *testing.T) (http.Handler, *fixture, *stubEnqueuer) {
	t.Helper()
	f := newFixture(t)
	f.store.Grant("ops", shared.PermMaintenance)
	f.store.Grant("clerk", shared.PermOrderCreate)
	logger := discardLogger()
	enq := &stubEnqueuer{}
	mw := rbac.Middleware{Service: rbac.NewService(f.store), Logger: logger}
	h := NewHandler(logger, f.auditor, f.repairer, enq, mw)

	r := chi.NewRouter()
	r.Route("/api/maintenance", h.MountRoutes)
	return r, f, enq
}

func send(t *testing.T, h http.Handler, method, actor, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(rbac.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerFindings(t *testing.T) {
	h, f, _ := newTestRouter(t)
	res := f.createOrder(t, "10", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	memorytest.DeleteInvoiceForOrder(t, f.store, res.Order.ID)

	rec := send(t, h, http.MethodGet, "ops", "/api/maintenance/findings", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body findingsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, CategoryOrderWithoutInvoice, body.Findings[0].Category)
}

// ctxReader fails a query once its context is done, as a database driver would.
type ctxReader struct {
	store.Reader
}

func (r ctxReader) OrdersWithoutInvoice(ctx context.Context) ([]sales.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Reader.OrdersWithoutInvoice(ctx)
}

func TestHandlerFindingsScanOutlivesCancelledRequest(t *testing.T) {
	f := newFixture(t)
	f.store.Grant("ops", shared.PermMaintenance)
	res := f.createOrder(t, "10", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	memorytest.DeleteInvoiceForOrder(t, f.store, res.Order.ID)

	logger := discardLogger()
	mw := rbac.Middleware{Service: rbac.NewService(f.store), Logger: logger}
	h := NewHandler(logger, NewAuditor(ctxReader{Reader: f.store}, logger, nil), f.repairer, nil, mw)
	r := chi.NewRouter()
	r.Route("/api/maintenance", h.MountRoutes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/maintenance/findings", nil).WithContext(ctx)
	req.Header.Set(rbac.ActorHeader, "ops")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body findingsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 1, body.Count)
}

func TestHandlerFindingsRequiresPermission(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := send(t, h, http.MethodGet, "clerk", "/api/maintenance/findings", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(t, h, http.MethodGet, "", "/api/maintenance/findings", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerRepairDefaultsToDryRun(t *testing.T) {
	h, f, _ := newTestRouter(t)
	res := f.createOrder(t, "10", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	memorytest.DeleteInvoiceForOrder(t, f.store, res.Order.ID)

	rec := send(t, h, http.MethodPost, "ops", "/api/maintenance/repair", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report RepairReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.True(t, report.DryRun)
	require.Equal(t, 1, report.Planned)
	_, ok := f.store.InvoiceForOrder(res.Order.ID)
	require.False(t, ok)

	rec = send(t, h, http.MethodPost, "ops", "/api/maintenance/repair", `{"dry_run":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	require.False(t, report.DryRun)
	require.Equal(t, 1, report.Applied)
	_, ok = f.store.InvoiceForOrder(res.Order.ID)
	require.True(t, ok)

	audits := repairAudits(f.store.AuditLogs())
	require.Len(t, audits, 1)
	require.Equal(t, "ops", audits[0].ActorID)
}

func TestHandlerRepairConflictsWhileLocked(t *testing.T) {
	h, f, _ := newTestRouter(t)
	lease, err := f.lock.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release(context.Background())

	rec := send(t, h, http.MethodPost, "ops", "/api/maintenance/repair", `{"dry_run":false}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRepairRejectsUnknownFields(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := send(t, h, http.MethodPost, "ops", "/api/maintenance/repair", `{"apply":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerSweepEnqueues(t *testing.T) {
	h, _, enq := newTestRouter(t)

	rec := send(t, h, http.MethodPost, "ops", "/api/maintenance/sweep", `{"repair":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Equal(t, []bool{true}, enq.repair)
	require.Contains(t, rec.Body.String(), "task-1")
}
