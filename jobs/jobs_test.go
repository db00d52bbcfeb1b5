package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/consistency"
	"github.com/odyssey-erp/odyssey-ops/internal/coordinator"
	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-ops/internal/jobs"
	"github.com/odyssey-erp/odyssey-ops/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory/memorytest"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSweepJob(t *testing.T) (*ConsistencySweepJob, *memory.Store, *cache.LocalLock) {
	t.Helper()
	st := memory.New()
	st.AddCustomer(sales.Customer{ID: "C1"})
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	lock := cache.NewLocalLock()
	auditor := consistency.NewAuditor(st, discard(), metrics)
	repairer := consistency.NewRepairer(st, lock, discard(), metrics, consistency.RepairConfig{})
	return NewConsistencySweepJob(auditor, repairer, discard(), metrics), st, lock
}

func TestConsistencySweepRepairsWhenRequested(t *testing.T) {
	job, st, _ := newSweepJob(t)
	lot := st.AddLot(inventory.Lot{MaterialName: "resin", RemainingQuantity: decimal.NewFromInt(5), CostPerUnit: decimal.NewFromInt(1)})
	memorytest.ForceLotRemaining(t, st, lot.ID, decimal.NewFromInt(-1))

	task, err := NewConsistencySweepTask(false)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	got, err := st.GetLot(context.Background(), lot.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingQuantity.IsNegative())

	task, err = NewConsistencySweepTask(true)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	got, err = st.GetLot(context.Background(), lot.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingQuantity.IsZero())
}

func TestConsistencySweepNeverDeletesInvoices(t *testing.T) {
	job, st, _ := newSweepJob(t)
	svc := coordinator.NewService(st, discard(), nil, coordinator.Config{})
	res, err := svc.CreateOrderWithInvoice(context.Background(), coordinator.OrderInput{CustomerID: "C1", TotalAmount: decimal.NewFromInt(10)}, nil)
	require.NoError(t, err)
	memorytest.DeleteOrder(t, st, res.Order.ID)

	task, err := NewConsistencySweepTask(true)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	_, ok := st.Invoice(res.Invoice.ID)
	require.True(t, ok)
}

func TestConsistencySweepYieldsToHeldLock(t *testing.T) {
	job, st, lock := newSweepJob(t)
	lot := st.AddLot(inventory.Lot{MaterialName: "resin", RemainingQuantity: decimal.NewFromInt(5), CostPerUnit: decimal.NewFromInt(1)})
	memorytest.ForceLotRemaining(t, st, lot.ID, decimal.NewFromInt(-1))
	lease, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release(context.Background())

	task, err := NewConsistencySweepTask(true)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	got, err := st.GetLot(context.Background(), lot.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingQuantity.IsNegative())
}

func TestConsistencySweepRejectsBadPayload(t *testing.T) {
	job, _, _ := newSweepJob(t)
	err := job.Handle(context.Background(), asynq.NewTask(TaskConsistencySweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type countingJanitor struct {
	retention time.Duration
	err       error
}

func (j *countingJanitor) CleanupIdempotencyKeys(_ context.Context, retention time.Duration) (int64, error) {
	j.retention = retention
	return 3, j.err
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	janitor := &countingJanitor{}
	job := NewIdempotencyCleanupJob(janitor, 72*time.Hour, discard(), nil)

	task, err := NewTask(TaskIdempotencyCleanup)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, janitor.retention)

	task, err = NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, janitor.retention)
}

func TestIdempotencyCleanupPropagatesFailure(t *testing.T) {
	janitor := &countingJanitor{err: errors.New("db down")}
	job := NewIdempotencyCleanupJob(janitor, time.Hour, discard(), nil)

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.EqualError(t, job.Handle(context.Background(), task), "db down")
}

func TestNewTaskRejectsUnknownType(t *testing.T) {
	_, err := NewTask("mail:send")
	require.Error(t, err)

	task, err := NewTask(TaskConsistencySweep)
	require.NoError(t, err)
	var payload ConsistencySweepPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.False(t, payload.Repair)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthReportsQueueDepth(t *testing.T) {
	h := NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4}}, discard())
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body queueHealth
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, 4, body.Pending)

	h = NewHandler(stubInspector{err: errors.New("redis down")}, discard())
	r = chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
