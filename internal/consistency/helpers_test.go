package consistency

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/coordinator"
	"github.com/odyssey-erp/odyssey-ops/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type countingRecorder struct {
	mu       sync.Mutex
	findings map[string]int
	repairs  map[string]int
}

func (r *countingRecorder) AddFindings(category string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findings == nil {
		r.findings = map[string]int{}
	}
	r.findings[category] += count
}

func (r *countingRecorder) AddRepairs(outcome string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.repairs == nil {
		r.repairs = map[string]int{}
	}
	r.repairs[outcome] += count
}

type fixture struct {
	store    *memory.Store
	engine   *coordinator.Service
	auditor  *Auditor
	repairer *Repairer
	lock     *cache.LocalLock
	recorder *countingRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	st.AddCustomer(sales.Customer{ID: "C1", Name: "Acme"})
	rec := &countingRecorder{}
	lock := cache.NewLocalLock()
	logger := discardLogger()
	return &fixture{
		store:    st,
		engine:   coordinator.NewService(st, logger, nil, coordinator.Config{DefaultPaymentTerms: 30}),
		auditor:  NewAuditor(st, logger, rec),
		repairer: NewRepairer(st, lock, logger, rec, RepairConfig{PaymentTerms: 30}),
		lock:     lock,
		recorder: rec,
	}
}

func (f *fixture) createOrder(t *testing.T, total string, at time.Time) coordinator.OrderWithInvoice {
	t.Helper()
	res, err := f.engine.CreateOrderWithInvoice(context.Background(), coordinator.OrderInput{
		CustomerID:  "C1",
		TotalAmount: dec(total),
		OrderDate:   at,
	}, nil)
	require.NoError(t, err)
	return res
}

func categoriesOf(findings []Finding) []Category {
	out := make([]Category, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Category)
	}
	return out
}
