package sales

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type counter struct {
	mu   sync.Mutex
	last map[int]int64
}

func (c *counter) NextInvoiceSequence(_ context.Context, year int) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		c.last = make(map[int]int64)
	}
	c.last[year]++
	return c.last[year], nil
}

func TestFormatInvoiceNumber(t *testing.T) {
	require.Equal(t, "INV-2026-0001", FormatInvoiceNumber(2026, 1))
	require.Equal(t, "INV-2026-0420", FormatInvoiceNumber(2026, 420))
	require.Equal(t, "INV-2026-12345", FormatInvoiceNumber(2026, 12345))
}

func TestAllocateInvoiceNumberScopedByYear(t *testing.T) {
	ctx := context.Background()
	seq := &counter{}
	a, err := AllocateInvoiceNumber(ctx, seq, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	b, err := AllocateInvoiceNumber(ctx, seq, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	c, err := AllocateInvoiceNumber(ctx, seq, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "INV-2025-0001", a)
	require.Equal(t, "INV-2026-0001", b)
	require.Equal(t, "INV-2026-0002", c)
}

func TestNewInvoiceForOrder(t *testing.T) {
	order := Order{ID: uuid.New(), CustomerID: "C1", TotalAmount: decimal.RequireFromString("1000.005")}
	issue := time.Date(2026, 3, 15, 17, 30, 0, 0, time.UTC)
	inv, err := NewInvoiceForOrder(order, "INV-2026-0007", issue, DefaultPaymentTerms, issue)
	require.NoError(t, err)
	require.Equal(t, order.ID, inv.OrderID)
	require.Equal(t, "C1", inv.CustomerID)
	require.True(t, inv.TotalAmount.Equal(decimal.RequireFromString("1000.00")), inv.TotalAmount.String())
	require.True(t, inv.PaidAmount.IsZero())
	require.Equal(t, time.Date(2026, 4, 14, 0, 0, 0, 0, time.UTC), inv.DueDate)
	require.Equal(t, InvoiceStatusPending, inv.Status)

	_, err = NewInvoiceForOrder(order, "INV-2026-0008", issue, -1, issue)
	require.Error(t, err)
}

func TestGenerateOrderNumber(t *testing.T) {
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	a := GenerateOrderNumber(at)
	b := GenerateOrderNumber(at)
	require.Regexp(t, regexp.MustCompile(`^ORD-20261017-[0-9A-F]{8}$`), a)
	require.NotEqual(t, a, b)
}

func TestPaymentStatus(t *testing.T) {
	total := decimal.NewFromInt(100)
	require.Equal(t, InvoiceStatusPending, PaymentStatus(total, decimal.Zero))
	require.Equal(t, InvoiceStatusPartiallyPaid, PaymentStatus(total, decimal.NewFromInt(40)))
	require.Equal(t, InvoiceStatusPaid, PaymentStatus(total, total))
}
