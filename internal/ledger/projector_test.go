package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/sales"
)

type memoryWriter struct {
	rows map[string]Entry
	err  error
}

func newMemoryWriter() *memoryWriter {
	return &memoryWriter{rows: make(map[string]Entry)}
}

func (w *memoryWriter) InsertLedgerEntry(_ context.Context, entry Entry) (bool, error) {
	if w.err != nil {
		return false, w.err
	}
	key := string(entry.TransactionType) + ":" + entry.ReferenceID.String()
	if _, ok := w.rows[key]; ok {
		return false, nil
	}
	w.rows[key] = entry
	return true, nil
}

func TestProjectInvoiceDebit(t *testing.T) {
	w := newMemoryWriter()
	p := NewProjector()
	inv := sales.Invoice{ID: uuid.New(), CustomerID: "C1", InvoiceNumber: "INV-2026-0001", TotalAmount: decimal.RequireFromString("1000.00")}

	entry, err := p.ProjectInvoice(context.Background(), w, inv)
	require.NoError(t, err)
	require.Equal(t, Debit, entry.BalanceImpact)
	require.Equal(t, TransactionInvoice, entry.TransactionType)
	require.Equal(t, inv.ID, entry.ReferenceID)
	require.True(t, entry.Amount.Equal(decimal.RequireFromString("1000")))
	require.Len(t, w.rows, 1)
}

func TestProjectPaymentCreditIsNegative(t *testing.T) {
	w := newMemoryWriter()
	p := NewProjector()
	pay := sales.Payment{ID: uuid.New(), InvoiceID: uuid.New(), CustomerID: "C1", Amount: decimal.RequireFromString("250.125")}

	entry, err := p.ProjectPayment(context.Background(), w, pay)
	require.NoError(t, err)
	require.Equal(t, Credit, entry.BalanceImpact)
	require.Equal(t, "-250.12", entry.Amount.StringFixed(2))
}

func TestProjectCreditNoteRequiresApproval(t *testing.T) {
	w := newMemoryWriter()
	p := NewProjector()
	cn := sales.CreditNote{ID: uuid.New(), CustomerID: "C1", Amount: decimal.NewFromInt(50), Status: sales.CreditNoteStatusPending}

	_, err := p.ProjectCreditNote(context.Background(), w, cn)
	require.ErrorIs(t, err, ErrCreditNoteNotApproved)
	require.Empty(t, w.rows)

	cn.Status = sales.CreditNoteStatusApproved
	entry, err := p.ProjectCreditNote(context.Background(), w, cn)
	require.NoError(t, err)
	require.Equal(t, TransactionCreditNote, entry.TransactionType)
	require.True(t, entry.Amount.Equal(decimal.NewFromInt(-50)))
}

func TestProjectionIsIdempotentPerReference(t *testing.T) {
	w := newMemoryWriter()
	p := NewProjector()
	inv := sales.Invoice{ID: uuid.New(), CustomerID: "C1", TotalAmount: decimal.NewFromInt(10)}

	_, err := p.ProjectInvoice(context.Background(), w, inv)
	require.NoError(t, err)
	_, err = p.ProjectInvoice(context.Background(), w, inv)
	require.NoError(t, err)
	require.Len(t, w.rows, 1)
}

func TestProjectRejectsNonPositiveAmounts(t *testing.T) {
	p := NewProjector()
	_, err := p.ProjectInvoice(context.Background(), newMemoryWriter(), sales.Invoice{ID: uuid.New(), TotalAmount: decimal.Zero})
	require.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestProjectWrapsWriterError(t *testing.T) {
	w := newMemoryWriter()
	w.err = errors.New("disk full")
	_, err := NewProjector().ProjectInvoice(context.Background(), w, sales.Invoice{ID: uuid.New(), TotalAmount: decimal.NewFromInt(1)})
	require.ErrorContains(t, err, "disk full")
}
