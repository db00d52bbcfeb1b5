// Package memorytest breaks cross-table invariants in a memory.Store the way an
// out-of-band SQL session would, so auditor and repairer tests have drift to find.
package memorytest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory"
)

// rawTx holds the memory transaction operations that store.Tx leaves out.
type rawTx interface {
	DeleteOrder(ctx context.Context, id uuid.UUID) error
	ReplaceBatch(ctx context.Context, b production.Batch) error
}

func raw(t testing.TB, tx store.Tx) rawTx {
	t.Helper()
	r, ok := tx.(rawTx)
	require.True(t, ok, "transaction %T has no raw operations", tx)
	return r
}

func write(t testing.TB, st *memory.Store, fn func(context.Context, store.Tx) error) {
	t.Helper()
	require.NoError(t, st.WithTx(context.Background(), fn))
}

// DeleteOrder removes an order without touching its invoice.
func DeleteOrder(t testing.TB, st *memory.Store, id uuid.UUID) {
	t.Helper()
	write(t, st, func(ctx context.Context, tx store.Tx) error {
		return raw(t, tx).DeleteOrder(ctx, id)
	})
}

// DeleteInvoiceForOrder removes the invoice of an order and its ledger rows.
func DeleteInvoiceForOrder(t testing.TB, st *memory.Store, orderID uuid.UUID) {
	t.Helper()
	inv, ok := st.InvoiceForOrder(orderID)
	require.True(t, ok, "order %s has no invoice", orderID)
	write(t, st, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.DeleteLedgerEntries(ctx, inv.ID); err != nil {
			return err
		}
		return tx.DeleteInvoice(ctx, inv.ID)
	})
}

// DeleteLedgerEntry removes the ledger row of kind projected for ref.
func DeleteLedgerEntry(t testing.TB, st *memory.Store, kind ledger.TransactionType, ref uuid.UUID) {
	t.Helper()
	_, ok := st.LedgerEntry(kind, ref)
	require.True(t, ok, "no %s ledger row for %s", kind, ref)
	write(t, st, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.DeleteLedgerEntries(ctx, ref)
		return err
	})
}

// ForceLotRemaining overwrites a lot's remaining quantity without any check.
func ForceLotRemaining(t testing.TB, st *memory.Store, id uuid.UUID, qty decimal.Decimal) {
	t.Helper()
	write(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.SetLotRemaining(ctx, id, qty)
	})
}

// PutBatch stores a batch row as is, replacing any row with the same id.
func PutBatch(t testing.TB, st *memory.Store, b production.Batch) {
	t.Helper()
	write(t, st, func(ctx context.Context, tx store.Tx) error {
		return raw(t, tx).ReplaceBatch(ctx, b)
	})
}

// PutBatchInput stores a batch input row as is, whether or not its batch exists.
func PutBatchInput(t testing.TB, st *memory.Store, in production.BatchInput) {
	t.Helper()
	write(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertBatchInputs(ctx, []production.BatchInput{in})
	})
}
