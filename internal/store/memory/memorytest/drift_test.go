package memorytest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory"
)

func seedInvoicedOrder(t *testing.T, st *memory.Store) (sales.Order, sales.Invoice) {
	t.Helper()
	st.AddCustomer(sales.Customer{ID: "C1", Name: "Acme"})
	order := sales.Order{ID: uuid.New(), CustomerID: "C1", OrderNumber: "ORD-1", OrderDate: time.Now(), TotalAmount: decimal.NewFromInt(10), Status: sales.OrderStatusPending}
	inv := sales.Invoice{ID: uuid.New(), OrderID: order.ID, CustomerID: "C1", InvoiceNumber: "INV-2024-0001", TotalAmount: order.TotalAmount, Status: sales.InvoiceStatusPending}
	require.NoError(t, st.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertInvoice(ctx, inv); err != nil {
			return err
		}
		_, err := tx.InsertLedgerEntry(ctx, ledger.Entry{ID: uuid.New(), TransactionType: ledger.TransactionInvoice, ReferenceID: inv.ID, CustomerID: "C1", Amount: inv.TotalAmount, BalanceImpact: ledger.Debit})
		return err
	}))
	return order, inv
}

func TestDeleteOrderLeavesInvoice(t *testing.T) {
	st := memory.New()
	order, inv := seedInvoicedOrder(t, st)

	DeleteOrder(t, st, order.ID)

	_, ok := st.Order(order.ID)
	require.False(t, ok)
	_, ok = st.Invoice(inv.ID)
	require.True(t, ok)
	orphans, err := st.InvoicesWithoutOrder(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
}

func TestDeleteInvoiceForOrderDropsLedgerRows(t *testing.T) {
	st := memory.New()
	order, inv := seedInvoicedOrder(t, st)

	DeleteInvoiceForOrder(t, st, order.ID)

	_, ok := st.Invoice(inv.ID)
	require.False(t, ok)
	require.Zero(t, st.LedgerCount())
}

func TestPutBatchReplacesStoredRow(t *testing.T) {
	st := memory.New()
	lot := st.AddLot(inventory.Lot{MaterialName: "resin", RemainingQuantity: decimal.NewFromInt(5), CostPerUnit: decimal.NewFromInt(1)})
	b := production.Batch{ID: uuid.New(), BatchNumber: "B-1", TotalInputCost: decimal.NewFromInt(2), Status: production.BatchStatusCompleted}

	PutBatch(t, st, b)
	b.TotalInputCost = decimal.NewFromInt(9)
	PutBatch(t, st, b)
	PutBatchInput(t, st, production.BatchInput{ID: uuid.New(), BatchID: b.ID, MaterialIntakeID: lot.ID, QuantityUsed: decimal.NewFromInt(2), UnitCost: decimal.NewFromInt(1), LineCost: decimal.NewFromInt(2)})
	ForceLotRemaining(t, st, lot.ID, decimal.NewFromInt(-1))

	batches := st.Batches()
	require.Len(t, batches, 1)
	require.True(t, batches[0].TotalInputCost.Equal(decimal.NewFromInt(9)))
	mismatches, err := st.BatchCostMismatches(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	negative, err := st.NegativeLots(context.Background())
	require.NoError(t, err)
	require.Len(t, negative, 1)
}
