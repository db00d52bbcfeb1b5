package consistency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/coordinator"
	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
	"github.com/odyssey-erp/odyssey-ops/internal/store/memory/memorytest"
)

func repairAudits(logs []shared.AuditLog) []shared.AuditLog {
	var out []shared.AuditLog
	for _, l := range logs {
		if l.Action == shared.AuditActionRepairApplied {
			out = append(out, l)
		}
	}
	return out
}

func TestRepairSynthesizesInvoiceForOrphanOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	orderDate := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	first := f.createOrder(t, "1000", orderDate)
	require.Equal(t, "INV-2024-0001", first.Invoice.InvoiceNumber)
	memorytest.DeleteInvoiceForOrder(t, f.store, first.Order.ID)

	report, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{ActorID: "ops"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Findings)
	require.Equal(t, 1, report.Applied)
	require.Equal(t, StatusApplied, report.Actions[0].Status)

	inv, ok := f.store.InvoiceForOrder(first.Order.ID)
	require.True(t, ok)
	require.Equal(t, "INV-2024-0002", inv.InvoiceNumber)
	require.True(t, inv.TotalAmount.Equal(dec("1000")))
	require.Equal(t, orderDate.AddDate(0, 0, 30), inv.DueDate)

	entry, ok := f.store.LedgerEntry(ledger.TransactionInvoice, inv.ID)
	require.True(t, ok)
	require.True(t, entry.Amount.Equal(dec("1000")))

	audits := repairAudits(f.store.AuditLogs())
	require.Len(t, audits, 1)
	require.Equal(t, "order", audits[0].Entity)
	require.Equal(t, first.Order.ID.String(), audits[0].EntityID)
	require.Equal(t, "ops", audits[0].ActorID)

	second, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{ActorID: "ops"})
	require.NoError(t, err)
	require.Zero(t, second.Findings)
	require.Zero(t, second.Applied)
	require.Len(t, repairAudits(f.store.AuditLogs()), 1)
}

func TestRepairDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.createOrder(t, "250", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	memorytest.DeleteInvoiceForOrder(t, f.store, res.Order.ID)
	auditsBefore := len(f.store.AuditLogs())
	ledgerBefore := f.store.LedgerCount()

	report, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, report.DryRun)
	require.Equal(t, 1, report.Planned)
	require.Zero(t, report.Applied)

	_, ok := f.store.InvoiceForOrder(res.Order.ID)
	require.False(t, ok)
	require.Equal(t, ledgerBefore, f.store.LedgerCount())
	require.Len(t, f.store.AuditLogs(), auditsBefore)

	findings, err := f.auditor.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 1)
}

func TestRepairClampsNegativeLot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.store.AddLot(inventory.Lot{MaterialName: "resin", RemainingQuantity: dec("10"), CostPerUnit: dec("1.5")})
	memorytest.ForceLotRemaining(t, f.store, lot.ID, dec("-3.5"))

	report, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{ActorID: "ops"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)

	got, err := f.store.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingQuantity.IsZero())

	audits := repairAudits(f.store.AuditLogs())
	require.Len(t, audits, 1)
	require.Equal(t, "-3.5", audits[0].Meta["original_remaining_quantity"])
	require.NotEmpty(t, audits[0].Meta["reason"])
	require.Equal(t, string(CategoryNegativeLot), audits[0].Meta["category"])
}

func TestRepairOrphanInvoiceNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.createOrder(t, "400", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	memorytest.DeleteOrder(t, f.store, res.Order.ID)

	report, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.NeedsConfirmation)
	_, ok := f.store.Invoice(res.Invoice.ID)
	require.True(t, ok)

	report, err = ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{ConfirmDestructive: true, ActorID: "ops"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Applied)
	_, ok = f.store.Invoice(res.Invoice.ID)
	require.False(t, ok)
	_, ok = f.store.LedgerEntry(ledger.TransactionInvoice, res.Invoice.ID)
	require.False(t, ok)

	audits := repairAudits(f.store.AuditLogs())
	require.Len(t, audits, 1)
	require.Equal(t, res.Invoice.InvoiceNumber, audits[0].Meta["invoice_number"])
	require.Equal(t, true, audits[0].Meta["deleted_invoice"])
}

func TestRepairSkipsOrphanInvoiceWithPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.createOrder(t, "400", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	_, err := f.engine.RecordPayment(ctx, coordinator.PaymentInput{InvoiceID: res.Invoice.ID, Amount: dec("100")})
	require.NoError(t, err)
	memorytest.DeleteOrder(t, f.store, res.Order.ID)

	report, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{ConfirmDestructive: true})
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	_, ok := f.store.Invoice(res.Invoice.ID)
	require.True(t, ok)
}

func TestRepairSkipsOrphanInvoiceWithPendingCreditNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.createOrder(t, "400", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	_, err := f.engine.CreateCreditNote(ctx, coordinator.CreditNoteInput{InvoiceID: res.Invoice.ID, Amount: dec("40"), Reason: "returned"})
	require.NoError(t, err)
	memorytest.DeleteOrder(t, f.store, res.Order.ID)

	for range 2 {
		report, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{ConfirmDestructive: true})
		require.NoError(t, err)
		require.Equal(t, 1, report.Skipped)
		require.Zero(t, report.Failed)
		require.Contains(t, report.Actions[0].Description, "1 credit note(s); resolve manually")
	}
	_, ok := f.store.Invoice(res.Invoice.ID)
	require.True(t, ok)
	require.Empty(t, repairAudits(f.store.AuditLogs()))
}

func TestRepairReprojectsMissingLedgerRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.createOrder(t, "500", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	paid, err := f.engine.RecordPayment(ctx, coordinator.PaymentInput{InvoiceID: res.Invoice.ID, Amount: dec("120")})
	require.NoError(t, err)
	memorytest.DeleteLedgerEntry(t, f.store, ledger.TransactionInvoice, res.Invoice.ID)
	memorytest.DeleteLedgerEntry(t, f.store, ledger.TransactionPayment, paid.Payment.ID)

	report, err := ScanAndRun(ctx, f.auditor, f.repairer, RepairOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Applied)

	debit, ok := f.store.LedgerEntry(ledger.TransactionInvoice, res.Invoice.ID)
	require.True(t, ok)
	require.True(t, debit.Amount.Equal(dec("500")))
	credit, ok := f.store.LedgerEntry(ledger.TransactionPayment, paid.Payment.ID)
	require.True(t, ok)
	require.True(t, credit.Amount.Equal(dec("-120")))
	require.Equal(t, ledger.Credit, credit.BalanceImpact)
}

func TestRepairSkipsStaleFindings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.store.AddLot(inventory.Lot{MaterialName: "resin", RemainingQuantity: dec("10"), CostPerUnit: dec("1")})
	memorytest.ForceLotRemaining(t, f.store, lot.ID, dec("-1"))
	res := f.createOrder(t, "75", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	memorytest.DeleteInvoiceForOrder(t, f.store, res.Order.ID)

	findings, err := f.auditor.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, findings, 2)

	memorytest.ForceLotRemaining(t, f.store, lot.ID, dec("4"))
	memorytest.DeleteOrder(t, f.store, res.Order.ID)

	report, err := f.repairer.Run(ctx, findings, RepairOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, report.Skipped)
	require.Zero(t, report.Applied)

	got, err := f.store.GetLot(ctx, lot.ID)
	require.NoError(t, err)
	require.True(t, got.RemainingQuantity.Equal(dec("4")))
}

func TestRepairLeavesBatchFindingsForReview(t *testing.T) {
	f := newFixture(t)
	findings := []Finding{
		{Category: CategoryBatchWithoutInputs},
		{Category: CategoryOrphanBatchInput},
		{Category: CategoryBatchCostMismatch},
	}
	report, err := f.repairer.Run(context.Background(), findings, RepairOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, report.ReportOnly)
	require.Zero(t, report.Applied)
}

func TestRepairFailsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	lease, err := f.lock.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release(context.Background())

	_, err = f.repairer.Run(context.Background(), nil, RepairOptions{})
	require.ErrorIs(t, err, ErrMaintenanceInProgress)
}

func TestRepairReleasesLockAfterRun(t *testing.T) {
	f := newFixture(t)
	_, err := f.repairer.Run(context.Background(), nil, RepairOptions{})
	require.NoError(t, err)

	lease, err := f.lock.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
}

type failingTxRepo struct {
	store.Repository
}

func (failingTxRepo) WithTx(context.Context, func(context.Context, store.Tx) error) error {
	return errors.New("connection refused")
}

func TestRepairRecordsFailureAndContinues(t *testing.T) {
	f := newFixture(t)
	lot := f.store.AddLot(inventory.Lot{MaterialName: "resin", RemainingQuantity: dec("1"), CostPerUnit: dec("1")})
	memorytest.ForceLotRemaining(t, f.store, lot.ID, dec("-2"))
	findings, err := f.auditor.Scan(context.Background())
	require.NoError(t, err)
	findings = append(findings, Finding{Category: CategoryBatchWithoutInputs})

	repairer := NewRepairer(failingTxRepo{Repository: f.store}, f.lock, discardLogger(), f.recorder, RepairConfig{})
	report, err := repairer.Run(context.Background(), findings, RepairOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.ReportOnly)
	require.Contains(t, report.Actions[0].Error, "connection refused")
	require.Equal(t, 1, f.recorder.repairs[string(StatusFailed)])
}
