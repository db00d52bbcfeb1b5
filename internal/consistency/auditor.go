package consistency

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
)

// Auditor scans the store for drift. It never writes.
type Auditor struct {
	reader   store.Reader
	logger   *slog.Logger
	recorder Recorder
}

// NewAuditor constructs an Auditor. recorder may be nil.
func NewAuditor(reader store.Reader, logger *slog.Logger, recorder Recorder) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{reader: reader, logger: logger, recorder: recorder}
}

type categoryScan func(ctx context.Context) ([]Finding, error)

// Scan queries every category concurrently and returns the findings grouped by category
// in Categories() order.
func (a *Auditor) Scan(ctx context.Context) ([]Finding, error) {
	scans := map[Category]categoryScan{
		CategoryOrderWithoutInvoice:  a.ordersWithoutInvoice,
		CategoryInvoiceWithoutOrder:  a.invoicesWithoutOrder,
		CategoryBatchWithoutInputs:   a.batchesWithoutInputs,
		CategoryOrphanBatchInput:     a.orphanBatchInputs,
		CategoryNegativeLot:          a.negativeLots,
		CategoryInvoiceWithoutLedger: a.invoicesWithoutLedger,
		CategoryCreditWithoutLedger:  a.creditsWithoutLedger,
		CategoryBatchCostMismatch:    a.batchCostMismatches,
	}

	categories := Categories()
	results := make([][]Finding, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, cat := range categories {
		scan := scans[cat]
		g.Go(func() error {
			found, err := scan(gctx)
			if err != nil {
				return fmt.Errorf("consistency: scan %s: %w", cat, err)
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var findings []Finding
	for i, cat := range categories {
		for _, f := range results[i] {
			a.logger.Warn("consistency finding",
				slog.String("category", string(f.Category)),
				slog.String("record_id", f.RecordID.String()),
				slog.String("detail", f.Detail))
		}
		if a.recorder != nil {
			a.recorder.AddFindings(string(cat), len(results[i]))
		}
		findings = append(findings, results[i]...)
	}
	return findings, nil
}

func (a *Auditor) ordersWithoutInvoice(ctx context.Context) ([]Finding, error) {
	orders, err := a.reader.OrdersWithoutInvoice(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(orders))
	for _, o := range orders {
		out = append(out, Finding{
			Category: CategoryOrderWithoutInvoice,
			RecordID: o.ID,
			Related:  map[string]string{"order_number": o.OrderNumber, "customer_id": o.CustomerID},
			Detail:   fmt.Sprintf("order %s (total %s) has no invoice", o.OrderNumber, o.TotalAmount.StringFixed(shared.MoneyPlaces)),
			Severity: SeverityError,
		})
	}
	return out, nil
}

func (a *Auditor) invoicesWithoutOrder(ctx context.Context) ([]Finding, error) {
	invoices, err := a.reader.InvoicesWithoutOrder(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, Finding{
			Category: CategoryInvoiceWithoutOrder,
			RecordID: inv.ID,
			Related:  map[string]string{"order_id": inv.OrderID.String(), "invoice_number": inv.InvoiceNumber},
			Detail:   fmt.Sprintf("invoice %s references missing order %s", inv.InvoiceNumber, inv.OrderID),
			Severity: SeverityError,
		})
	}
	return out, nil
}

func (a *Auditor) batchesWithoutInputs(ctx context.Context) ([]Finding, error) {
	batches, err := a.reader.BatchesWithoutInputs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(batches))
	for _, b := range batches {
		out = append(out, Finding{
			Category: CategoryBatchWithoutInputs,
			RecordID: b.ID,
			Related:  map[string]string{"batch_number": b.BatchNumber},
			Detail:   fmt.Sprintf("batch %s has no inputs", b.BatchNumber),
			Severity: SeverityWarning,
		})
	}
	return out, nil
}

func (a *Auditor) orphanBatchInputs(ctx context.Context) ([]Finding, error) {
	inputs, err := a.reader.OrphanBatchInputs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, Finding{
			Category: CategoryOrphanBatchInput,
			RecordID: in.ID,
			Related:  map[string]string{"batch_id": in.BatchID.String(), "material_intake_id": in.MaterialIntakeID.String()},
			Detail:   fmt.Sprintf("batch input references missing batch %s", in.BatchID),
			Severity: SeverityWarning,
		})
	}
	return out, nil
}

func (a *Auditor) negativeLots(ctx context.Context) ([]Finding, error) {
	lots, err := a.reader.NegativeLots(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(lots))
	for _, lot := range lots {
		out = append(out, Finding{
			Category: CategoryNegativeLot,
			RecordID: lot.ID,
			Related:  map[string]string{"remaining_quantity": lot.RemainingQuantity.String()},
			Detail:   fmt.Sprintf("lot %s has negative remaining quantity %s", lot.ID, lot.RemainingQuantity),
			Severity: SeverityError,
		})
	}
	return out, nil
}

func (a *Auditor) invoicesWithoutLedger(ctx context.Context) ([]Finding, error) {
	invoices, err := a.reader.InvoicesWithoutLedger(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, Finding{
			Category: CategoryInvoiceWithoutLedger,
			RecordID: inv.ID,
			Related:  map[string]string{"invoice_number": inv.InvoiceNumber, "customer_id": inv.CustomerID},
			Detail:   fmt.Sprintf("invoice %s has no ledger debit", inv.InvoiceNumber),
			Severity: SeverityError,
		})
	}
	return out, nil
}

func (a *Auditor) creditsWithoutLedger(ctx context.Context) ([]Finding, error) {
	events, err := a.reader.CreditsWithoutLedger(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(events))
	for _, ev := range events {
		out = append(out, Finding{
			Category: CategoryCreditWithoutLedger,
			RecordID: ev.ReferenceID,
			Related: map[string]string{
				"transaction_type": string(ev.Type),
				"invoice_id":       ev.InvoiceID.String(),
				"customer_id":      ev.CustomerID,
			},
			Detail:   fmt.Sprintf("%s %s (amount %s) has no ledger credit", ev.Type, ev.ReferenceID, ev.Amount.StringFixed(shared.MoneyPlaces)),
			Severity: SeverityError,
		})
	}
	return out, nil
}

func (a *Auditor) batchCostMismatches(ctx context.Context) ([]Finding, error) {
	mismatches, err := a.reader.BatchCostMismatches(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Finding, 0, len(mismatches))
	for _, m := range mismatches {
		out = append(out, Finding{
			Category: CategoryBatchCostMismatch,
			RecordID: m.BatchID,
			Related: map[string]string{
				"batch_number": m.BatchNumber,
				"stored":       m.Stored.StringFixed(shared.MoneyPlaces),
				"computed":     m.Computed.StringFixed(shared.MoneyPlaces),
			},
			Detail:   fmt.Sprintf("batch %s total_input_cost %s differs from inputs %s", m.BatchNumber, m.Stored.StringFixed(shared.MoneyPlaces), m.Computed.StringFixed(shared.MoneyPlaces)),
			Severity: SeverityWarning,
		})
	}
	return out, nil
}
