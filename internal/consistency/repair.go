package consistency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
)

// AuditActionRepairRun summarises one repair run in the audit trail.
const AuditActionRepairRun = "consistency_repair_run"

// errStale marks a finding that no longer holds when re-checked under lock.
var errStale = errors.New("finding no longer holds")

// RepairConfig tunes the repairer.
type RepairConfig struct {
	PaymentTerms int
}

// Repairer applies one corrective action per finding, each in its own short transaction.
type Repairer struct {
	repo      store.Repository
	lock      MaintenanceLock
	projector *ledger.Projector
	logger    *slog.Logger
	recorder  Recorder
	cfg       RepairConfig
	clock     func() time.Time
}

// NewRepairer constructs a Repairer. recorder may be nil.
func NewRepairer(repo store.Repository, lock MaintenanceLock, logger *slog.Logger, recorder Recorder, cfg RepairConfig) *Repairer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PaymentTerms <= 0 {
		cfg.PaymentTerms = sales.DefaultPaymentTerms
	}
	return &Repairer{
		repo:      repo,
		lock:      lock,
		projector: ledger.NewProjector(),
		logger:    logger,
		recorder:  recorder,
		cfg:       cfg,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Run handles findings under the maintenance lock. Each finding is re-verified inside its
// transaction before acting; a finding that no longer holds is skipped.
func (r *Repairer) Run(ctx context.Context, findings []Finding, opts RepairOptions) (RepairReport, error) {
	lease, err := r.lock.Acquire(ctx)
	if err != nil {
		return RepairReport{}, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("release maintenance lock", slog.Any("error", err))
		}
	}()

	report := RepairReport{
		RunID:     uuid.New(),
		DryRun:    opts.DryRun,
		StartedAt: r.clock(),
		Findings:  len(findings),
	}
	for _, f := range findings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := lease.Refresh(ctx); err != nil {
			return report, fmt.Errorf("consistency: keep maintenance lock: %w", err)
		}
		action := r.handle(ctx, report.RunID, f, opts)
		if action.Status == StatusFailed {
			r.logger.Error("repair action failed",
				slog.String("category", string(f.Category)),
				slog.String("record_id", f.RecordID.String()),
				slog.String("error", action.Error))
		} else {
			r.logger.Info("repair action",
				slog.String("category", string(f.Category)),
				slog.String("record_id", f.RecordID.String()),
				slog.String("status", string(action.Status)))
		}
		report.add(action)
	}
	report.FinishedAt = r.clock()

	if r.recorder != nil {
		r.recorder.AddRepairs(string(StatusApplied), report.Applied)
		r.recorder.AddRepairs(string(StatusSkipped), report.Skipped)
		r.recorder.AddRepairs(string(StatusFailed), report.Failed)
		r.recorder.AddRepairs(string(StatusNeedsConfirmation), report.NeedsConfirmation)
	}
	if opts.DryRun {
		return report, nil
	}
	_ = r.repo.Record(ctx, shared.AuditLog{
		ActorID:  opts.ActorID,
		Action:   AuditActionRepairRun,
		Entity:   "maintenance",
		EntityID: report.RunID.String(),
		Meta: map[string]any{
			"dry_run":            opts.DryRun,
			"findings":           report.Findings,
			"applied":            report.Applied,
			"planned":            report.Planned,
			"skipped":            report.Skipped,
			"needs_confirmation": report.NeedsConfirmation,
			"report_only":        report.ReportOnly,
			"failed":             report.Failed,
		},
		At: report.FinishedAt,
	})
	return report, nil
}

func (r *Repairer) handle(ctx context.Context, runID uuid.UUID, f Finding, opts RepairOptions) Action {
	if !f.Category.Repairable() {
		return Action{Finding: f, Status: StatusReportOnly, Description: "no automatic repair; review manually"}
	}

	var action Action
	err := r.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		action, err = r.apply(ctx, tx, runID, f, opts)
		return err
	})
	switch {
	case err == nil:
		return action
	case errors.Is(err, errStale), errors.Is(err, shared.ErrNotFound):
		return Action{Finding: f, Status: StatusSkipped, Description: "finding no longer holds"}
	default:
		return Action{Finding: f, Status: StatusFailed, Description: "repair failed", Error: err.Error()}
	}
}

func (r *Repairer) apply(ctx context.Context, tx store.Tx, runID uuid.UUID, f Finding, opts RepairOptions) (Action, error) {
	switch f.Category {
	case CategoryOrderWithoutInvoice:
		return r.synthesizeInvoice(ctx, tx, runID, f, opts)
	case CategoryInvoiceWithoutOrder:
		return r.deleteOrphanInvoice(ctx, tx, runID, f, opts)
	case CategoryNegativeLot:
		return r.clampLot(ctx, tx, runID, f, opts)
	case CategoryInvoiceWithoutLedger:
		return r.reprojectInvoice(ctx, tx, runID, f, opts)
	case CategoryCreditWithoutLedger:
		return r.reprojectCredit(ctx, tx, runID, f, opts)
	}
	return Action{}, fmt.Errorf("consistency: no repair for category %q", f.Category)
}

func (r *Repairer) synthesizeInvoice(ctx context.Context, tx store.Tx, runID uuid.UUID, f Finding, opts RepairOptions) (Action, error) {
	order, err := tx.GetOrderForUpdate(ctx, f.RecordID)
	if err != nil {
		return Action{}, err
	}
	exists, err := tx.InvoiceExistsForOrder(ctx, order.ID)
	if err != nil {
		return Action{}, err
	}
	if exists {
		return Action{}, errStale
	}
	if opts.DryRun {
		return Action{Finding: f, Status: StatusPlanned, Description: fmt.Sprintf("create invoice for order %s and project its ledger debit", order.OrderNumber)}, nil
	}

	now := r.clock()
	number, err := sales.AllocateInvoiceNumber(ctx, tx, order.OrderDate)
	if err != nil {
		return Action{}, err
	}
	invoice, err := sales.NewInvoiceForOrder(order, number, order.OrderDate, r.cfg.PaymentTerms, now)
	if err != nil {
		return Action{}, err
	}
	if err := tx.InsertInvoice(ctx, invoice); err != nil {
		return Action{}, err
	}
	if _, err := r.projector.ProjectInvoice(ctx, tx, invoice); err != nil {
		return Action{}, err
	}
	desc := fmt.Sprintf("created invoice %s for order %s", invoice.InvoiceNumber, order.OrderNumber)
	if err := r.audit(ctx, tx, runID, f, opts, "order", order.ID, map[string]any{
		"invoice_id":     invoice.ID.String(),
		"invoice_number": invoice.InvoiceNumber,
		"total_amount":   invoice.TotalAmount.StringFixed(shared.MoneyPlaces),
	}); err != nil {
		return Action{}, err
	}
	return Action{Finding: f, Status: StatusApplied, Description: desc}, nil
}

func (r *Repairer) deleteOrphanInvoice(ctx context.Context, tx store.Tx, runID uuid.UUID, f Finding, opts RepairOptions) (Action, error) {
	invoice, err := tx.GetInvoiceForUpdate(ctx, f.RecordID)
	if err != nil {
		return Action{}, err
	}
	if _, err := tx.GetOrderForUpdate(ctx, invoice.OrderID); err == nil {
		return Action{}, errStale
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Action{}, err
	}
	payments, err := tx.CountPayments(ctx, invoice.ID)
	if err != nil {
		return Action{}, err
	}
	notes, err := tx.CountCreditNotes(ctx, invoice.ID)
	if err != nil {
		return Action{}, err
	}
	// Payments and credit notes reference the invoice; deleting it would orphan them.
	if payments > 0 || notes > 0 {
		return Action{Finding: f, Status: StatusSkipped, Description: fmt.Sprintf("invoice %s has %d payment(s) and %d credit note(s); resolve manually", invoice.InvoiceNumber, payments, notes)}, nil
	}
	if !opts.ConfirmDestructive {
		return Action{Finding: f, Status: StatusNeedsConfirmation, Description: fmt.Sprintf("delete invoice %s and its ledger rows (requires confirmation)", invoice.InvoiceNumber)}, nil
	}
	if opts.DryRun {
		return Action{Finding: f, Status: StatusPlanned, Description: fmt.Sprintf("delete invoice %s and its ledger rows", invoice.InvoiceNumber)}, nil
	}

	removed, err := tx.DeleteLedgerEntries(ctx, invoice.ID)
	if err != nil {
		return Action{}, err
	}
	if err := tx.DeleteInvoice(ctx, invoice.ID); err != nil {
		return Action{}, err
	}
	if err := r.audit(ctx, tx, runID, f, opts, "invoice", invoice.ID, map[string]any{
		"invoice_number":  invoice.InvoiceNumber,
		"order_id":        invoice.OrderID.String(),
		"customer_id":     invoice.CustomerID,
		"total_amount":    invoice.TotalAmount.StringFixed(shared.MoneyPlaces),
		"ledger_rows":     removed,
		"deleted_invoice": true,
	}); err != nil {
		return Action{}, err
	}
	return Action{Finding: f, Status: StatusApplied, Description: fmt.Sprintf("deleted invoice %s and %d ledger row(s)", invoice.InvoiceNumber, removed)}, nil
}

func (r *Repairer) clampLot(ctx context.Context, tx store.Tx, runID uuid.UUID, f Finding, opts RepairOptions) (Action, error) {
	locked, err := tx.LockLots(ctx, []uuid.UUID{f.RecordID})
	if err != nil {
		return Action{}, err
	}
	lot, ok := locked[f.RecordID]
	if !ok {
		return Action{}, shared.NewNotFoundError("lot", f.RecordID.String())
	}
	if !lot.RemainingQuantity.IsNegative() {
		return Action{}, errStale
	}
	if opts.DryRun {
		return Action{Finding: f, Status: StatusPlanned, Description: fmt.Sprintf("clamp lot remaining quantity %s to 0", lot.RemainingQuantity)}, nil
	}
	if err := tx.SetLotRemaining(ctx, lot.ID, decimal.Zero); err != nil {
		return Action{}, err
	}
	if err := r.audit(ctx, tx, runID, f, opts, "material_intake_log", lot.ID, map[string]any{
		"original_remaining_quantity": lot.RemainingQuantity.String(),
		"new_remaining_quantity":      "0",
		"reason":                      "negative remaining quantity clamped to zero",
	}); err != nil {
		return Action{}, err
	}
	return Action{Finding: f, Status: StatusApplied, Description: fmt.Sprintf("clamped lot remaining quantity %s to 0", lot.RemainingQuantity)}, nil
}

func (r *Repairer) reprojectInvoice(ctx context.Context, tx store.Tx, runID uuid.UUID, f Finding, opts RepairOptions) (Action, error) {
	invoice, err := tx.GetInvoiceForUpdate(ctx, f.RecordID)
	if err != nil {
		return Action{}, err
	}
	exists, err := tx.LedgerEntryExists(ctx, ledger.TransactionInvoice, invoice.ID)
	if err != nil {
		return Action{}, err
	}
	if exists {
		return Action{}, errStale
	}
	if opts.DryRun {
		return Action{Finding: f, Status: StatusPlanned, Description: fmt.Sprintf("project ledger debit for invoice %s", invoice.InvoiceNumber)}, nil
	}
	entry, err := r.projector.ProjectInvoice(ctx, tx, invoice)
	if err != nil {
		return Action{}, err
	}
	if err := r.audit(ctx, tx, runID, f, opts, "invoice", invoice.ID, map[string]any{
		"ledger_entry_id": entry.ID.String(),
		"amount":          entry.Amount.StringFixed(shared.MoneyPlaces),
	}); err != nil {
		return Action{}, err
	}
	return Action{Finding: f, Status: StatusApplied, Description: fmt.Sprintf("projected ledger debit for invoice %s", invoice.InvoiceNumber)}, nil
}

func (r *Repairer) reprojectCredit(ctx context.Context, tx store.Tx, runID uuid.UUID, f Finding, opts RepairOptions) (Action, error) {
	kind := ledger.TransactionType(f.Related["transaction_type"])
	exists, err := tx.LedgerEntryExists(ctx, kind, f.RecordID)
	if err != nil {
		return Action{}, err
	}
	if exists {
		return Action{}, errStale
	}

	var project func() (ledger.Entry, error)
	var entity string
	switch kind {
	case ledger.TransactionPayment:
		payment, err := tx.GetPayment(ctx, f.RecordID)
		if err != nil {
			return Action{}, err
		}
		entity = "payment"
		project = func() (ledger.Entry, error) { return r.projector.ProjectPayment(ctx, tx, payment) }
	case ledger.TransactionCreditNote:
		cn, err := tx.GetCreditNoteForUpdate(ctx, f.RecordID)
		if err != nil {
			return Action{}, err
		}
		if cn.Status != sales.CreditNoteStatusApproved {
			return Action{}, errStale
		}
		entity = "credit_note"
		project = func() (ledger.Entry, error) { return r.projector.ProjectCreditNote(ctx, tx, cn) }
	default:
		return Action{}, fmt.Errorf("consistency: unknown credit transaction type %q", kind)
	}

	if opts.DryRun {
		return Action{Finding: f, Status: StatusPlanned, Description: fmt.Sprintf("project ledger credit for %s %s", entity, f.RecordID)}, nil
	}
	entry, err := project()
	if err != nil {
		return Action{}, err
	}
	if err := r.audit(ctx, tx, runID, f, opts, entity, f.RecordID, map[string]any{
		"ledger_entry_id": entry.ID.String(),
		"amount":          entry.Amount.StringFixed(shared.MoneyPlaces),
	}); err != nil {
		return Action{}, err
	}
	return Action{Finding: f, Status: StatusApplied, Description: fmt.Sprintf("projected ledger credit for %s %s", entity, f.RecordID)}, nil
}

func (r *Repairer) audit(ctx context.Context, tx store.Tx, runID uuid.UUID, f Finding, opts RepairOptions, entity string, id uuid.UUID, meta map[string]any) error {
	meta["run_id"] = runID.String()
	meta["category"] = string(f.Category)
	if err := tx.RecordAudit(ctx, shared.AuditLog{
		ActorID:  opts.ActorID,
		Action:   shared.AuditActionRepairApplied,
		Entity:   entity,
		EntityID: id.String(),
		Meta:     meta,
		At:       r.clock(),
	}); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

// ScanAndRun scans for findings and hands them to the repairer in one step.
func ScanAndRun(ctx context.Context, auditor *Auditor, repairer *Repairer, opts RepairOptions) (RepairReport, error) {
	findings, err := auditor.Scan(ctx)
	if err != nil {
		return RepairReport{}, err
	}
	return repairer.Run(ctx, findings, opts)
}
