// Package consistency detects and repairs drift between tables that the engine keeps in
// lockstep: orders and invoices, batches and their inputs, lots and their remaining
// quantity, and source documents and their ledger rows.
package consistency

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// Category names one kind of drift.
type Category string

const (
	CategoryOrderWithoutInvoice  Category = "order_without_invoice"
	CategoryInvoiceWithoutOrder  Category = "invoice_without_order"
	CategoryBatchWithoutInputs   Category = "batch_without_inputs"
	CategoryOrphanBatchInput     Category = "orphan_batch_input"
	CategoryNegativeLot          Category = "negative_lot_quantity"
	CategoryInvoiceWithoutLedger Category = "invoice_without_ledger"
	CategoryCreditWithoutLedger  Category = "credit_without_ledger"
	CategoryBatchCostMismatch    Category = "batch_cost_mismatch"
)

// Categories lists every category in report order.
func Categories() []Category {
	return []Category{
		CategoryOrderWithoutInvoice,
		CategoryInvoiceWithoutOrder,
		CategoryBatchWithoutInputs,
		CategoryOrphanBatchInput,
		CategoryNegativeLot,
		CategoryInvoiceWithoutLedger,
		CategoryCreditWithoutLedger,
		CategoryBatchCostMismatch,
	}
}

// Repairable reports whether the repairer has an automatic action for c.
func (c Category) Repairable() bool {
	switch c {
	case CategoryBatchWithoutInputs, CategoryOrphanBatchInput, CategoryBatchCostMismatch:
		return false
	}
	return true
}

// Severity of a finding.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Finding is one detected inconsistency.
type Finding struct {
	Category Category          `json:"category"`
	RecordID uuid.UUID         `json:"record_id"`
	Related  map[string]string `json:"related,omitempty"`
	Detail   string            `json:"detail"`
	Severity string            `json:"severity"`
}

// ActionStatus is the outcome of handling one finding.
type ActionStatus string

const (
	StatusApplied           ActionStatus = "applied"
	StatusPlanned           ActionStatus = "planned"
	StatusSkipped           ActionStatus = "skipped"
	StatusNeedsConfirmation ActionStatus = "needs_confirmation"
	StatusReportOnly        ActionStatus = "report_only"
	StatusFailed            ActionStatus = "failed"
)

// Action records what the repairer did, or would do, about a finding.
type Action struct {
	Finding     Finding      `json:"finding"`
	Status      ActionStatus `json:"status"`
	Description string       `json:"description"`
	Error       string       `json:"error,omitempty"`
}

// RepairOptions controls a repair run.
type RepairOptions struct {
	DryRun             bool
	ConfirmDestructive bool
	ActorID            string
}

// RepairReport summarises a repair run.
type RepairReport struct {
	RunID             uuid.UUID `json:"run_id"`
	DryRun            bool      `json:"dry_run"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Findings          int       `json:"findings"`
	Applied           int       `json:"applied"`
	Planned           int       `json:"planned"`
	Skipped           int       `json:"skipped"`
	NeedsConfirmation int       `json:"needs_confirmation"`
	ReportOnly        int       `json:"report_only"`
	Failed            int       `json:"failed"`
	Actions           []Action  `json:"actions"`
}

func (r *RepairReport) add(a Action) {
	r.Actions = append(r.Actions, a)
	switch a.Status {
	case StatusApplied:
		r.Applied++
	case StatusPlanned:
		r.Planned++
	case StatusSkipped:
		r.Skipped++
	case StatusNeedsConfirmation:
		r.NeedsConfirmation++
	case StatusReportOnly:
		r.ReportOnly++
	case StatusFailed:
		r.Failed++
	}
}

// ErrMaintenanceInProgress is returned when another repair run holds the lock.
var ErrMaintenanceInProgress = shared.ErrMaintenanceInProgress

// MaintenanceLock serialises repair runs across processes.
type MaintenanceLock interface {
	Acquire(ctx context.Context) (shared.Lease, error)
}

// Recorder receives finding and repair counts. *jobmetrics.Metrics satisfies it.
type Recorder interface {
	AddFindings(category string, count int)
	AddRepairs(outcome string, count int)
}
