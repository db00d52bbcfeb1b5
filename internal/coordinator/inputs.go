package coordinator

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
)

// OrderInput describes the order half of CreateOrderWithInvoice.
type OrderInput struct {
	CustomerID     string
	OrderNumber    string
	OrderDate      time.Time
	TotalAmount    decimal.Decimal
	Notes          string
	IdempotencyKey string
}

// InvoiceInput overrides the invoice defaults. A nil PaymentTerms uses the configured default.
type InvoiceInput struct {
	IssueDate    time.Time
	PaymentTerms *int
}

// OrderWithInvoice is the committed pair plus its ledger debit.
type OrderWithInvoice struct {
	Order       sales.Order   `json:"order"`
	Invoice     sales.Invoice `json:"invoice"`
	LedgerEntry ledger.Entry  `json:"ledger_entry"`
}

// BatchRequest describes the batch header of CreateProductionBatch.
type BatchRequest struct {
	BatchNumber    string
	ProductionDate time.Time
	OutputLitres   decimal.Decimal
	Notes          string
	IdempotencyKey string
}

// BatchResult is the committed batch with its priced inputs.
type BatchResult struct {
	Batch          production.Batch        `json:"batch"`
	Inputs         []production.BatchInput `json:"inputs"`
	TotalInputCost decimal.Decimal         `json:"total_input_cost"`
	Lots           []inventory.Lot         `json:"lots"`
}

// PaymentInput records money received against an invoice.
type PaymentInput struct {
	InvoiceID      uuid.UUID
	Amount         decimal.Decimal
	PaymentDate    time.Time
	Method         string
	IdempotencyKey string
}

// PaymentResult is the committed payment with the updated invoice.
type PaymentResult struct {
	Payment sales.Payment `json:"payment"`
	Invoice sales.Invoice `json:"invoice"`
}

// CreditNoteInput raises a pending credit note against an invoice.
type CreditNoteInput struct {
	InvoiceID uuid.UUID
	Amount    decimal.Decimal
	Reason    string
}
