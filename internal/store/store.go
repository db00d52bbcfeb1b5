// Package store declares the persistence ports shared by the transaction coordinator and
// the consistency maintenance tools.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// Repository is the single shared store. WithTx runs fn inside one serializable
// transaction; fn returning an error rolls everything back.
type Repository interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	Record(ctx context.Context, log shared.AuditLog) error
}

// Reader holds the lock-free queries used by the validator and the auditor.
type Reader interface {
	GetLot(ctx context.Context, id uuid.UUID) (inventory.Lot, error)

	OrdersWithoutInvoice(ctx context.Context) ([]sales.Order, error)
	InvoicesWithoutOrder(ctx context.Context) ([]sales.Invoice, error)
	BatchesWithoutInputs(ctx context.Context) ([]production.Batch, error)
	OrphanBatchInputs(ctx context.Context) ([]production.BatchInput, error)
	NegativeLots(ctx context.Context) ([]inventory.Lot, error)
	InvoicesWithoutLedger(ctx context.Context) ([]sales.Invoice, error)
	CreditsWithoutLedger(ctx context.Context) ([]CreditEvent, error)
	BatchCostMismatches(ctx context.Context) ([]production.CostMismatch, error)
}

// CreditEvent is a payment or approved credit note lacking its ledger credit row.
type CreditEvent struct {
	Type        ledger.TransactionType
	ReferenceID uuid.UUID
	InvoiceID   uuid.UUID
	CustomerID  string
	Amount      decimal.Decimal
}

// Tx exposes the row-level operations available inside a transaction.
type Tx interface {
	ledger.Writer
	sales.SequenceAllocator

	ClaimIdempotencyKey(ctx context.Context, key, module string) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error

	CustomerExists(ctx context.Context, id string) (bool, error)
	InsertOrder(ctx context.Context, order sales.Order) error
	GetOrderForUpdate(ctx context.Context, id uuid.UUID) (sales.Order, error)

	InsertInvoice(ctx context.Context, inv sales.Invoice) error
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (sales.Invoice, error)
	InvoiceExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error)
	UpdateInvoicePaid(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status sales.InvoiceStatus) error
	DeleteInvoice(ctx context.Context, id uuid.UUID) error
	CountPayments(ctx context.Context, invoiceID uuid.UUID) (int, error)
	CountCreditNotes(ctx context.Context, invoiceID uuid.UUID) (int, error)

	InsertPayment(ctx context.Context, pay sales.Payment) error
	GetPayment(ctx context.Context, id uuid.UUID) (sales.Payment, error)
	InsertCreditNote(ctx context.Context, cn sales.CreditNote) error
	GetCreditNoteForUpdate(ctx context.Context, id uuid.UUID) (sales.CreditNote, error)
	ApproveCreditNote(ctx context.Context, id uuid.UUID, at time.Time) error

	LedgerEntryExists(ctx context.Context, kind ledger.TransactionType, ref uuid.UUID) (bool, error)
	DeleteLedgerEntries(ctx context.Context, ref uuid.UUID) (int64, error)

	// LockLots row-locks the given lots in ascending id order. Missing ids are absent
	// from the result.
	LockLots(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.Lot, error)
	// DecrementLot subtracts qty only when remaining_quantity >= qty. ok=false means the
	// condition failed and nothing changed.
	DecrementLot(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (lot inventory.Lot, ok bool, err error)
	SetLotRemaining(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error

	InsertBatch(ctx context.Context, batch production.Batch) error
	InsertBatchInputs(ctx context.Context, inputs []production.BatchInput) error
}

// Janitor prunes idempotency keys once their retention has passed.
type Janitor interface {
	CleanupIdempotencyKeys(ctx context.Context, retention time.Duration) (int64, error)
}
