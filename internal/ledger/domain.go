package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType names the event a ledger row was projected from.
type TransactionType string

const (
	TransactionInvoice    TransactionType = "invoice"
	TransactionPayment    TransactionType = "payment"
	TransactionCreditNote TransactionType = "credit_note"
)

// BalanceImpact is the side of the customer balance a row moves.
type BalanceImpact string

const (
	Debit  BalanceImpact = "debit"
	Credit BalanceImpact = "credit"
)

// Entry is one financial_ledger row. Debits carry positive amounts, credits negative.
type Entry struct {
	ID              uuid.UUID       `json:"id"`
	TransactionType TransactionType `json:"transaction_type"`
	ReferenceID     uuid.UUID       `json:"reference_id"`
	CustomerID      string          `json:"customer_id"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceImpact   BalanceImpact   `json:"balance_impact"`
	Description     string          `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Writer persists ledger rows. Implementations must be bound to the transaction of the
// entity write being projected and must treat (transaction_type, reference_id) as unique,
// reporting inserted=false when the row already exists.
type Writer interface {
	InsertLedgerEntry(ctx context.Context, entry Entry) (inserted bool, err error)
}

// ErrCreditNoteNotApproved is returned when projecting a credit note before approval.
var ErrCreditNoteNotApproved = errors.New("ledger: credit note not approved")

// ErrNonPositiveAmount is returned when a source event carries a zero or negative amount.
var ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
