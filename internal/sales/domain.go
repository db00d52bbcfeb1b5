package sales

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus enumerates order states.
type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
)

// InvoiceStatus enumerates invoice states.
type InvoiceStatus string

const (
	InvoiceStatusPending       InvoiceStatus = "pending"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusPaid          InvoiceStatus = "paid"
)

// CreditNoteStatus enumerates credit note states.
type CreditNoteStatus string

const (
	CreditNoteStatusPending  CreditNoteStatus = "pending"
	CreditNoteStatusApproved CreditNoteStatus = "approved"
)

// DefaultPaymentTerms is the number of days between issue and due date.
const DefaultPaymentTerms = 30

// Customer is the minimal customer record referenced by orders.
type Customer struct {
	ID   string
	Name string
}

// Order is a customer order. Every order is paired with exactly one invoice.
type Order struct {
	ID          uuid.UUID       `json:"id"`
	CustomerID  string          `json:"customer_id"`
	OrderNumber string          `json:"order_number"`
	OrderDate   time.Time       `json:"order_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      OrderStatus     `json:"status"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Invoice bills an order.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	OrderID       uuid.UUID       `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	InvoiceNumber string          `json:"invoice_number"`
	IssueDate     time.Time       `json:"issue_date"`
	DueDate       time.Time       `json:"due_date"`
	PaymentTerms  int             `json:"payment_terms"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	Status        InvoiceStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Outstanding returns the unpaid part of the invoice.
func (i Invoice) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// Payment settles all or part of an invoice.
type Payment struct {
	ID          uuid.UUID       `json:"id"`
	InvoiceID   uuid.UUID       `json:"invoice_id"`
	CustomerID  string          `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate time.Time       `json:"payment_date"`
	Method      string          `json:"method,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CreditNote reduces what a customer owes on an invoice once approved.
type CreditNote struct {
	ID               uuid.UUID        `json:"id"`
	InvoiceID        uuid.UUID        `json:"invoice_id"`
	CustomerID       string           `json:"customer_id"`
	CreditNoteNumber string           `json:"credit_note_number"`
	Amount           decimal.Decimal  `json:"amount"`
	Reason           string           `json:"reason,omitempty"`
	Status           CreditNoteStatus `json:"status"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// PaymentStatus derives the invoice status from the paid amount.
func PaymentStatus(total, paid decimal.Decimal) InvoiceStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return InvoiceStatusPaid
	case paid.IsPositive():
		return InvoiceStatusPartiallyPaid
	default:
		return InvoiceStatusPending
	}
}
