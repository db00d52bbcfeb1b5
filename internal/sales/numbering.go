package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// SequenceAllocator hands out the next invoice sequence value for a year. Implementations
// must be store-level atomic counters, never in-process state.
type SequenceAllocator interface {
	NextInvoiceSequence(ctx context.Context, year int) (int64, error)
}

// FormatInvoiceNumber renders INV-{year}-{sequence} with a zero padded 4 digit sequence.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%04d-%04d", year, seq)
}

// AllocateInvoiceNumber reserves the next number of the issue year.
func AllocateInvoiceNumber(ctx context.Context, seq SequenceAllocator, issueDate time.Time) (string, error) {
	year := issueDate.Year()
	next, err := seq.NextInvoiceSequence(ctx, year)
	if err != nil {
		return "", fmt.Errorf("sales: allocate invoice number: %w", err)
	}
	return FormatInvoiceNumber(year, next), nil
}

// DueDate returns issueDate plus terms days.
func DueDate(issueDate time.Time, terms int) time.Time {
	return DateOnly(issueDate).AddDate(0, 0, terms)
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GenerateOrderNumber builds ORD-YYYYMMDD-XXXXXXXX for orders submitted without a number.
func GenerateOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", at.UTC().Format("20060102"), suffix)
}

// GenerateCreditNoteNumber builds CN-YYYYMMDD-XXXXXXXX.
func GenerateCreditNoteNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("CN-%s-%s", at.UTC().Format("20060102"), suffix)
}

// NewInvoiceForOrder builds the invoice paired with order. The total is copied from the
// order so both always agree at creation.
func NewInvoiceForOrder(order Order, number string, issueDate time.Time, terms int, now time.Time) (Invoice, error) {
	if terms < 0 {
		return Invoice{}, shared.NewValidationError("payment_terms", "must not be negative")
	}
	issue := DateOnly(issueDate)
	return Invoice{
		ID:            uuid.New(),
		OrderID:       order.ID,
		CustomerID:    order.CustomerID,
		InvoiceNumber: number,
		IssueDate:     issue,
		DueDate:       DueDate(issue, terms),
		PaymentTerms:  terms,
		TotalAmount:   shared.RoundMoney(order.TotalAmount),
		PaidAmount:    decimal.Zero,
		Status:        InvoiceStatusPending,
		CreatedAt:     now,
	}, nil
}
