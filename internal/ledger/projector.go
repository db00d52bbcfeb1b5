package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// Projector derives ledger rows from invoice, payment and credit note events.
type Projector struct {
	clock func() time.Time
}

// NewProjector builds Projector.
func NewProjector() *Projector {
	return &Projector{clock: func() time.Time { return time.Now().UTC() }}
}

// InvoiceEntry builds the debit row for an invoice.
func (p *Projector) InvoiceEntry(inv sales.Invoice) (Entry, error) {
	return p.entry(TransactionInvoice, inv.ID, inv.CustomerID, inv.TotalAmount, Debit,
		fmt.Sprintf("Invoice %s", inv.InvoiceNumber))
}

// PaymentEntry builds the credit row for a payment.
func (p *Projector) PaymentEntry(pay sales.Payment) (Entry, error) {
	return p.entry(TransactionPayment, pay.ID, pay.CustomerID, pay.Amount, Credit,
		fmt.Sprintf("Payment for invoice %s", pay.InvoiceID))
}

// CreditNoteEntry builds the credit row for an approved credit note.
func (p *Projector) CreditNoteEntry(cn sales.CreditNote) (Entry, error) {
	if cn.Status != sales.CreditNoteStatusApproved {
		return Entry{}, ErrCreditNoteNotApproved
	}
	return p.entry(TransactionCreditNote, cn.ID, cn.CustomerID, cn.Amount, Credit,
		fmt.Sprintf("Credit note %s", cn.CreditNoteNumber))
}

// ProjectInvoice writes the invoice debit row through w.
func (p *Projector) ProjectInvoice(ctx context.Context, w Writer, inv sales.Invoice) (Entry, error) {
	entry, err := p.InvoiceEntry(inv)
	if err != nil {
		return Entry{}, err
	}
	return entry, p.write(ctx, w, entry)
}

// ProjectPayment writes the payment credit row through w.
func (p *Projector) ProjectPayment(ctx context.Context, w Writer, pay sales.Payment) (Entry, error) {
	entry, err := p.PaymentEntry(pay)
	if err != nil {
		return Entry{}, err
	}
	return entry, p.write(ctx, w, entry)
}

// ProjectCreditNote writes the credit row of an approved credit note through w.
func (p *Projector) ProjectCreditNote(ctx context.Context, w Writer, cn sales.CreditNote) (Entry, error) {
	entry, err := p.CreditNoteEntry(cn)
	if err != nil {
		return Entry{}, err
	}
	return entry, p.write(ctx, w, entry)
}

func (p *Projector) entry(kind TransactionType, ref uuid.UUID, customerID string, amount decimal.Decimal, impact BalanceImpact, desc string) (Entry, error) {
	if !amount.IsPositive() {
		return Entry{}, ErrNonPositiveAmount
	}
	signed := shared.RoundMoney(amount)
	if impact == Credit {
		signed = signed.Neg()
	}
	return Entry{
		ID:              uuid.New(),
		TransactionType: kind,
		ReferenceID:     ref,
		CustomerID:      customerID,
		Amount:          signed,
		BalanceImpact:   impact,
		Description:     desc,
		CreatedAt:       p.clock(),
	}, nil
}

func (p *Projector) write(ctx context.Context, w Writer, entry Entry) error {
	if _, err := w.InsertLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("ledger: project %s %s: %w", entry.TransactionType, entry.ReferenceID, err)
	}
	return nil
}
