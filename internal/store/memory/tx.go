package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
)

type txState struct {
	data  *state
	audit []shared.AuditLog
	clock func() time.Time
}

var _ store.Tx = (*txState)(nil)

func duplicate(constraint, value string) error {
	return &shared.ConstraintViolation{Constraint: constraint, Detail: fmt.Sprintf("duplicate value %q", value)}
}

func (t *txState) ClaimIdempotencyKey(_ context.Context, key, module string) error {
	if key == "" || module == "" {
		return shared.NewValidationError("idempotency_key", "key and module are required")
	}
	if _, ok := t.data.idempotency[key]; ok {
		return shared.IdempotencyConflict(key)
	}
	t.data.idempotency[key] = t.clock()
	return nil
}

func (t *txState) RecordAudit(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = t.clock()
	}
	t.audit = append(t.audit, log)
	return nil
}

func (t *txState) NextInvoiceSequence(_ context.Context, year int) (int64, error) {
	t.data.sequences[year]++
	return t.data.sequences[year], nil
}

func (t *txState) CustomerExists(_ context.Context, id string) (bool, error) {
	_, ok := t.data.customers[id]
	return ok, nil
}

func (t *txState) InsertOrder(_ context.Context, o sales.Order) error {
	if _, ok := t.data.customers[o.CustomerID]; !ok {
		return &shared.ConstraintViolation{Constraint: "orders_customer_id_fkey", Detail: "unknown customer " + o.CustomerID}
	}
	for _, existing := range t.data.orders {
		if existing.OrderNumber == o.OrderNumber {
			return duplicate("orders_order_number_key", o.OrderNumber)
		}
	}
	t.data.orders[o.ID] = o
	return nil
}

func (t *txState) GetOrderForUpdate(_ context.Context, id uuid.UUID) (sales.Order, error) {
	o, ok := t.data.orders[id]
	if !ok {
		return sales.Order{}, shared.NewNotFoundError("order", id.String())
	}
	return o, nil
}

// DeleteOrder removes an order row. It is not part of store.Tx; invoices.order_id carries
// no foreign key, so the invoice of the order is left in place.
func (t *txState) DeleteOrder(_ context.Context, id uuid.UUID) error {
	if _, ok := t.data.orders[id]; !ok {
		return shared.NewNotFoundError("order", id.String())
	}
	delete(t.data.orders, id)
	return nil
}

func (t *txState) InsertInvoice(_ context.Context, inv sales.Invoice) error {
	for _, existing := range t.data.invoices {
		if existing.InvoiceNumber == inv.InvoiceNumber {
			return duplicate("invoices_invoice_number_key", inv.InvoiceNumber)
		}
		if existing.OrderID == inv.OrderID {
			return duplicate("invoices_order_id_key", inv.OrderID.String())
		}
	}
	t.data.invoices[inv.ID] = inv
	return nil
}

func (t *txState) GetInvoiceForUpdate(_ context.Context, id uuid.UUID) (sales.Invoice, error) {
	inv, ok := t.data.invoices[id]
	if !ok {
		return sales.Invoice{}, shared.NewNotFoundError("invoice", id.String())
	}
	return inv, nil
}

func (t *txState) InvoiceExistsForOrder(_ context.Context, orderID uuid.UUID) (bool, error) {
	for _, inv := range t.data.invoices {
		if inv.OrderID == orderID {
			return true, nil
		}
	}
	return false, nil
}

func (t *txState) UpdateInvoicePaid(_ context.Context, id uuid.UUID, paid decimal.Decimal, status sales.InvoiceStatus) error {
	inv, ok := t.data.invoices[id]
	if !ok {
		return shared.NewNotFoundError("invoice", id.String())
	}
	inv.PaidAmount = paid
	inv.Status = status
	t.data.invoices[id] = inv
	return nil
}

func (t *txState) DeleteInvoice(_ context.Context, id uuid.UUID) error {
	if _, ok := t.data.invoices[id]; !ok {
		return shared.NewNotFoundError("invoice", id.String())
	}
	for _, p := range t.data.payments {
		if p.InvoiceID == id {
			return &shared.ConstraintViolation{Constraint: "payments_invoice_id_fkey", Detail: "invoice has payments"}
		}
	}
	for _, cn := range t.data.creditNotes {
		if cn.InvoiceID == id {
			return &shared.ConstraintViolation{Constraint: "credit_notes_invoice_id_fkey", Detail: "invoice has credit notes"}
		}
	}
	delete(t.data.invoices, id)
	return nil
}

func (t *txState) CountPayments(_ context.Context, invoiceID uuid.UUID) (int, error) {
	n := 0
	for _, p := range t.data.payments {
		if p.InvoiceID == invoiceID {
			n++
		}
	}
	return n, nil
}

func (t *txState) CountCreditNotes(_ context.Context, invoiceID uuid.UUID) (int, error) {
	n := 0
	for _, cn := range t.data.creditNotes {
		if cn.InvoiceID == invoiceID {
			n++
		}
	}
	return n, nil
}

func (t *txState) InsertPayment(_ context.Context, p sales.Payment) error {
	if _, ok := t.data.invoices[p.InvoiceID]; !ok {
		return &shared.ConstraintViolation{Constraint: "payments_invoice_id_fkey", Detail: "unknown invoice " + p.InvoiceID.String()}
	}
	t.data.payments[p.ID] = p
	return nil
}

func (t *txState) GetPayment(_ context.Context, id uuid.UUID) (sales.Payment, error) {
	p, ok := t.data.payments[id]
	if !ok {
		return sales.Payment{}, shared.NewNotFoundError("payment", id.String())
	}
	return p, nil
}

func (t *txState) InsertCreditNote(_ context.Context, cn sales.CreditNote) error {
	if _, ok := t.data.invoices[cn.InvoiceID]; !ok {
		return &shared.ConstraintViolation{Constraint: "credit_notes_invoice_id_fkey", Detail: "unknown invoice " + cn.InvoiceID.String()}
	}
	for _, existing := range t.data.creditNotes {
		if existing.CreditNoteNumber == cn.CreditNoteNumber {
			return duplicate("credit_notes_number_key", cn.CreditNoteNumber)
		}
	}
	t.data.creditNotes[cn.ID] = cn
	return nil
}

func (t *txState) GetCreditNoteForUpdate(_ context.Context, id uuid.UUID) (sales.CreditNote, error) {
	cn, ok := t.data.creditNotes[id]
	if !ok {
		return sales.CreditNote{}, shared.NewNotFoundError("credit note", id.String())
	}
	return cn, nil
}

func (t *txState) ApproveCreditNote(_ context.Context, id uuid.UUID, at time.Time) error {
	cn, ok := t.data.creditNotes[id]
	if !ok {
		return shared.NewNotFoundError("credit note", id.String())
	}
	cn.Status = sales.CreditNoteStatusApproved
	cn.ApprovedAt = &at
	t.data.creditNotes[id] = cn
	return nil
}

func (t *txState) InsertLedgerEntry(_ context.Context, e ledger.Entry) (bool, error) {
	key := ledgerKey{e.TransactionType, e.ReferenceID}
	if _, ok := t.data.ledger[key]; ok {
		return false, nil
	}
	t.data.ledger[key] = e
	return true, nil
}

func (t *txState) LedgerEntryExists(_ context.Context, kind ledger.TransactionType, ref uuid.UUID) (bool, error) {
	_, ok := t.data.ledger[ledgerKey{kind, ref}]
	return ok, nil
}

func (t *txState) DeleteLedgerEntries(_ context.Context, ref uuid.UUID) (int64, error) {
	var n int64
	for key := range t.data.ledger {
		if key.ref == ref {
			delete(t.data.ledger, key)
			n++
		}
	}
	return n, nil
}

func (t *txState) LockLots(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.Lot, error) {
	out := make(map[uuid.UUID]inventory.Lot, len(ids))
	for _, id := range store.LockOrder(ids) {
		if lot, ok := t.data.lots[id]; ok {
			out[id] = lot
		}
	}
	return out, nil
}

func (t *txState) DecrementLot(_ context.Context, id uuid.UUID, qty decimal.Decimal) (inventory.Lot, bool, error) {
	lot, ok := t.data.lots[id]
	if !ok || lot.RemainingQuantity.LessThan(qty) {
		return inventory.Lot{}, false, nil
	}
	lot.RemainingQuantity = lot.RemainingQuantity.Sub(qty)
	t.data.lots[id] = lot
	return lot, true, nil
}

func (t *txState) SetLotRemaining(_ context.Context, id uuid.UUID, qty decimal.Decimal) error {
	lot, ok := t.data.lots[id]
	if !ok {
		return shared.NewNotFoundError("lot", id.String())
	}
	lot.RemainingQuantity = qty
	t.data.lots[id] = lot
	return nil
}

func (t *txState) InsertBatch(_ context.Context, b production.Batch) error {
	for _, existing := range t.data.batches {
		if existing.BatchNumber == b.BatchNumber {
			return duplicate("production_batches_batch_number_key", b.BatchNumber)
		}
	}
	t.data.batches[b.ID] = b
	return nil
}

// ReplaceBatch overwrites a batch row without the uniqueness checks of InsertBatch. It is
// not part of store.Tx.
func (t *txState) ReplaceBatch(_ context.Context, b production.Batch) error {
	t.data.batches[b.ID] = b
	return nil
}

func (t *txState) InsertBatchInputs(_ context.Context, inputs []production.BatchInput) error {
	for _, in := range inputs {
		if _, ok := t.data.lots[in.MaterialIntakeID]; !ok {
			return &shared.ConstraintViolation{Constraint: "batch_inputs_material_intake_id_fkey", Detail: "unknown lot " + in.MaterialIntakeID.String()}
		}
		t.data.inputs[in.ID] = in
	}
	return nil
}
