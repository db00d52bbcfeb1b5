package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) ClaimIdempotencyKey(ctx context.Context, key, module string) error {
	return shared.ClaimIdempotencyKey(ctx, r.tx, key, module)
}

func (r *txRepository) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.InsertAuditLog(ctx, r.tx, log)
}

// NextInvoiceSequence increments the year's counter row. The upsert row-locks it, so
// concurrent invoices for one year queue on this row and the losers abort with 40001;
// db.WithTx re-runs them after a jittered delay.
func (r *txRepository) NextInvoiceSequence(ctx context.Context, year int) (int64, error) {
	var next int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoice_sequences (year, last_value) VALUES ($1, 1)
ON CONFLICT (year) DO UPDATE SET last_value = invoice_sequences.last_value + 1
RETURNING last_value`, year).Scan(&next)
	return next, err
}

func (r *txRepository) CustomerExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id=$1)`, id).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertOrder(ctx context.Context, o sales.Order) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO orders (id, customer_id, order_number, order_date, total_amount, status, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, o.ID, o.CustomerID, o.OrderNumber, o.OrderDate, o.TotalAmount, string(o.Status), o.Notes, o.CreatedAt)
	return translate(err, o.OrderNumber)
}

func (r *txRepository) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (sales.Order, error) {
	var o sales.Order
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, customer_id, order_number, order_date, total_amount, status, notes, created_at
FROM orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&o.ID, &o.CustomerID, &o.OrderNumber, &o.OrderDate, &o.TotalAmount, &status, &o.Notes, &o.CreatedAt)
	if err != nil {
		return sales.Order{}, notFound(err, "order", id)
	}
	o.Status = sales.OrderStatus(status)
	return o, nil
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv sales.Invoice) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO invoices (id, order_id, customer_id, invoice_number, issue_date, due_date, payment_terms, total_amount, paid_amount, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, inv.ID, inv.OrderID, inv.CustomerID, inv.InvoiceNumber, inv.IssueDate, inv.DueDate,
		inv.PaymentTerms, inv.TotalAmount, inv.PaidAmount, string(inv.Status), inv.CreatedAt)
	return translate(err, inv.InvoiceNumber)
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (sales.Invoice, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id=$1 FOR UPDATE`, id)
	inv, err := scanInvoice(row)
	if err != nil {
		return sales.Invoice{}, notFound(err, "invoice", id)
	}
	return inv, nil
}

func (r *txRepository) InvoiceExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE order_id=$1)`, orderID).Scan(&exists)
	return exists, err
}

func (r *txRepository) UpdateInvoicePaid(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status sales.InvoiceStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET paid_amount=$2, status=$3 WHERE id=$1`, id, paid, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFoundError("invoice", id.String())
	}
	return nil
}

func (r *txRepository) DeleteInvoice(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM invoices WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFoundError("invoice", id.String())
	}
	return nil
}

func (r *txRepository) CountPayments(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE invoice_id=$1`, invoiceID).Scan(&n)
	return n, err
}

func (r *txRepository) CountCreditNotes(ctx context.Context, invoiceID uuid.UUID) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM credit_notes WHERE invoice_id=$1`, invoiceID).Scan(&n)
	return n, err
}

func (r *txRepository) InsertPayment(ctx context.Context, p sales.Payment) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO payments (id, invoice_id, customer_id, amount, payment_date, method, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, p.ID, p.InvoiceID, p.CustomerID, p.Amount, p.PaymentDate, p.Method, p.CreatedAt)
	return err
}

func (r *txRepository) GetPayment(ctx context.Context, id uuid.UUID) (sales.Payment, error) {
	var p sales.Payment
	err := r.tx.QueryRow(ctx, `SELECT id, invoice_id, customer_id, amount, payment_date, method, created_at FROM payments WHERE id=$1`, id).
		Scan(&p.ID, &p.InvoiceID, &p.CustomerID, &p.Amount, &p.PaymentDate, &p.Method, &p.CreatedAt)
	if err != nil {
		return sales.Payment{}, notFound(err, "payment", id)
	}
	return p, nil
}

func (r *txRepository) InsertCreditNote(ctx context.Context, cn sales.CreditNote) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO credit_notes (id, invoice_id, customer_id, credit_note_number, amount, reason, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, cn.ID, cn.InvoiceID, cn.CustomerID, cn.CreditNoteNumber, cn.Amount, cn.Reason, string(cn.Status), cn.CreatedAt)
	return translate(err, cn.CreditNoteNumber)
}

func (r *txRepository) GetCreditNoteForUpdate(ctx context.Context, id uuid.UUID) (sales.CreditNote, error) {
	var cn sales.CreditNote
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, invoice_id, customer_id, credit_note_number, amount, reason, status, approved_at, created_at
FROM credit_notes WHERE id=$1 FOR UPDATE`, id).
		Scan(&cn.ID, &cn.InvoiceID, &cn.CustomerID, &cn.CreditNoteNumber, &cn.Amount, &cn.Reason, &status, &cn.ApprovedAt, &cn.CreatedAt)
	if err != nil {
		return sales.CreditNote{}, notFound(err, "credit note", id)
	}
	cn.Status = sales.CreditNoteStatus(status)
	return cn, nil
}

func (r *txRepository) ApproveCreditNote(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE credit_notes SET status=$2, approved_at=$3 WHERE id=$1`, id, string(sales.CreditNoteStatusApproved), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFoundError("credit note", id.String())
	}
	return nil
}

func (r *txRepository) InsertLedgerEntry(ctx context.Context, e ledger.Entry) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO financial_ledger (id, transaction_type, reference_id, customer_id, amount, balance_impact, description, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (transaction_type, reference_id) DO NOTHING`, e.ID, string(e.TransactionType), e.ReferenceID, e.CustomerID, e.Amount, string(e.BalanceImpact), e.Description, e.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepository) LedgerEntryExists(ctx context.Context, kind ledger.TransactionType, ref uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM financial_ledger WHERE transaction_type=$1 AND reference_id=$2)`, string(kind), ref).Scan(&exists)
	return exists, err
}

func (r *txRepository) DeleteLedgerEntries(ctx context.Context, ref uuid.UUID) (int64, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM financial_ledger WHERE reference_id=$1`, ref)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) LockLots(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]inventory.Lot, error) {
	lots := make(map[uuid.UUID]inventory.Lot, len(ids))
	if len(ids) == 0 {
		return lots, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, material_name, remaining_quantity, cost_per_unit, received_at
FROM material_intake_logs WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots[lot.ID] = lot
	}
	return lots, rows.Err()
}

func (r *txRepository) DecrementLot(ctx context.Context, id uuid.UUID, qty decimal.Decimal) (inventory.Lot, bool, error) {
	row := r.tx.QueryRow(ctx, `UPDATE material_intake_logs SET remaining_quantity = remaining_quantity - $2
WHERE id=$1 AND remaining_quantity >= $2
RETURNING id, material_name, remaining_quantity, cost_per_unit, received_at`, id, qty)
	lot, err := scanLot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Lot{}, false, nil
		}
		return inventory.Lot{}, false, err
	}
	return lot, true, nil
}

func (r *txRepository) SetLotRemaining(ctx context.Context, id uuid.UUID, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE material_intake_logs SET remaining_quantity=$2 WHERE id=$1`, id, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NewNotFoundError("lot", id.String())
	}
	return nil
}

func (r *txRepository) InsertBatch(ctx context.Context, b production.Batch) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO production_batches (id, batch_number, production_date, output_litres, total_input_cost, status, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, b.ID, b.BatchNumber, b.ProductionDate, b.OutputLitres, b.TotalInputCost, string(b.Status), b.Notes, b.CreatedAt)
	return translate(err, b.BatchNumber)
}

func (r *txRepository) InsertBatchInputs(ctx context.Context, inputs []production.BatchInput) error {
	for _, in := range inputs {
		if _, err := r.tx.Exec(ctx, `INSERT INTO batch_inputs (id, batch_id, material_intake_id, quantity_used, unit_cost, line_cost)
VALUES ($1,$2,$3,$4,$5,$6)`, in.ID, in.BatchID, in.MaterialIntakeID, in.QuantityUsed, in.UnitCost, in.LineCost); err != nil {
			return err
		}
	}
	return nil
}

const invoiceColumns = `id, order_id, customer_id, invoice_number, issue_date, due_date, payment_terms, total_amount, paid_amount, status, created_at`

func scanInvoice(row pgx.Row) (sales.Invoice, error) {
	var inv sales.Invoice
	var orderID uuid.NullUUID
	var status string
	err := row.Scan(&inv.ID, &orderID, &inv.CustomerID, &inv.InvoiceNumber, &inv.IssueDate, &inv.DueDate,
		&inv.PaymentTerms, &inv.TotalAmount, &inv.PaidAmount, &status, &inv.CreatedAt)
	if err != nil {
		return sales.Invoice{}, err
	}
	inv.OrderID = orderID.UUID
	inv.Status = sales.InvoiceStatus(status)
	return inv, nil
}

// translate maps unique violations to ConstraintViolation.
func translate(err error, value string) error {
	if err == nil {
		return nil
	}
	if constraint, ok := db.UniqueViolation(err); ok {
		return &shared.ConstraintViolation{Constraint: constraint, Detail: fmt.Sprintf("duplicate value %q", value)}
	}
	return err
}

func notFound(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NewNotFoundError(entity, id.String())
	}
	return err
}
