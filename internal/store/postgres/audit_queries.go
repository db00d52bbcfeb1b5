package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
)

func (r *Repository) OrdersWithoutInvoice(ctx context.Context) ([]sales.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT o.id, o.customer_id, o.order_number, o.order_date, o.total_amount, o.status, o.notes, o.created_at
FROM orders o
LEFT JOIN invoices i ON i.order_id = o.id
WHERE i.id IS NULL
ORDER BY o.created_at, o.id`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: orders without invoice: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (sales.Order, error) {
		var o sales.Order
		var status string
		err := row.Scan(&o.ID, &o.CustomerID, &o.OrderNumber, &o.OrderDate, &o.TotalAmount, &status, &o.Notes, &o.CreatedAt)
		o.Status = sales.OrderStatus(status)
		return o, err
	})
}

func (r *Repository) InvoicesWithoutOrder(ctx context.Context) ([]sales.Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.order_id, i.customer_id, i.invoice_number, i.issue_date, i.due_date, i.payment_terms,
       i.total_amount, i.paid_amount, i.status, i.created_at
FROM invoices i
LEFT JOIN orders o ON o.id = i.order_id
WHERE o.id IS NULL
ORDER BY i.invoice_number`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: invoices without order: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (sales.Invoice, error) { return scanInvoice(row) })
}

func (r *Repository) InvoicesWithoutLedger(ctx context.Context) ([]sales.Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.order_id, i.customer_id, i.invoice_number, i.issue_date, i.due_date, i.payment_terms,
       i.total_amount, i.paid_amount, i.status, i.created_at
FROM invoices i
LEFT JOIN financial_ledger l ON l.transaction_type = 'invoice' AND l.reference_id = i.id
WHERE l.id IS NULL
ORDER BY i.invoice_number`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: invoices without ledger: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (sales.Invoice, error) { return scanInvoice(row) })
}

func (r *Repository) CreditsWithoutLedger(ctx context.Context) ([]store.CreditEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT 'payment', p.id, p.invoice_id, p.customer_id, p.amount
FROM payments p
LEFT JOIN financial_ledger l ON l.transaction_type = 'payment' AND l.reference_id = p.id
WHERE l.id IS NULL
UNION ALL
SELECT 'credit_note', c.id, c.invoice_id, c.customer_id, c.amount
FROM credit_notes c
LEFT JOIN financial_ledger l ON l.transaction_type = 'credit_note' AND l.reference_id = c.id
WHERE c.status = 'approved' AND l.id IS NULL
ORDER BY 2`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: credits without ledger: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (store.CreditEvent, error) {
		var ev store.CreditEvent
		var kind string
		err := row.Scan(&kind, &ev.ReferenceID, &ev.InvoiceID, &ev.CustomerID, &ev.Amount)
		ev.Type = ledger.TransactionType(kind)
		return ev, err
	})
}

func (r *Repository) BatchesWithoutInputs(ctx context.Context) ([]production.Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.batch_number, b.production_date, b.output_litres, b.total_input_cost, b.status, b.notes, b.created_at
FROM production_batches b
WHERE NOT EXISTS (SELECT 1 FROM batch_inputs bi WHERE bi.batch_id = b.id)
ORDER BY b.batch_number`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: batches without inputs: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (production.Batch, error) {
		var b production.Batch
		var status string
		err := row.Scan(&b.ID, &b.BatchNumber, &b.ProductionDate, &b.OutputLitres, &b.TotalInputCost, &status, &b.Notes, &b.CreatedAt)
		b.Status = production.BatchStatus(status)
		return b, err
	})
}

func (r *Repository) OrphanBatchInputs(ctx context.Context) ([]production.BatchInput, error) {
	rows, err := r.pool.Query(ctx, `SELECT bi.id, bi.batch_id, bi.material_intake_id, bi.quantity_used, bi.unit_cost, bi.line_cost
FROM batch_inputs bi
LEFT JOIN production_batches b ON b.id = bi.batch_id
WHERE b.id IS NULL
ORDER BY bi.id`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: orphan batch inputs: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (production.BatchInput, error) {
		var in production.BatchInput
		err := row.Scan(&in.ID, &in.BatchID, &in.MaterialIntakeID, &in.QuantityUsed, &in.UnitCost, &in.LineCost)
		return in, err
	})
}

func (r *Repository) NegativeLots(ctx context.Context) ([]inventory.Lot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, material_name, remaining_quantity, cost_per_unit, received_at
FROM material_intake_logs WHERE remaining_quantity < 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: negative lots: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (inventory.Lot, error) { return scanLot(row) })
}

func (r *Repository) BatchCostMismatches(ctx context.Context) ([]production.CostMismatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.batch_number, b.total_input_cost, SUM(bi.quantity_used * bi.unit_cost)
FROM production_batches b
JOIN batch_inputs bi ON bi.batch_id = b.id
GROUP BY b.id, b.batch_number, b.total_input_cost
ORDER BY b.batch_number`)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: batch cost mismatches: %w", err)
	}
	sums, err := collect(rows, func(row pgx.Rows) (production.CostMismatch, error) {
		var m production.CostMismatch
		err := row.Scan(&m.BatchID, &m.BatchNumber, &m.Stored, &m.Computed)
		return m, err
	})
	if err != nil {
		return nil, err
	}
	// The SQL sum is exact at scale 8; it is rounded once, half-even, like the engine does.
	out := make([]production.CostMismatch, 0)
	for _, m := range sums {
		m.Computed = m.Computed.RoundBank(2)
		if !m.Computed.Equal(m.Stored) {
			out = append(out, m)
		}
	}
	return out, nil
}

// PermissionsFor lists the permissions granted to actorID.
func (r *Repository) PermissionsFor(ctx context.Context, actorID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT permission FROM actor_permissions WHERE actor_id=$1 ORDER BY permission`, actorID)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: permissions: %w", err)
	}
	return collect(rows, func(row pgx.Rows) (string, error) {
		var p string
		err := row.Scan(&p)
		return p, err
	})
}

func collect[T any](rows pgx.Rows, scan func(pgx.Rows) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
