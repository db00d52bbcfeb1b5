package memory

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// AddCustomer registers a customer.
func (s *Store) AddCustomer(c sales.Customer) {
	s.mutate(func(d *state) { d.customers[c.ID] = c })
}

// AddLot registers a material intake lot. A zero ID is replaced by a fresh one.
func (s *Store) AddLot(lot inventory.Lot) inventory.Lot {
	if lot.ID == uuid.Nil {
		lot.ID = uuid.New()
	}
	if lot.ReceivedAt.IsZero() {
		lot.ReceivedAt = s.clock()
	}
	s.mutate(func(d *state) { d.lots[lot.ID] = lot })
	return lot
}

// Grant gives actorID the listed permissions.
func (s *Store) Grant(actorID string, perms ...string) {
	s.mutate(func(d *state) {
		set, ok := d.permissions[actorID]
		if !ok {
			set = map[string]struct{}{}
			d.permissions[actorID] = set
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	})
}

// Order returns a committed order.
func (s *Store) Order(id uuid.UUID) (sales.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.orders[id]
	return o, ok
}

// Orders returns every committed order.
func (s *Store) Orders() []sales.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]sales.Order, 0, len(s.data.orders))
	for _, o := range s.data.orders {
		out = append(out, o)
	}
	return out
}

// Invoice returns a committed invoice.
func (s *Store) Invoice(id uuid.UUID) (sales.Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.data.invoices[id]
	return inv, ok
}

// InvoiceForOrder returns the committed invoice billing orderID.
func (s *Store) InvoiceForOrder(orderID uuid.UUID) (sales.Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.data.invoices {
		if inv.OrderID == orderID {
			return inv, true
		}
	}
	return sales.Invoice{}, false
}

// LedgerEntry returns the committed ledger row for (kind, ref).
func (s *Store) LedgerEntry(kind ledger.TransactionType, ref uuid.UUID) (ledger.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data.ledger[ledgerKey{kind, ref}]
	return e, ok
}

// LedgerCount returns the number of committed ledger rows.
func (s *Store) LedgerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.ledger)
}

// Batches returns every committed batch.
func (s *Store) Batches() []production.Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]production.Batch, 0, len(s.data.batches))
	for _, b := range s.data.batches {
		out = append(out, b)
	}
	return out
}

// BatchInputs returns the committed inputs of batchID.
func (s *Store) BatchInputs(batchID uuid.UUID) []production.BatchInput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []production.BatchInput
	for _, in := range s.data.inputs {
		if in.BatchID == batchID {
			out = append(out, in)
		}
	}
	return out
}

// AuditLogs returns a copy of the committed audit trail.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]shared.AuditLog(nil), s.audit...)
}
