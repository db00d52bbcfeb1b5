// Package memory implements the store ports in process memory. Transactions are
// serialised and work on a private copy that replaces the committed state only when the
// callback succeeds, so a failed callback leaves no partial writes behind.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
	"github.com/odyssey-erp/odyssey-ops/internal/ledger"
	"github.com/odyssey-erp/odyssey-ops/internal/production"
	"github.com/odyssey-erp/odyssey-ops/internal/sales"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
	"github.com/odyssey-erp/odyssey-ops/internal/store"
)

type ledgerKey struct {
	kind ledger.TransactionType
	ref  uuid.UUID
}

type state struct {
	customers   map[string]sales.Customer
	orders      map[uuid.UUID]sales.Order
	invoices    map[uuid.UUID]sales.Invoice
	sequences   map[int]int64
	payments    map[uuid.UUID]sales.Payment
	creditNotes map[uuid.UUID]sales.CreditNote
	lots        map[uuid.UUID]inventory.Lot
	batches     map[uuid.UUID]production.Batch
	inputs      map[uuid.UUID]production.BatchInput
	ledger      map[ledgerKey]ledger.Entry
	idempotency map[string]time.Time
	permissions map[string]map[string]struct{}
}

func newState() *state {
	return &state{
		customers:   map[string]sales.Customer{},
		orders:      map[uuid.UUID]sales.Order{},
		invoices:    map[uuid.UUID]sales.Invoice{},
		sequences:   map[int]int64{},
		payments:    map[uuid.UUID]sales.Payment{},
		creditNotes: map[uuid.UUID]sales.CreditNote{},
		lots:        map[uuid.UUID]inventory.Lot{},
		batches:     map[uuid.UUID]production.Batch{},
		inputs:      map[uuid.UUID]production.BatchInput{},
		ledger:      map[ledgerKey]ledger.Entry{},
		idempotency: map[string]time.Time{},
		permissions: map[string]map[string]struct{}{},
	}
}

func (s *state) clone() *state {
	c := &state{
		customers:   cloneMap(s.customers),
		orders:      cloneMap(s.orders),
		invoices:    cloneMap(s.invoices),
		sequences:   cloneMap(s.sequences),
		payments:    cloneMap(s.payments),
		creditNotes: cloneMap(s.creditNotes),
		lots:        cloneMap(s.lots),
		batches:     cloneMap(s.batches),
		inputs:      cloneMap(s.inputs),
		ledger:      cloneMap(s.ledger),
		idempotency: cloneMap(s.idempotency),
		permissions: make(map[string]map[string]struct{}, len(s.permissions)),
	}
	for actor, perms := range s.permissions {
		c.permissions[actor] = cloneMap(perms)
	}
	return c
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Store is an in-memory store.Repository.
type Store struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	data  *state
	audit []shared.AuditLog
	clock func() time.Time
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Janitor    = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	return &Store{data: newState(), clock: func() time.Time { return time.Now().UTC() }}
}

// WithTx runs fn against a private copy of the data and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.data.clone()
	s.mu.RUnlock()

	tx := &txState{data: work, clock: s.clock}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.audit = append(s.audit, tx.audit...)
	s.mu.Unlock()
	return nil
}

// Record appends an audit entry outside any transaction.
func (s *Store) Record(_ context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = s.clock()
	}
	s.mu.Lock()
	s.audit = append(s.audit, log)
	s.mu.Unlock()
	return nil
}

// CleanupIdempotencyKeys drops claimed keys older than retention.
func (s *Store) CleanupIdempotencyKeys(_ context.Context, retention time.Duration) (int64, error) {
	cutoff := s.clock().Add(-retention)
	var removed int64
	s.mutate(func(d *state) {
		for key, at := range d.idempotency {
			if at.Before(cutoff) {
				delete(d.idempotency, key)
				removed++
			}
		}
	})
	return removed, nil
}

// PermissionsFor lists the permissions granted to actorID.
func (s *Store) PermissionsFor(_ context.Context, actorID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms := make([]string, 0, len(s.data.permissions[actorID]))
	for p := range s.data.permissions[actorID] {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms, nil
}

// GetLot reads a committed lot.
func (s *Store) GetLot(_ context.Context, id uuid.UUID) (inventory.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lot, ok := s.data.lots[id]
	if !ok {
		return inventory.Lot{}, shared.NewNotFoundError("lot", id.String())
	}
	return lot, nil
}

func (s *Store) OrdersWithoutInvoice(context.Context) ([]sales.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invoiced := make(map[uuid.UUID]struct{}, len(s.data.invoices))
	for _, inv := range s.data.invoices {
		invoiced[inv.OrderID] = struct{}{}
	}
	var out []sales.Order
	for _, o := range s.data.orders {
		if _, ok := invoiced[o.ID]; !ok {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) InvoicesWithoutOrder(context.Context) ([]sales.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sales.Invoice
	for _, inv := range s.data.invoices {
		if _, ok := s.data.orders[inv.OrderID]; !ok {
			out = append(out, inv)
		}
	}
	sortInvoices(out)
	return out, nil
}

func (s *Store) InvoicesWithoutLedger(context.Context) ([]sales.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []sales.Invoice
	for _, inv := range s.data.invoices {
		if _, ok := s.data.ledger[ledgerKey{ledger.TransactionInvoice, inv.ID}]; !ok {
			out = append(out, inv)
		}
	}
	sortInvoices(out)
	return out, nil
}

func (s *Store) CreditsWithoutLedger(context.Context) ([]store.CreditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.CreditEvent
	for _, p := range s.data.payments {
		if _, ok := s.data.ledger[ledgerKey{ledger.TransactionPayment, p.ID}]; !ok {
			out = append(out, store.CreditEvent{Type: ledger.TransactionPayment, ReferenceID: p.ID, InvoiceID: p.InvoiceID, CustomerID: p.CustomerID, Amount: p.Amount})
		}
	}
	for _, cn := range s.data.creditNotes {
		if cn.Status != sales.CreditNoteStatusApproved {
			continue
		}
		if _, ok := s.data.ledger[ledgerKey{ledger.TransactionCreditNote, cn.ID}]; !ok {
			out = append(out, store.CreditEvent{Type: ledger.TransactionCreditNote, ReferenceID: cn.ID, InvoiceID: cn.InvoiceID, CustomerID: cn.CustomerID, Amount: cn.Amount})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceID.String() < out[j].ReferenceID.String() })
	return out, nil
}

func (s *Store) BatchesWithoutInputs(context.Context) ([]production.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	used := make(map[uuid.UUID]struct{}, len(s.data.inputs))
	for _, in := range s.data.inputs {
		used[in.BatchID] = struct{}{}
	}
	var out []production.Batch
	for _, b := range s.data.batches {
		if _, ok := used[b.ID]; !ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out, nil
}

func (s *Store) OrphanBatchInputs(context.Context) ([]production.BatchInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []production.BatchInput
	for _, in := range s.data.inputs {
		if _, ok := s.data.batches[in.BatchID]; !ok {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) NegativeLots(context.Context) ([]inventory.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []inventory.Lot
	for _, lot := range s.data.lots {
		if lot.RemainingQuantity.IsNegative() {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *Store) BatchCostMismatches(context.Context) ([]production.CostMismatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grouped := make(map[uuid.UUID][]production.BatchInput)
	for _, in := range s.data.inputs {
		grouped[in.BatchID] = append(grouped[in.BatchID], in)
	}
	var out []production.CostMismatch
	for id, inputs := range grouped {
		b, ok := s.data.batches[id]
		if !ok {
			continue
		}
		computed := production.TotalInputCost(inputs)
		if !computed.Equal(b.TotalInputCost) {
			out = append(out, production.CostMismatch{BatchID: b.ID, BatchNumber: b.BatchNumber, Stored: b.TotalInputCost, Computed: computed})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out, nil
}

func sortInvoices(in []sales.Invoice) {
	sort.Slice(in, func(i, j int) bool { return in[i].InvoiceNumber < in[j].InvoiceNumber })
}

func (s *Store) mutate(fn func(*state)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}
