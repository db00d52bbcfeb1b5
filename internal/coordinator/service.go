// Package coordinator executes the multi-entity writes of the engine. Every operation runs
// in exactly one store transaction: either all rows it touches are committed or none are.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
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

const (
	opCreateOrder       = "create_order_with_invoice"
	opCreateBatch       = "create_production_batch"
	opRecordPayment     = "record_payment"
	opCreateCreditNote  = "create_credit_note"
	opApproveCreditNote = "approve_credit_note"
)

// Audit actions written inside the composite transaction.
const (
	AuditActionOrderCreated       = "order_with_invoice_created"
	AuditActionBatchCreated       = "production_batch_created"
	AuditActionPaymentRecorded    = "payment_recorded"
	AuditActionCreditNoteCreated  = "credit_note_created"
	AuditActionCreditNoteApproved = "credit_note_approved"
)

// WriteObserver receives the outcome of every composite write.
type WriteObserver interface {
	ObserveCompositeWrite(op, outcome string, elapsed time.Duration)
}

// Config tunes the coordinator defaults.
type Config struct {
	DefaultPaymentTerms int
}

// Service coordinates composite writes over the shared store.
type Service struct {
	repo      store.Repository
	validator *inventory.Validator
	projector *ledger.Projector
	observer  WriteObserver
	logger    *slog.Logger
	cfg       Config
	clock     func() time.Time
}

// NewService wires the coordinator. observer may be nil.
func NewService(repo store.Repository, logger *slog.Logger, observer WriteObserver, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultPaymentTerms <= 0 {
		cfg.DefaultPaymentTerms = sales.DefaultPaymentTerms
	}
	return &Service{
		repo:      repo,
		validator: inventory.NewValidator(repo),
		projector: ledger.NewProjector(),
		observer:  observer,
		logger:    logger,
		cfg:       cfg,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderWithInvoice persists an order, its invoice and the invoice ledger debit
// atomically. invIn may be nil.
func (s *Service) CreateOrderWithInvoice(ctx context.Context, in OrderInput, invIn *InvoiceInput) (OrderWithInvoice, error) {
	started := s.clock()
	now := started

	order, issueDate, terms, err := s.prepareOrder(in, invIn, now)
	if err != nil {
		return OrderWithInvoice{}, s.finish(ctx, opCreateOrder, "order", in.OrderNumber, started, err)
	}

	var result OrderWithInvoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, in.IdempotencyKey, opCreateOrder); err != nil {
				return err
			}
		}
		exists, err := tx.CustomerExists(ctx, order.CustomerID)
		if err != nil {
			return fmt.Errorf("check customer: %w", err)
		}
		if !exists {
			return shared.NewNotFoundError("customer", order.CustomerID)
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		number, err := sales.AllocateInvoiceNumber(ctx, tx, issueDate)
		if err != nil {
			return err
		}
		invoice, err := sales.NewInvoiceForOrder(order, number, issueDate, terms, now)
		if err != nil {
			return err
		}
		if err := tx.InsertInvoice(ctx, invoice); err != nil {
			return err
		}
		entry, err := s.projector.ProjectInvoice(ctx, tx, invoice)
		if err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   AuditActionOrderCreated,
			Entity:   "order",
			EntityID: order.ID.String(),
			Meta: map[string]any{
				"order_number":   order.OrderNumber,
				"invoice_id":     invoice.ID.String(),
				"invoice_number": invoice.InvoiceNumber,
				"total_amount":   order.TotalAmount.StringFixed(shared.MoneyPlaces),
			},
			At: now,
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		result = OrderWithInvoice{Order: order, Invoice: invoice, LedgerEntry: entry}
		return nil
	})
	if err := s.finish(ctx, opCreateOrder, "order", order.OrderNumber, started, err); err != nil {
		return OrderWithInvoice{}, err
	}
	s.logger.Info("order with invoice created",
		slog.String("order_id", result.Order.ID.String()),
		slog.String("order_number", result.Order.OrderNumber),
		slog.String("invoice_number", result.Invoice.InvoiceNumber))
	return result, nil
}

func (s *Service) prepareOrder(in OrderInput, invIn *InvoiceInput, now time.Time) (sales.Order, time.Time, int, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		return sales.Order{}, time.Time{}, 0, shared.NewValidationError("customer_id", "is required")
	}
	total := shared.RoundMoney(in.TotalAmount)
	if err := shared.CheckAmount("total_amount", total); err != nil {
		return sales.Order{}, time.Time{}, 0, err
	}
	orderDate := in.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}
	number := strings.TrimSpace(in.OrderNumber)
	if number == "" {
		number = sales.GenerateOrderNumber(orderDate)
	}

	terms := s.cfg.DefaultPaymentTerms
	issueDate := orderDate
	if invIn != nil {
		if invIn.PaymentTerms != nil {
			terms = *invIn.PaymentTerms
		}
		if !invIn.IssueDate.IsZero() {
			issueDate = invIn.IssueDate
		}
	}
	if terms < 0 {
		return sales.Order{}, time.Time{}, 0, shared.NewValidationError("payment_terms", "must not be negative")
	}

	order := sales.Order{
		ID:          uuid.New(),
		CustomerID:  customerID,
		OrderNumber: number,
		OrderDate:   orderDate.UTC(),
		TotalAmount: total,
		Status:      sales.OrderStatusPending,
		Notes:       strings.TrimSpace(in.Notes),
		CreatedAt:   now,
	}
	return order, issueDate, terms, nil
}

// CreateProductionBatch decrements every referenced lot and records the batch with its
// inputs atomically. The first line that cannot be covered aborts the whole batch.
func (s *Service) CreateProductionBatch(ctx context.Context, req BatchRequest, lines []inventory.Consumption) (BatchResult, error) {
	started := s.clock()
	now := started

	if err := validateBatch(req, lines); err != nil {
		return BatchResult{}, s.finish(ctx, opCreateBatch, "production_batch", req.BatchNumber, started, err)
	}
	productionDate := req.ProductionDate
	if productionDate.IsZero() {
		productionDate = now
	}
	batch := production.Batch{
		ID:             uuid.New(),
		BatchNumber:    strings.TrimSpace(req.BatchNumber),
		ProductionDate: sales.DateOnly(productionDate),
		OutputLitres:   req.OutputLitres,
		Status:         production.BatchStatusCompleted,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      now,
	}

	var result BatchResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if req.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, req.IdempotencyKey, opCreateBatch); err != nil {
				return err
			}
		}
		ids := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.MaterialIntakeID)
		}
		locked, err := tx.LockLots(ctx, store.LockOrder(ids))
		if err != nil {
			return fmt.Errorf("lock lots: %w", err)
		}

		remaining := make(map[uuid.UUID]decimal.Decimal, len(locked))
		for id, lot := range locked {
			remaining[id] = lot.RemainingQuantity
		}
		inputs := make([]production.BatchInput, 0, len(lines))
		for i, line := range lines {
			lot, ok := locked[line.MaterialIntakeID]
			if !ok {
				return shared.NewNotFoundError("lot", line.MaterialIntakeID.String())
			}
			updated, ok, err := tx.DecrementLot(ctx, line.MaterialIntakeID, line.QuantityUsed)
			if err != nil {
				return fmt.Errorf("decrement lot %s: %w", line.MaterialIntakeID, err)
			}
			if !ok {
				return &shared.InsufficientInventoryError{
					Line:             i,
					MaterialIntakeID: line.MaterialIntakeID,
					Requested:        line.QuantityUsed,
					Available:        remaining[line.MaterialIntakeID],
				}
			}
			remaining[line.MaterialIntakeID] = updated.RemainingQuantity
			locked[line.MaterialIntakeID] = updated
			inputs = append(inputs, production.NewInput(batch.ID, line.MaterialIntakeID, line.QuantityUsed, lot.CostPerUnit))
		}

		batch.TotalInputCost = production.TotalInputCost(inputs)
		if err := tx.InsertBatch(ctx, batch); err != nil {
			return err
		}
		if err := tx.InsertBatchInputs(ctx, inputs); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   AuditActionBatchCreated,
			Entity:   "production_batch",
			EntityID: batch.ID.String(),
			Meta: map[string]any{
				"batch_number":     batch.BatchNumber,
				"inputs":           len(inputs),
				"total_input_cost": batch.TotalInputCost.StringFixed(shared.MoneyPlaces),
			},
			At: now,
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}

		lots := make([]inventory.Lot, 0, len(locked))
		for _, id := range store.LockOrder(ids) {
			lots = append(lots, locked[id])
		}
		result = BatchResult{Batch: batch, Inputs: inputs, TotalInputCost: batch.TotalInputCost, Lots: lots}
		return nil
	})
	if err := s.finish(ctx, opCreateBatch, "production_batch", batch.BatchNumber, started, err); err != nil {
		return BatchResult{}, err
	}
	s.logger.Info("production batch created",
		slog.String("batch_id", result.Batch.ID.String()),
		slog.String("batch_number", result.Batch.BatchNumber),
		slog.Int("inputs", len(result.Inputs)))
	return result, nil
}

var quantityProblems = map[string]string{
	inventory.MsgInvalidQuantity: "must be greater than zero",
	inventory.MsgQuantityScale:   "must have at most 4 decimal places",
	inventory.MsgQuantityTooBig:  "exceeds the storable maximum",
}

func validateBatch(req BatchRequest, lines []inventory.Consumption) error {
	if strings.TrimSpace(req.BatchNumber) == "" {
		return shared.NewValidationError("batch_number", "is required")
	}
	if req.OutputLitres.IsNegative() {
		return shared.NewValidationError("output_litres", "must not be negative")
	}
	if !req.OutputLitres.IsZero() && inventory.CheckQuantity(req.OutputLitres) != "" {
		return shared.NewValidationError("output_litres", "must have at most 4 decimal places and fit the storable range")
	}
	if len(lines) == 0 {
		return shared.NewValidationError("inventory_decrements", "must contain at least one line")
	}
	for i, line := range lines {
		if line.MaterialIntakeID == uuid.Nil {
			return shared.NewValidationError(fmt.Sprintf("inventory_decrements[%d].material_intake_id", i), "is required")
		}
		if msg := inventory.CheckQuantity(line.QuantityUsed); msg != "" {
			return shared.NewValidationError(fmt.Sprintf("inventory_decrements[%d].quantity_used", i), quantityProblems[msg])
		}
	}
	return nil
}

// ValidateProductionBatchInventory checks lines against committed stock without locking.
// The result is advisory; CreateProductionBatch re-checks under row locks.
func (s *Service) ValidateProductionBatchInventory(ctx context.Context, lines []inventory.Consumption) inventory.ValidationResult {
	return s.validator.Validate(ctx, lines)
}

// RecordPayment applies a payment to an invoice and projects the ledger credit.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	started := s.clock()
	now := started
	amount := shared.RoundMoney(in.Amount)

	if in.InvoiceID == uuid.Nil {
		return PaymentResult{}, s.finish(ctx, opRecordPayment, "invoice", "", started, shared.NewValidationError("invoice_id", "is required"))
	}
	if err := shared.CheckAmount("amount", amount); err != nil {
		return PaymentResult{}, s.finish(ctx, opRecordPayment, "invoice", in.InvoiceID.String(), started, err)
	}
	paymentDate := in.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}

	var result PaymentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, in.IdempotencyKey, opRecordPayment); err != nil {
				return err
			}
		}
		invoice, err := tx.GetInvoiceForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if outstanding := invoice.Outstanding(); amount.GreaterThan(outstanding) {
			return shared.NewValidationError("amount", fmt.Sprintf("exceeds outstanding balance %s", outstanding.StringFixed(shared.MoneyPlaces)))
		}
		payment := sales.Payment{
			ID:          uuid.New(),
			InvoiceID:   invoice.ID,
			CustomerID:  invoice.CustomerID,
			Amount:      amount,
			PaymentDate: sales.DateOnly(paymentDate),
			Method:      strings.TrimSpace(in.Method),
			CreatedAt:   now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		invoice.PaidAmount = invoice.PaidAmount.Add(amount)
		invoice.Status = sales.PaymentStatus(invoice.TotalAmount, invoice.PaidAmount)
		if err := tx.UpdateInvoicePaid(ctx, invoice.ID, invoice.PaidAmount, invoice.Status); err != nil {
			return err
		}
		if _, err := s.projector.ProjectPayment(ctx, tx, payment); err != nil {
			return err
		}
		if err := tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   AuditActionPaymentRecorded,
			Entity:   "invoice",
			EntityID: invoice.ID.String(),
			Meta: map[string]any{
				"payment_id": payment.ID.String(),
				"amount":     amount.StringFixed(shared.MoneyPlaces),
				"status":     string(invoice.Status),
			},
			At: now,
		}); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
		result = PaymentResult{Payment: payment, Invoice: invoice}
		return nil
	})
	if err := s.finish(ctx, opRecordPayment, "invoice", in.InvoiceID.String(), started, err); err != nil {
		return PaymentResult{}, err
	}
	return result, nil
}

// CreateCreditNote raises a pending credit note. It has no ledger effect until approved.
func (s *Service) CreateCreditNote(ctx context.Context, in CreditNoteInput) (sales.CreditNote, error) {
	started := s.clock()
	now := started
	amount := shared.RoundMoney(in.Amount)

	if in.InvoiceID == uuid.Nil {
		return sales.CreditNote{}, s.finish(ctx, opCreateCreditNote, "invoice", "", started, shared.NewValidationError("invoice_id", "is required"))
	}
	if err := shared.CheckAmount("amount", amount); err != nil {
		return sales.CreditNote{}, s.finish(ctx, opCreateCreditNote, "invoice", in.InvoiceID.String(), started, err)
	}

	var cn sales.CreditNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		invoice, err := tx.GetInvoiceForUpdate(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(invoice.TotalAmount) {
			return shared.NewValidationError("amount", "exceeds invoice total")
		}
		cn = sales.CreditNote{
			ID:               uuid.New(),
			InvoiceID:        invoice.ID,
			CustomerID:       invoice.CustomerID,
			CreditNoteNumber: sales.GenerateCreditNoteNumber(now),
			Amount:           amount,
			Reason:           strings.TrimSpace(in.Reason),
			Status:           sales.CreditNoteStatusPending,
			CreatedAt:        now,
		}
		if err := tx.InsertCreditNote(ctx, cn); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   AuditActionCreditNoteCreated,
			Entity:   "credit_note",
			EntityID: cn.ID.String(),
			Meta:     map[string]any{"invoice_id": invoice.ID.String(), "amount": amount.StringFixed(shared.MoneyPlaces)},
			At:       now,
		})
	})
	if err := s.finish(ctx, opCreateCreditNote, "invoice", in.InvoiceID.String(), started, err); err != nil {
		return sales.CreditNote{}, err
	}
	return cn, nil
}

// ApproveCreditNote approves a pending credit note and projects its ledger credit in the
// same transaction.
func (s *Service) ApproveCreditNote(ctx context.Context, id uuid.UUID) (sales.CreditNote, error) {
	started := s.clock()
	now := started

	var cn sales.CreditNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		cn, err = tx.GetCreditNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cn.Status == sales.CreditNoteStatusApproved {
			return shared.NewValidationError("status", "credit note already approved")
		}
		if err := tx.ApproveCreditNote(ctx, id, now); err != nil {
			return err
		}
		cn.Status = sales.CreditNoteStatusApproved
		cn.ApprovedAt = &now
		if _, err := s.projector.ProjectCreditNote(ctx, tx, cn); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   AuditActionCreditNoteApproved,
			Entity:   "credit_note",
			EntityID: cn.ID.String(),
			Meta:     map[string]any{"invoice_id": cn.InvoiceID.String(), "amount": cn.Amount.StringFixed(shared.MoneyPlaces)},
			At:       now,
		})
	})
	if err := s.finish(ctx, opApproveCreditNote, "credit_note", id.String(), started, err); err != nil {
		return sales.CreditNote{}, err
	}
	return cn, nil
}

// finish classifies err, records the outcome and reports rejected input to the audit
// sink. Failures other than domain errors become TransactionAbortError.
func (s *Service) finish(ctx context.Context, op, entity, entityID string, started time.Time, err error) error {
	err = shared.AbortOnStorageError(op, err)
	outcome := outcomeOf(err)
	if s.observer != nil {
		s.observer.ObserveCompositeWrite(op, outcome, s.clock().Sub(started))
	}
	if err == nil {
		return nil
	}

	switch outcome {
	case "aborted":
		s.logger.Error("composite write aborted", slog.String("op", op), slog.Any("error", err))
	case "validation", "insufficient_inventory":
		s.logger.Warn("composite write rejected", slog.String("op", op), slog.String("reason", outcome), slog.Any("error", err))
		s.reportRejection(ctx, op, entity, entityID, err)
	default:
		s.logger.Info("composite write rejected", slog.String("op", op), slog.String("reason", outcome), slog.Any("error", err))
	}
	return err
}

func (s *Service) reportRejection(ctx context.Context, op, entity, entityID string, err error) {
	if entityID == "" {
		entityID = "-"
	}
	meta := map[string]any{"op": op, "error": err.Error()}
	var insufficient *shared.InsufficientInventoryError
	if errors.As(err, &insufficient) {
		meta["line"] = insufficient.Line
		meta["material_intake_id"] = insufficient.MaterialIntakeID.String()
		meta["requested_quantity"] = insufficient.Requested.String()
		meta["available_quantity"] = insufficient.Available.String()
	}
	var validation *shared.ValidationError
	if errors.As(err, &validation) {
		meta["field"] = validation.Field
	}
	_ = s.repo.Record(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   shared.AuditActionValidationFailed,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.clock(),
	})
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrValidation):
		return "validation"
	case errors.Is(err, shared.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, shared.ErrConstraintViolation):
		return "constraint_violation"
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	default:
		return "aborted"
	}
}
