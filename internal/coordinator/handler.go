package coordinator

import (
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ops/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ops/internal/rbac"
	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// IdempotencyHeader optionally carries a client generated request key.
const IdempotencyHeader = "Idempotency-Key"

// Handler exposes the composite writes over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{logger: logger, service: service, validator: v, rbac: rbac}
}

// MountRoutes registers the engine routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermOrderCreate))
		r.Post("/orders", h.createOrder)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPaymentCreate))
		r.Post("/invoices/{id}/payments", h.recordPayment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCreditNoteCreate))
		r.Post("/credit-notes", h.createCreditNote)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCreditNoteApprove))
		r.Post("/credit-notes/{id}/approve", h.approveCreditNote)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBatchCreate))
		r.Post("/production/batches", h.createBatch)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermBatchView, shared.PermBatchCreate))
		r.Post("/production/batches/validate", h.validateBatch)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, invoice := req.toInputs(strings.TrimSpace(r.Header.Get(IdempotencyHeader)))
	result, err := h.service.CreateOrderWithInvoice(r.Context(), order, invoice)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	batch := BatchRequest{
		BatchNumber:    req.Batch.BatchNumber,
		ProductionDate: req.Batch.ProductionDate.Time,
		OutputLitres:   req.Batch.OutputLitres,
		Notes:          req.Batch.Notes,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	}
	result, err := h.service.CreateProductionBatch(r.Context(), batch, toConsumptions(req.InventoryDecrements))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) validateBatch(w http.ResponseWriter, r *http.Request) {
	var req validateBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	result := h.service.ValidateProductionBatchInventory(r.Context(), toConsumptions(req.InventoryDecrements))
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := pathUUID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.RecordPayment(r.Context(), PaymentInput{
		InvoiceID:      invoiceID,
		Amount:         req.Amount,
		PaymentDate:    req.PaymentDate.Time,
		Method:         req.Method,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) createCreditNote(w http.ResponseWriter, r *http.Request) {
	var req creditNoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	cn, err := h.service.CreateCreditNote(r.Context(), CreditNoteInput{InvoiceID: req.InvoiceID, Amount: req.Amount, Reason: req.Reason})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cn)
}

func (h *Handler) approveCreditNote(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	cn, err := h.service.ApproveCreditNote(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cn)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", err.Error()))
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			httpx.RespondError(w, shared.NewValidationError(fieldPath(fe.Namespace()), "failed "+fe.Tag()+" check"))
			return false
		}
		h.logger.Error("validate request", slog.Any("error", err))
		httpx.RespondError(w, err)
		return false
	}
	return true
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
