package coordinator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/inventory"
)

// Date accepts either 2006-01-02 or RFC3339 in JSON bodies.
type Date struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", raw)
}

type orderPayload struct {
	CustomerID  string          `json:"customer_id" validate:"required,max=64"`
	OrderNumber string          `json:"order_number" validate:"omitempty,max=64"`
	OrderDate   Date            `json:"order_date"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Notes       string          `json:"notes" validate:"max=2000"`
}

type invoicePayload struct {
	IssueDate    Date `json:"issue_date"`
	PaymentTerms *int `json:"payment_terms" validate:"omitempty,gte=0,lte=3650"`
}

type createOrderRequest struct {
	Order   orderPayload    `json:"order"`
	Invoice *invoicePayload `json:"invoice"`
}

func (r createOrderRequest) toInputs(idempotencyKey string) (OrderInput, *InvoiceInput) {
	in := OrderInput{
		CustomerID:     r.Order.CustomerID,
		OrderNumber:    r.Order.OrderNumber,
		OrderDate:      r.Order.OrderDate.Time,
		TotalAmount:    r.Order.TotalAmount,
		Notes:          r.Order.Notes,
		IdempotencyKey: idempotencyKey,
	}
	if r.Invoice == nil {
		return in, nil
	}
	return in, &InvoiceInput{IssueDate: r.Invoice.IssueDate.Time, PaymentTerms: r.Invoice.PaymentTerms}
}

type consumptionPayload struct {
	MaterialIntakeID uuid.UUID       `json:"material_intake_id"`
	QuantityUsed     decimal.Decimal `json:"quantity_used"`
}

type batchPayload struct {
	BatchNumber    string          `json:"batch_number" validate:"required,max=64"`
	ProductionDate Date            `json:"production_date"`
	OutputLitres   decimal.Decimal `json:"output_litres"`
	Notes          string          `json:"notes" validate:"max=2000"`
}

type createBatchRequest struct {
	Batch               batchPayload         `json:"batch"`
	InventoryDecrements []consumptionPayload `json:"inventory_decrements" validate:"required,min=1"`
}

type validateBatchRequest struct {
	InventoryDecrements []consumptionPayload `json:"inventory_decrements" validate:"required,min=1"`
}

func toConsumptions(lines []consumptionPayload) []inventory.Consumption {
	out := make([]inventory.Consumption, 0, len(lines))
	for _, l := range lines {
		out = append(out, inventory.Consumption{MaterialIntakeID: l.MaterialIntakeID, QuantityUsed: l.QuantityUsed})
	}
	return out
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PaymentDate Date            `json:"payment_date"`
	Method      string          `json:"method" validate:"omitempty,max=32"`
}

type creditNoteRequest struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason" validate:"max=500"`
}
