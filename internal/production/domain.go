package production

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// BatchStatus enumerates production batch states.
type BatchStatus string

const (
	BatchStatusCompleted BatchStatus = "completed"
)

// Batch is one production run. A batch always has at least one input.
type Batch struct {
	ID             uuid.UUID       `json:"id"`
	BatchNumber    string          `json:"batch_number"`
	ProductionDate time.Time       `json:"production_date"`
	OutputLitres   decimal.Decimal `json:"output_litres"`
	TotalInputCost decimal.Decimal `json:"total_input_cost"`
	Status         BatchStatus     `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BatchInput records how much of one lot a batch consumed.
type BatchInput struct {
	ID               uuid.UUID       `json:"id"`
	BatchID          uuid.UUID       `json:"batch_id"`
	MaterialIntakeID uuid.UUID       `json:"material_intake_id"`
	QuantityUsed     decimal.Decimal `json:"quantity_used"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	LineCost         decimal.Decimal `json:"line_cost"`
}

// CostMismatch describes a batch whose stored total disagrees with its inputs.
type CostMismatch struct {
	BatchID     uuid.UUID
	BatchNumber string
	Stored      decimal.Decimal
	Computed    decimal.Decimal
}

// NewInput prices one consumption line at the lot's unit cost.
func NewInput(batchID, lotID uuid.UUID, qty, unitCost decimal.Decimal) BatchInput {
	return BatchInput{
		ID:               uuid.New(),
		BatchID:          batchID,
		MaterialIntakeID: lotID,
		QuantityUsed:     qty,
		UnitCost:         unitCost,
		LineCost:         qty.Mul(unitCost),
	}
}

// TotalInputCost sums the unrounded line costs and rounds the total half-even to cents.
func TotalInputCost(inputs []BatchInput) decimal.Decimal {
	total := decimal.Zero
	for _, in := range inputs {
		total = total.Add(in.QuantityUsed.Mul(in.UnitCost))
	}
	return shared.RoundMoney(total)
}
