package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot is one raw-material intake record (material_intake_logs).
type Lot struct {
	ID                uuid.UUID       `json:"id"`
	MaterialName      string          `json:"material_name"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// Consumption is one proposed draw-down of a lot.
type Consumption struct {
	MaterialIntakeID uuid.UUID       `json:"material_intake_id"`
	QuantityUsed     decimal.Decimal `json:"quantity_used"`
}

// Line error messages.
const (
	MsgInsufficient    = "Insufficient inventory"
	MsgLotNotFound     = "Lot not found"
	MsgInvalidQuantity = "Quantity must be greater than zero"
	MsgQuantityScale   = "Quantity must have at most 4 decimal places"
	MsgQuantityTooBig  = "Quantity exceeds the storable maximum"
	MsgLookupFailed    = "Lookup failed"
)

// QuantityPlaces is the scale of stored lot and input quantities (NUMERIC(18,4)).
const QuantityPlaces = 4

var maxQuantity = decimal.New(1, 14)

// CheckQuantity returns the line error message for a quantity that cannot be consumed
// exactly, or "" when it can.
func CheckQuantity(q decimal.Decimal) string {
	switch {
	case !q.IsPositive():
		return MsgInvalidQuantity
	case !q.Equal(q.Truncate(QuantityPlaces)):
		return MsgQuantityScale
	case q.GreaterThanOrEqual(maxQuantity):
		return MsgQuantityTooBig
	}
	return ""
}

// LineError describes why one consumption line cannot be satisfied.
type LineError struct {
	Line              int              `json:"line"`
	MaterialIntakeID  uuid.UUID        `json:"material_intake_id"`
	Error             string           `json:"error"`
	RequestedQuantity decimal.Decimal  `json:"requested_quantity"`
	AvailableQuantity *decimal.Decimal `json:"available_quantity,omitempty"`
}

// ValidationResult is the advisory outcome of a sufficiency check.
type ValidationResult struct {
	IsValid bool        `json:"is_valid"`
	Errors  []LineError `json:"errors"`
}

// LotReader fetches a lot without locking it.
type LotReader interface {
	GetLot(ctx context.Context, id uuid.UUID) (Lot, error)
}
