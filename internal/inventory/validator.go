package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// Validator performs the read-only sufficiency pre-check. Its answer is advisory: a
// concurrent batch can consume the same lot between this check and a later write, so the
// authoritative check is the conditional decrement inside the batch transaction.
type Validator struct {
	lots LotReader
}

// NewValidator builds Validator.
func NewValidator(lots LotReader) *Validator {
	return &Validator{lots: lots}
}

// Validate checks every line against its lot's remaining quantity. Lines drawing on the
// same lot are accumulated, so two lines of 6 against a lot of 10 fail on the second.
// It never returns an error; lookup problems are reported per line.
func (v *Validator) Validate(ctx context.Context, lines []Consumption) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []LineError{}}
	requested := make(map[uuid.UUID]decimal.Decimal, len(lines))
	lots := make(map[uuid.UUID]Lot, len(lines))
	missing := make(map[uuid.UUID]error)

	for i, line := range lines {
		if msg := CheckQuantity(line.QuantityUsed); msg != "" {
			result.add(LineError{Line: i, MaterialIntakeID: line.MaterialIntakeID, Error: msg, RequestedQuantity: line.QuantityUsed})
			continue
		}
		lot, ok := lots[line.MaterialIntakeID]
		if !ok {
			if err, seen := missing[line.MaterialIntakeID]; seen {
				result.add(lookupError(i, line, err))
				continue
			}
			fetched, err := v.lots.GetLot(ctx, line.MaterialIntakeID)
			if err != nil {
				missing[line.MaterialIntakeID] = err
				result.add(lookupError(i, line, err))
				continue
			}
			lot = fetched
			lots[line.MaterialIntakeID] = lot
		}
		total := requested[line.MaterialIntakeID].Add(line.QuantityUsed)
		requested[line.MaterialIntakeID] = total
		if total.GreaterThan(lot.RemainingQuantity) {
			available := lot.RemainingQuantity
			result.add(LineError{
				Line:              i,
				MaterialIntakeID:  line.MaterialIntakeID,
				Error:             MsgInsufficient,
				RequestedQuantity: line.QuantityUsed,
				AvailableQuantity: &available,
			})
		}
	}
	return result
}

func (r *ValidationResult) add(e LineError) {
	r.IsValid = false
	r.Errors = append(r.Errors, e)
}

func lookupError(i int, line Consumption, err error) LineError {
	msg := MsgLookupFailed
	if errors.Is(err, shared.ErrNotFound) {
		msg = MsgLotNotFound
	}
	return LineError{Line: i, MaterialIntakeID: line.MaterialIntakeID, Error: msg, RequestedQuantity: line.QuantityUsed}
}
