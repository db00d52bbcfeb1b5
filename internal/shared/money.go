package shared

import "github.com/shopspring/decimal"

// MoneyPlaces is the scale of every persisted monetary amount.
const MoneyPlaces = 2

// maxMoney is the exclusive upper bound of a NUMERIC(14,2) column.
var maxMoney = decimal.New(1, 12)

// RoundMoney rounds half-even to two decimal places.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyPlaces)
}

// CheckAmount validates a rounded monetary input: it must be positive and storable.
func CheckAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return NewValidationError(field, "must be greater than zero")
	}
	if d.GreaterThanOrEqual(maxMoney) {
		return NewValidationError(field, "exceeds the maximum amount 999999999999.99")
	}
	return nil
}
