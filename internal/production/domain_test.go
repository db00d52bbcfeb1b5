package production

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTotalInputCostRoundsHalfEven(t *testing.T) {
	batchID := uuid.New()
	inputs := []BatchInput{
		NewInput(batchID, uuid.New(), decimal.RequireFromString("1.5"), decimal.RequireFromString("0.01")),
		NewInput(batchID, uuid.New(), decimal.RequireFromString("0.5"), decimal.RequireFromString("0.01")),
	}
	// 0.015 + 0.005 = 0.020
	require.Equal(t, "0.02", TotalInputCost(inputs).StringFixed(2))

	single := []BatchInput{NewInput(batchID, uuid.New(), decimal.RequireFromString("1"), decimal.RequireFromString("0.125"))}
	require.Equal(t, "0.12", TotalInputCost(single).StringFixed(2))

	odd := []BatchInput{NewInput(batchID, uuid.New(), decimal.RequireFromString("1"), decimal.RequireFromString("0.135"))}
	require.Equal(t, "0.14", TotalInputCost(odd).StringFixed(2))
}

func TestTotalInputCostNoFloatDrift(t *testing.T) {
	batchID := uuid.New()
	var inputs []BatchInput
	for i := 0; i < 10; i++ {
		inputs = append(inputs, NewInput(batchID, uuid.New(), decimal.RequireFromString("0.1"), decimal.NewFromInt(1)))
	}
	require.True(t, TotalInputCost(inputs).Equal(decimal.NewFromInt(1)))
}
