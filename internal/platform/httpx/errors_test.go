package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.NewValidationError("total_amount", "must be greater than zero"), http.StatusBadRequest},
		{"insufficient", &shared.InsufficientInventoryError{Line: 0, MaterialIntakeID: uuid.New(), Requested: decimal.NewFromInt(15), Available: decimal.NewFromInt(10)}, http.StatusUnprocessableEntity},
		{"not found", shared.NewNotFoundError("customer", "C9"), http.StatusNotFound},
		{"constraint", fmt.Errorf("create order: %w", &shared.ConstraintViolation{Constraint: "orders_order_number_key"}), http.StatusConflict},
		{"abort", &shared.TransactionAbortError{Op: "create order", Err: errors.New("conn reset")}, http.StatusServiceUnavailable},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var body ProblemDetail
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.status, body.Status)
		})
	}
}

func TestRespondErrorInsufficientCarriesQuantities(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.InsufficientInventoryError{Line: 1, MaterialIntakeID: uuid.New(), Requested: decimal.NewFromInt(15), Available: decimal.NewFromInt(10)})

	var body struct {
		Errors []map[string]any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	require.Equal(t, "15", body.Errors[0]["requested_quantity"])
	require.Equal(t, "10", body.Errors[0]["available_quantity"])
	require.EqualValues(t, 1, body.Errors[0]["line"])
}
