// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ops/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation   *shared.ValidationError
		insufficient *shared.InsufficientInventoryError
	)
	switch {
	case errors.As(err, &validation):
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: validation.Error(),
			Errors: map[string]string{validation.Field: validation.Message},
		})
	case errors.As(err, &insufficient):
		WriteProblem(w, ProblemDetail{
			Title:  "Insufficient Inventory",
			Status: http.StatusUnprocessableEntity,
			Detail: insufficient.Error(),
			Errors: []map[string]any{{
				"line":               insufficient.Line,
				"material_intake_id": insufficient.MaterialIntakeID,
				"requested_quantity": insufficient.Requested,
				"available_quantity": insufficient.Available,
			}},
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConstraintViolation):
		Problem(w, http.StatusConflict, "Constraint Violation", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrMaintenanceInProgress):
		Problem(w, http.StatusConflict, "Maintenance In Progress", "another repair run holds the maintenance lock")
	case errors.Is(err, shared.ErrTransactionAbort):
		Problem(w, http.StatusServiceUnavailable, "Transaction Aborted", "the operation was rolled back; it may be retried")
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
