// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation *shared.ValidationError
		state      *shared.InvalidStateError
		conflict   *shared.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
			Field:  validation.Field,
		})
	case errors.As(err, &state):
		WriteProblem(w, ProblemDetail{
			Title:     "Invalid State",
			Status:    http.StatusConflict,
			Detail:    err.Error(),
			Current:   state.Current,
			Attempted: state.Attempted,
		})
	case errors.As(err, &conflict):
		WriteProblem(w, ProblemDetail{
			Title:      "Conflict",
			Status:     http.StatusConflict,
			Detail:     err.Error(),
			ConflictID: conflict.ID,
		})
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
