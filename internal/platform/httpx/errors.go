// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/gearledger/gearledger/internal/shared"
)

// Transport-level sentinel errors.
var (
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInvalidQuantity),
		errors.Is(err, shared.ErrInsufficientStock),
		errors.Is(err, shared.ErrExceedsRemaining),
		errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrDataIntegrity):
		Problem(w, http.StatusUnprocessableEntity, "Unprocessable", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrConcurrencyExhausted),
		errors.Is(err, shared.ErrVersionConflict),
		errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", shared.UserSafeMessage(err))
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
