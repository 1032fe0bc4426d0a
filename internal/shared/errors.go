package shared

import (
	"errors"
	"fmt"
)

// Sentinel errors for the issuance engine. Services wrap these with
// quantity context via the helpers below; callers match with errors.Is.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidQuantity indicates a non-positive or otherwise unusable quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInsufficientStock indicates the computed available balance is too low.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrExceedsRemaining indicates a return or report exceeds the outstanding units.
	ErrExceedsRemaining = errors.New("exceeds remaining quantity")
	// ErrInvalidState indicates a transition not legal from the current status.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrVersionConflict is transient; the optimistic retry loop handles it.
	ErrVersionConflict = errors.New("version conflict")
	// ErrConcurrencyExhausted is surfaced after the retry budget is spent.
	ErrConcurrencyExhausted = errors.New("concurrent update retries exhausted")
	// ErrDataIntegrity indicates reconciliation input violates record invariants.
	ErrDataIntegrity = errors.New("data integrity violation")
)

// QuantityError wraps a sentinel with the figures involved so the caller can
// report "requested 5, only 3 available" style messages.
func QuantityError(sentinel error, requested, available int64) error {
	return fmt.Errorf("%w: requested %d, only %d available", sentinel, requested, available)
}

// StateError wraps ErrInvalidState with the offending transition.
func StateError(from, op string) error {
	return fmt.Errorf("%w: cannot %s from status %q", ErrInvalidState, op, from)
}

// IntegrityError wraps ErrDataIntegrity with detail about the bad record.
func IntegrityError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}

// UserSafeMessage returns a message safe to surface to API consumers.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrExceedsRemaining),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrConcurrencyExhausted),
		errors.Is(err, ErrIdempotencyConflict),
		errors.Is(err, ErrDataIntegrity):
		return err.Error()
	default:
		return "internal error"
	}
}
