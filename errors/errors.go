// Package errors defines the engine's user-facing error taxonomy.
//
// Every recoverable failure a caller can act on maps to one of the sentinel
// kinds below. Handlers translate kinds to HTTP status codes in one place;
// the engine itself never retries or swallows them.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidState signals an operation attempted outside its valid
	// lifecycle state (e.g. trading on a market in voting).
	ErrInvalidState = errors.New("invalid market state")

	// ErrInvalidAmount signals a non-positive stake or one outside the
	// room's configured bet limits.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidInput signals a malformed request value (e.g. a side that is
	// neither yes nor no) caught past the HTTP validator.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientBalance signals the participant cannot cover the stake.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrDuplicateVote signals a second ballot on the same market.
	ErrDuplicateVote = errors.New("already voted")

	// ErrForbidden signals a role-based denial (spectators, non-admins).
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyResolved signals re-resolution of a terminal market.
	ErrAlreadyResolved = errors.New("market already resolved")

	// ErrNotFound signals an unknown market, room, or participant.
	ErrNotFound = errors.New("not found")

	// ErrInternal signals a non-recoverable engine fault (e.g. pricing
	// convergence failure). Details are logged, not returned.
	ErrInternal = errors.New("internal engine error")
)

// Wrap attaches context to a sentinel kind so callers can still match it
// with errors.Is.
func Wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// HTTPStatus maps an engine error to the HTTP status code handlers return.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrDuplicateVote),
		errors.Is(err, ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInsufficientBalance):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Is re-exports errors.Is so engine packages need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }
