package ledger

import (
	"errors"
)

// Error classes. Every error the engine returns for a business or
// collaborator failure unwraps to exactly one of these.
var (
	// ErrNotFound: unknown user, or no position in the ticker. Not retriable.
	ErrNotFound = errors.New("ledger: not found")

	// ErrValidation: the request can never succeed as given. Not retriable.
	ErrValidation = errors.New("ledger: validation failed")

	// ErrOracle: a price or metadata lookup failed. The caller may re-quote
	// and retry; the engine never does.
	ErrOracle = errors.New("ledger: price oracle failure")

	// ErrPersistence: the store could not confirm a read or write.
	ErrPersistence = errors.New("ledger: persistence failure")
)

// classError is a specific ledger error that belongs to a class.
type classError struct {
	class error
	msg   string
}

func (e *classError) Error() string { return "ledger: " + e.msg }
func (e *classError) Unwrap() error { return e.class }

var (
	ErrUserNotFound     error = &classError{ErrNotFound, "user not found"}
	ErrPositionNotFound error = &classError{ErrNotFound, "position not found"}

	ErrAlreadyExists      error = &classError{ErrValidation, "profile already exists"}
	ErrInvalidUsername    error = &classError{ErrValidation, "invalid username"}
	ErrInvalidTicker      error = &classError{ErrValidation, "invalid ticker"}
	ErrInvalidShares      error = &classError{ErrValidation, "share count must be positive"}
	ErrInvalidPrice       error = &classError{ErrValidation, "price must be positive"}
	ErrInsufficientFunds  error = &classError{ErrValidation, "insufficient funds"}
	ErrInsufficientShares error = &classError{ErrValidation, "insufficient shares"}

	ErrPriceUnavailable error = &classError{ErrOracle, "price unavailable"}
)

// Class names the class of err for metrics and logs: "not_found",
// "validation", "oracle", "persistence" or "other".
func Class(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrOracle):
		return "oracle"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
