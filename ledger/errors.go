/*
errors.go - Centralized error types for the banking engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (the API layer in particular) branch on these with errors.Is().

ERROR CATEGORIES:
  1. Not-found errors - Missing accounts or payment references
  2. Validation errors - Business rule violations (bad amounts, self-transfer)
  3. Funds errors - Operations exceeding the available balance
  4. Storage errors - Collaborator I/O failures, propagated unrecovered

USAGE:
  if errors.Is(err, ledger.ErrAccountNotFound) {
      // 404
  }

SEE ALSO:
  - bank.go: Produces these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountNotFound is returned when an operation references an account
	// that does not exist or is no longer active.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account whose id is
	// already taken.
	ErrAccountExists = errors.New("account already exists")

	// ErrPaymentNotFound is returned when a payment reference is not
	// attributed to the queried account.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInsufficientFunds is returned when a transfer or payment exceeds
	// the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidArgument is returned for malformed requests: non-positive
	// amounts, or a transfer between an account and itself.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSameAccount is returned when a transfer names the same account as
	// both source and target. Unwraps to ErrInvalidArgument.
	ErrSameAccount = fmt.Errorf("%w: source and target are the same account", ErrInvalidArgument)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available int64
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: available %d, requested %d",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// rather than a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccountExists) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidArgument)
}

// IsNotFound returns true if the error indicates a missing account or
// payment reference.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
