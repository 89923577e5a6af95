/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through the shared validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import "github.com/meridianpay/ledger-engine/ledger"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAccountRequest registers a new account.
type CreateAccountRequest struct {
	ID        string        `json:"id" validate:"required"`
	Timestamp ledger.Millis `json:"timestamp" validate:"gte=0"`
}

// DepositRequest credits an account.
type DepositRequest struct {
	Timestamp ledger.Millis `json:"timestamp" validate:"gte=0"`
	Amount    int64         `json:"amount" validate:"required,gt=0"`
}

// TransferRequest moves funds between two accounts.
type TransferRequest struct {
	Timestamp ledger.Millis `json:"timestamp" validate:"gte=0"`
	SourceID  string        `json:"source_id" validate:"required"`
	TargetID  string        `json:"target_id" validate:"required"`
	Amount    int64         `json:"amount" validate:"required,gt=0"`
}

// PayRequest debits an account with a cashback schedule.
type PayRequest struct {
	Timestamp ledger.Millis `json:"timestamp" validate:"gte=0"`
	Amount    int64         `json:"amount" validate:"required,gt=0"`
}

// MergeRequest folds one account into another.
type MergeRequest struct {
	Timestamp  ledger.Millis `json:"timestamp" validate:"gte=0"`
	SurvivorID string        `json:"survivor_id" validate:"required"`
	MergedID   string        `json:"merged_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID         string        `json:"id"`
	CreatedAt  ledger.Millis `json:"created_at"`
	Active     bool          `json:"active"`
	MergedInto string        `json:"merged_into,omitempty"`
	Balance    int64         `json:"balance"`
}

// BalanceDTO reports a balance, reconstructed or current.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

// PaymentDTO reports an allocated payment reference.
type PaymentDTO struct {
	AccountID  string `json:"account_id"`
	PaymentRef string `json:"payment_ref"`
}

// PaymentStatusDTO reports a payment's cashback status.
type PaymentStatusDTO struct {
	AccountID  string `json:"account_id"`
	PaymentRef string `json:"payment_ref"`
	Status     string `json:"status"`
}

// SpenderDTO is one row of a top-spenders ranking.
type SpenderDTO struct {
	AccountID string `json:"account_id"`
	Outgoing  int64  `json:"outgoing"`
}

// ErrorDTO carries an error message plus optional validation details.
type ErrorDTO struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}
