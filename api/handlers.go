/*
handlers.go - HTTP API handlers for the banking engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the Bank service.

ENDPOINTS:
  POST /api/accounts                          Create account
  GET  /api/accounts/{id}                     Account registry row
  GET  /api/accounts/{id}/balance?at=&now=    Point-in-time balance
  POST /api/accounts/{id}/deposits            Deposit
  POST /api/accounts/{id}/payments            Payment with cashback schedule
  GET  /api/accounts/{id}/payments/{ref}?timestamp=  Payment status
  POST /api/transfers                         Two-account transfer
  POST /api/merges                            Account merge
  GET  /api/top-spenders?timestamp=&limit=    Outgoing-volume ranking

ERROR HANDLING:
  Errors are returned as JSON with the status mapping:
  - 400: Validation errors, invalid input
  - 404: Account or payment reference not found
  - 409: Duplicate account creation, rejected merge
  - 422: Insufficient funds
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/meridianpay/ledger-engine/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Bank     *ledger.Bank
	validate *validator.Validate
}

// NewHandler creates a new handler around the given bank.
func NewHandler(bank *ledger.Bank) *Handler {
	return &Handler{
		Bank:     bank,
		validate: validator.New(),
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount registers a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.Bank.CreateAccount(r.Context(), req.Timestamp, ledger.AccountID(req.ID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !created {
		writeError(w, http.StatusConflict, fmt.Sprintf("account %q already exists", req.ID), nil)
		return
	}
	writeJSON(w, http.StatusCreated, AccountDTO{ID: req.ID, CreatedAt: req.Timestamp, Active: true})
}

// GetAccount returns the registry row for an account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	account, err := h.Bank.Account(r.Context(), ledger.AccountID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if account == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("account %q not found", id), nil)
		return
	}
	writeJSON(w, http.StatusOK, AccountDTO{
		ID:         string(account.ID),
		CreatedAt:  account.CreatedAt,
		Active:     account.Active,
		MergedInto: string(account.MergedInto),
		Balance:    account.Balance,
	})
}

// GetBalance reconstructs an account's balance as of the "at" query
// parameter. Returns 404 when the question has no answer (account not yet
// created at that time, or its identity closed by a merge).
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	at, ok := h.queryMillis(w, r, "at")
	if !ok {
		return
	}
	now, ok := h.optionalMillis(w, r, "now", at)
	if !ok {
		return
	}

	balance, err := h.Bank.GetBalance(r.Context(), now, ledger.AccountID(id), at)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if balance == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no balance for account %q at %d", id, at), nil)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{AccountID: id, Balance: *balance})
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// Deposit credits an account and reports the balance including pending
// cashback.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.Bank.Deposit(r.Context(), req.Timestamp, ledger.AccountID(id), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{AccountID: id, Balance: balance})
}

// Transfer atomically moves funds between two accounts.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.Bank.Transfer(r.Context(), req.Timestamp,
		ledger.AccountID(req.SourceID), ledger.AccountID(req.TargetID), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{AccountID: req.SourceID, Balance: balance})
}

// Pay debits an account and allocates a payment reference.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req PayRequest
	if !h.decode(w, r, &req) {
		return
	}

	ref, err := h.Bank.Pay(r.Context(), req.Timestamp, ledger.AccountID(id), req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, PaymentDTO{AccountID: id, PaymentRef: ref})
}

// GetPaymentStatus reports a payment's cashback status as of the
// "timestamp" query parameter.
func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ref := chi.URLParam(r, "ref")
	ts, ok := h.queryMillis(w, r, "timestamp")
	if !ok {
		return
	}

	status, err := h.Bank.GetPaymentStatus(r.Context(), ts, ledger.AccountID(id), ref)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentStatusDTO{AccountID: id, PaymentRef: ref, Status: string(status)})
}

// Merge folds one account's balance and history into another.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !h.decode(w, r, &req) {
		return
	}

	merged, err := h.Bank.MergeAccounts(r.Context(), req.Timestamp,
		ledger.AccountID(req.SurvivorID), ledger.AccountID(req.MergedID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !merged {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("cannot merge %q into %q", req.MergedID, req.SurvivorID), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"survivor_id": req.SurvivorID,
		"merged_id":   req.MergedID,
	})
}

// TopSpenders ranks active accounts by outgoing volume.
func (h *Handler) TopSpenders(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.queryMillis(w, r, "timestamp")
	if !ok {
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	ranks, err := h.Bank.TopSpenders(r.Context(), ts, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]SpenderDTO, len(ranks))
	for i, rank := range ranks {
		dtos[i] = SpenderDTO{AccountID: string(rank.AccountID), Outgoing: rank.Outgoing}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// decode parses and validates a JSON request body. Writes the error
// response itself and returns false when the request is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		details := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details[fe.Field()] = fmt.Sprintf("failed validation on %q", fe.Tag())
			}
		}
		writeError(w, http.StatusBadRequest, "validation failed", details)
		return false
	}
	return true
}

func (h *Handler) queryMillis(w http.ResponseWriter, r *http.Request, name string) (ledger.Millis, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing %q query parameter", name), nil)
		return 0, false
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%q must be an integer timestamp", name), nil)
		return 0, false
	}
	return ledger.Millis(parsed), true
}

func (h *Handler) optionalMillis(w http.ResponseWriter, r *http.Request, name string, fallback ledger.Millis) (ledger.Millis, bool) {
	if r.URL.Query().Get(name) == "" {
		return fallback, true
	}
	return h.queryMillis(w, r, name)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string, details map[string]string) {
	writeJSON(w, status, ErrorDTO{Error: message, Details: details})
}

// writeDomainError maps engine errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, ledger.ErrAccountExists):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, ledger.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
