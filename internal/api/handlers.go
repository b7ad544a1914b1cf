/**
 * @description
 * This file contains the HTTP handlers for the ledger service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application services, and writing the HTTP response. They act as
 * the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/app"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/store"
)

// LedgerHandlers holds the application services that handlers will use.
type LedgerHandlers struct {
	service *app.Service
	rates   *app.RateService
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service, rates *app.RateService) *LedgerHandlers {
	return &LedgerHandlers{service: service, rates: rates}
}

// fieldError pinpoints the request field a business validation rejected.
type fieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type validationErrorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields"`
}

func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *LedgerHandlers) writeFieldError(w http.ResponseWriter, field, code, message string) {
	h.writeJSON(w, http.StatusUnprocessableEntity, validationErrorResponse{
		Error:  message,
		Fields: []fieldError{{Field: field, Code: code, Message: message}},
	})
}

// handleServiceError maps business and storage errors onto the HTTP status
// contract. Anything unmapped is logged and surfaced as a 500.
func (h *LedgerHandlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrReservationNotFound),
		errors.Is(err, store.ErrTransactionNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "You do not have access to this resource")
	case errors.Is(err, store.ErrAccountExists), errors.Is(err, store.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many submissions. Please slow down.")
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeFieldError(w, "value", "insufficient_funds", "Insufficient funds in the funding account")
	case errors.Is(err, store.ErrLimitExceeded):
		h.writeFieldError(w, "value", "limit_exceeded", "This transaction would exceed your spending limit")
	case errors.Is(err, app.ErrFeeTooLow):
		h.writeFieldError(w, "fee", "fee_too_low", err.Error())
	case errors.Is(err, app.ErrRateExpired):
		h.writeFieldError(w, "exchange_id", "rate_expired", "The exchange rate reservation has expired")
	case errors.Is(err, app.ErrMissingExchange):
		h.writeFieldError(w, "exchange_id", "missing_exchange", "A cross-currency transaction requires an exchange reservation")
	case errors.Is(err, app.ErrInvalidCurrencyPair):
		h.writeFieldError(w, "to_currency", "invalid_currency_pair", err.Error())
	case errors.Is(err, app.ErrNotApproved):
		h.writeFieldError(w, "from", "not_approved", "The funding account is not approved for token withdrawals")
	case errors.Is(err, app.ErrSelfTransfer):
		h.writeFieldError(w, "to", "invalid_value", "Source and destination must differ")
	case errors.Is(err, store.ErrAccountInactive):
		h.writeFieldError(w, "from", "invalid_value", "The account has been deactivated")
	case errors.Is(err, app.ErrInvalidValue):
		h.writeFieldError(w, "value", "invalid_value", err.Error())
	case errors.Is(err, app.ErrUpstreamUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "A dependency is temporarily unavailable. Please retry.")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled service error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// subject pulls the authenticated subject or writes a 401.
func (h *LedgerHandlers) subject(w http.ResponseWriter, r *http.Request) (string, bool) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok || subject == "" {
		h.writeError(w, http.StatusUnauthorized, "Missing authentication subject")
		return "", false
	}
	return subject, true
}

func (h *LedgerHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+param+" in path")
		return uuid.Nil, false
	}
	return id, true
}

func pageParams(r *http.Request) (int, int) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return offset, limit
}

// ReserveRateHandler handles POST /rate.
func (h *LedgerHandlers) ReserveRateHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.subject(w, r); !ok {
		return
	}

	var req domain.RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reservation, err := h.rates.Reserve(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, "reserve_rate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, reservation)
}

// RefreshRateHandler handles POST /rate/refresh.
func (h *LedgerHandlers) RefreshRateHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.subject(w, r); !ok {
		return
	}

	var req domain.RateRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ExchangeID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "exchange_id is required")
		return
	}

	resp, err := h.rates.Refresh(r.Context(), req.ExchangeID)
	if err != nil {
		h.handleServiceError(w, "refresh_rate", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetMeHandler handles GET /users/me.
func (h *LedgerHandlers) GetMeHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	user, err := h.service.ResolveCaller(r.Context(), subject)
	if err != nil {
		h.handleServiceError(w, "get_me", err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// CreateAccountHandler handles POST /accounts.
func (h *LedgerHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}

	var req domain.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), subject, req)
	if err != nil {
		h.handleServiceError(w, "create_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// GetAccountHandler handles GET /accounts/{accountID}.
func (h *LedgerHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), subject, accountID)
	if err != nil {
		h.handleServiceError(w, "get_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// UpdateAccountHandler handles PUT /accounts/{accountID}.
func (h *LedgerHandlers) UpdateAccountHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}

	var req domain.UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.service.UpdateAccount(r.Context(), subject, accountID, req)
	if err != nil {
		h.handleServiceError(w, "update_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, account)
}

// DeleteAccountHandler handles DELETE /accounts/{accountID}. The account is
// deactivated; its ledger history is retained.
func (h *LedgerHandlers) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), subject, accountID); err != nil {
		h.handleServiceError(w, "delete_account", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ListUserAccountsHandler handles GET /users/{userID}/accounts.
func (h *LedgerHandlers) ListUserAccountsHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}

	offset, limit := pageParams(r)
	accounts, err := h.service.ListAccounts(r.Context(), subject, userID, offset, limit)
	if err != nil {
		h.handleServiceError(w, "list_accounts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, accounts)
}

// ListUserBalancesHandler handles GET /users/{userID}/balances.
func (h *LedgerHandlers) ListUserBalancesHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}

	balances, err := h.service.ListUserBalances(r.Context(), subject, userID)
	if err != nil {
		h.handleServiceError(w, "list_balances", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balances)
}

// GetAccountBalanceHandler handles GET /accounts/{accountID}/balances.
func (h *LedgerHandlers) GetAccountBalanceHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}

	balance, err := h.service.GetAccountBalance(r.Context(), subject, accountID)
	if err != nil {
		h.handleServiceError(w, "get_account_balance", err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// CreateTransactionHandler handles POST /transactions.
func (h *LedgerHandlers) CreateTransactionHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}

	var req domain.CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tx, err := h.service.CreateTransaction(r.Context(), subject, req)
	if err != nil {
		h.handleServiceError(w, "create_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// GetTransactionHandler handles GET /transactions/{transactionID}.
func (h *LedgerHandlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	gid, ok := h.pathUUID(w, r, "transactionID")
	if !ok {
		return
	}

	tx, err := h.service.GetTransaction(r.Context(), subject, gid)
	if err != nil {
		h.handleServiceError(w, "get_transaction", err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

// ListUserTransactionsHandler handles GET /users/{userID}/transactions.
func (h *LedgerHandlers) ListUserTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	userID, ok := h.pathUUID(w, r, "userID")
	if !ok {
		return
	}

	offset, limit := pageParams(r)
	txs, err := h.service.ListUserTransactions(r.Context(), subject, userID, offset, limit)
	if err != nil {
		h.handleServiceError(w, "list_user_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}

// ListAccountTransactionsHandler handles GET /accounts/{accountID}/transactions.
func (h *LedgerHandlers) ListAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}

	offset, limit := pageParams(r)
	txs, err := h.service.ListAccountTransactions(r.Context(), subject, accountID, offset, limit)
	if err != nil {
		h.handleServiceError(w, "list_account_transactions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, txs)
}
