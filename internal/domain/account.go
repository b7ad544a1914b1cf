/**
 * @description
 * This file defines the account and user domain models plus their API DTOs.
 * Each account holds a single currency; a user has at most one active account
 * per currency. The balance column is only ever mutated inside the store's
 * atomic transfer, so it always equals the sum of the account's ledger legs.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the service's view of an authenticated caller. The external
// subject is the stable identifier carried in the JWT `sub` claim.
type User struct {
	ID              uuid.UUID `json:"id"`
	ExternalSubject string    `json:"-"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
}

// Account represents a user's wallet in one currency. Address is the
// blockchain address provisioned for the account; system-owned accounts
// (liquidity, fees, transfer pools) share this shape.
type Account struct {
	ID                      uuid.UUID `json:"id"`
	UserID                  uuid.UUID `json:"user_id"`
	Currency                Currency  `json:"currency"`
	Address                 *string   `json:"address,omitempty"`
	Name                    string    `json:"name"`
	Balance                 Amount    `json:"balance"`
	TokenWithdrawalApproved bool      `json:"token_withdrawal_approved"`
	Active                  bool      `json:"-"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// CreateAccountRequest is the DTO for POST /accounts.
type CreateAccountRequest struct {
	ID       uuid.UUID `json:"id"`
	Currency Currency  `json:"currency"`
	Name     string    `json:"name"`
}

// UpdateAccountRequest is the DTO for PUT /accounts/{id}.
type UpdateAccountRequest struct {
	Name string `json:"name"`
}

// AccountBalance is the balance view returned by the balances endpoints.
type AccountBalance struct {
	AccountID uuid.UUID `json:"account_id"`
	Currency  Currency  `json:"currency"`
	Balance   Amount    `json:"balance"`
}

// SystemAccounts names the service-owned pool accounts the transaction
// processor moves value through: per-currency liquidity pools for
// exchanges, fee-collection accounts, and transfer accounts that stage
// outbound withdrawals.
type SystemAccounts struct {
	Liquidity map[Currency]uuid.UUID
	Fees      map[Currency]uuid.UUID
	Transfer  map[Currency]uuid.UUID
}
