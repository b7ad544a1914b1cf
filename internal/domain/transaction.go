/**
 * @description
 * This file defines the ledger's transaction model. Internally every money
 * movement is a set of double-entry ledger rows (LedgerEntry) sharing a group
 * id; the API exposes a folded per-group view (TransactionOut) assembled by
 * the converter in the app layer.
 *
 * @notes
 * - A group's status folds to pending while any member entry is pending.
 * - `gid` equals the transaction id the caller supplied on create, which is
 *   what all transaction endpoints address.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry statuses. There is no failed state: validation failures never
// write rows, and stuck settlements stay pending for operators.
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// Ledger entry kinds describing the role of a row within its group.
const (
	KindInternal   = "internal"   // account-to-account move inside the ledger
	KindWithdrawal = "withdrawal" // leg leaving the ledger to a blockchain address
	KindMultiFrom  = "multi_from" // source leg of a cross-currency exchange
	KindMultiTo    = "multi_to"   // destination leg of a cross-currency exchange
	KindFee        = "fee"        // fee credit to a fee-collection account
)

// Group kinds classifying the overall shape of a transaction group.
const (
	GroupKindInternal        = "internal"
	GroupKindWithdrawal      = "withdrawal"
	GroupKindInternalMulti   = "internal_multi"
	GroupKindWithdrawalMulti = "withdrawal_multi"
)

// Receiver types for the tagged destination of a create request.
const (
	ReceiverAccount = "account"
	ReceiverAddress = "address"
)

// LedgerEntry is one double-entry row in the `transactions` table: value
// moves from the debit account to the credit account.
type LedgerEntry struct {
	ID                 uuid.UUID  `json:"id"`
	GID                uuid.UUID  `json:"gid"`
	UserID             uuid.UUID  `json:"user_id"`
	DrAccountID        uuid.UUID  `json:"dr_account_id"`
	CrAccountID        uuid.UUID  `json:"cr_account_id"`
	Currency           Currency   `json:"currency"`
	Value              Amount     `json:"value"`
	Fee                Amount     `json:"fee"`
	Status             string     `json:"status"`
	Kind               string     `json:"kind"`
	GroupKind          string     `json:"group_kind"`
	BlockchainTxID     *string    `json:"blockchain_tx_id,omitempty"`
	WithdrawalAddress  *string    `json:"withdrawal_address,omitempty"`
	SettlementAttempts int        `json:"settlement_attempts"`
	SettledAt          *time.Time `json:"settled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CreateTransactionRequest is the DTO for POST /transactions. ID is
// caller-supplied and becomes the group id. To is either an account id or a
// blockchain address depending on ToType. ExchangeID references a held rate
// reservation and is required whenever ValueCurrency differs from ToCurrency.
type CreateTransactionRequest struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	From          uuid.UUID  `json:"from"`
	To            string     `json:"to"`
	ToType        string     `json:"to_type"`
	ToCurrency    Currency   `json:"to_currency"`
	Value         Amount     `json:"value"`
	ValueCurrency Currency   `json:"value_currency"`
	Fee           Amount     `json:"fee"`
	ExchangeID    *uuid.UUID `json:"exchange_id,omitempty"`
	// ExchangeRate optionally echoes the rate the client quoted its user; a
	// mismatch with the referenced reservation rejects the request.
	ExchangeRate *decimal.Decimal `json:"exchange_rate,omitempty"`
}

// TransactionAddressInfo identifies one side of a folded transaction.
// AccountID is set for ledger-internal parties; Address is always set when
// the party has a provisioned blockchain address.
type TransactionAddressInfo struct {
	AccountID *uuid.UUID `json:"account_id,omitempty"`
	OwnerName *string    `json:"owner_name,omitempty"`
	Address   *string    `json:"blockchain_address,omitempty"`
}

// TransactionOut is the API view of one transaction group: funding legs,
// destination, values on both sides, fee, folded status and any chain hashes
// collected during settlement.
type TransactionOut struct {
	ID              uuid.UUID                `json:"id"`
	From            []TransactionAddressInfo `json:"from"`
	To              TransactionAddressInfo   `json:"to"`
	FromValue       Amount                   `json:"from_value"`
	FromCurrency    Currency                 `json:"from_currency"`
	ToValue         Amount                   `json:"to_value"`
	ToCurrency      Currency                 `json:"to_currency"`
	Fee             Amount                   `json:"fee"`
	Status          string                   `json:"status"`
	BlockchainTxIDs []string                 `json:"blockchain_tx_ids"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// SettlementJob is the message payload published to RabbitMQ when a
// transaction group commits with pending withdrawal legs.
type SettlementJob struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}
