/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/domain"
)

// LimitCheck asks PerformTransfer to verify, inside the same database
// transaction that applies the transfer, that the user's outbound volume in
// the rolling window plus the candidate value stays within the ceiling.
type LimitCheck struct {
	UserID    uuid.UUID
	Currency  domain.Currency
	Candidate domain.Amount
	Ceiling   domain.Amount
	Period    time.Duration
}

// TransferParams describes one atomic multi-leg transfer: the ledger entries
// to insert and the optional spending-limit check. Balance updates are derived
// from the entries (each entry debits its dr account and credits its cr
// account by its value).
type TransferParams struct {
	Entries []domain.LedgerEntry
	Limit   *LimitCheck
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// User methods
	FindUserBySubject(ctx context.Context, subject string) (*domain.User, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByAddress(ctx context.Context, address string) (*domain.Account, error)
	ListAccountsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Account, error)
	UpdateAccountName(ctx context.Context, accountID uuid.UUID, name string) (*domain.Account, error)
	DeactivateAccount(ctx context.Context, accountID uuid.UUID) error
	ListBalancesByUser(ctx context.Context, userID uuid.UUID) ([]domain.AccountBalance, error)

	// Exchange-rate reservation methods.
	// InsertReservation is idempotent on id: re-inserting an existing id
	// returns the stored row and created=false.
	InsertReservation(ctx context.Context, res *domain.ExchangeRateReservation) (*domain.ExchangeRateReservation, bool, error)
	FindReservationByID(ctx context.Context, id uuid.UUID) (*domain.ExchangeRateReservation, error)
	// ExtendReservation bumps expiration only when updated_at still matches
	// expectedUpdatedAt; returns false when a concurrent writer won.
	ExtendReservation(ctx context.Context, id uuid.UUID, expiration time.Time, expectedUpdatedAt time.Time) (bool, error)

	// Ledger methods
	PerformTransfer(ctx context.Context, params TransferParams) ([]domain.LedgerEntry, error)
	FindEntriesByGID(ctx context.Context, gid uuid.UUID) ([]domain.LedgerEntry, error)
	ListGroupIDsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]uuid.UUID, error)
	ListGroupIDsByAccount(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]uuid.UUID, error)
	FindEntriesByGIDs(ctx context.Context, gids []uuid.UUID) ([]domain.LedgerEntry, error)

	// Settlement methods
	FindPendingWithdrawalEntries(ctx context.Context, gid uuid.UUID) ([]domain.LedgerEntry, error)
	MarkEntrySettled(ctx context.Context, entryID uuid.UUID, blockchainTxID string) error
	IncrementSettlementAttempts(ctx context.Context, entryID uuid.UUID) (int, error)
}
