/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for users, accounts, exchange-rate reservations and the transaction ledger.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wavepay/ledger-service/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists for currency")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrReservationNotFound = errors.New("exchange rate reservation not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLimitExceeded       = errors.New("spending limit exceeded")
	ErrConflict            = errors.New("transaction conflict, retries exhausted")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// FindUserBySubject resolves a user from the stable identity carried in the
// JWT `sub` claim.
func (r *PostgresRepository) FindUserBySubject(ctx context.Context, subject string) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, external_subject, name, created_at FROM users WHERE external_subject = $1`
	err := r.db.QueryRow(ctx, query, subject).Scan(&user.ID, &user.ExternalSubject, &user.Name, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves a user from the database by their ID.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, external_subject, name, created_at FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.ExternalSubject, &user.Name, &user.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

const accountColumns = `id, user_id, currency, address, name, balance, token_withdrawal_approved, active, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Address, &a.Name, &a.Balance, &a.TokenWithdrawalApproved, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account. A user can hold at most one active
// account per currency; violating that returns ErrAccountExists.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (id, user_id, currency, address, name, balance, token_withdrawal_approved, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, TRUE, NOW(), NOW())
		RETURNING ` + accountColumns
	created, err := scanAccount(r.db.QueryRow(ctx, query,
		account.ID, account.UserID, account.Currency, account.Address, account.Name, account.TokenWithdrawalApproved))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

// FindAccountByID retrieves one account, active or not.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	account, err := scanAccount(r.db.QueryRow(ctx, query, accountID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// FindAccountByAddress resolves an active account hosting the given
// blockchain address, used to detect withdrawals that are really internal.
func (r *PostgresRepository) FindAccountByAddress(ctx context.Context, address string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1 AND active = TRUE`
	account, err := scanAccount(r.db.QueryRow(ctx, query, address))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// ListAccountsByUser pages through a user's active accounts, oldest first.
func (r *PostgresRepository) ListAccountsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]domain.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE user_id = $1 AND active = TRUE
		ORDER BY created_at ASC
		OFFSET $2 LIMIT $3`
	rows, err := r.db.Query(ctx, query, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

// UpdateAccountName renames an active account.
func (r *PostgresRepository) UpdateAccountName(ctx context.Context, accountID uuid.UUID, name string) (*domain.Account, error) {
	query := `
		UPDATE accounts SET name = $2, updated_at = NOW()
		WHERE id = $1 AND active = TRUE
		RETURNING ` + accountColumns
	account, err := scanAccount(r.db.QueryRow(ctx, query, accountID, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// DeactivateAccount soft-deletes an account; balance and ledger history are kept.
func (r *PostgresRepository) DeactivateAccount(ctx context.Context, accountID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET active = FALSE, updated_at = NOW() WHERE id = $1 AND active = TRUE`, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListBalancesByUser returns the balance of every active account the user holds.
func (r *PostgresRepository) ListBalancesByUser(ctx context.Context, userID uuid.UUID) ([]domain.AccountBalance, error) {
	query := `
		SELECT id, currency, balance
		FROM accounts
		WHERE user_id = $1 AND active = TRUE
		ORDER BY currency ASC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make([]domain.AccountBalance, 0)
	for rows.Next() {
		var b domain.AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Currency, &b.Balance); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

const reservationColumns = `id, from_currency, to_currency, amount, amount_currency, rate, expiration, created_at, updated_at`

func scanReservation(row pgx.Row) (*domain.ExchangeRateReservation, error) {
	var res domain.ExchangeRateReservation
	err := row.Scan(&res.ID, &res.From, &res.To, &res.Amount, &res.AmountCurrency, &res.Rate, &res.Expiration, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// InsertReservation stores a new rate reservation. The id is the caller's
// idempotency key: when it already exists the stored row wins and is
// returned with created=false.
func (r *PostgresRepository) InsertReservation(ctx context.Context, res *domain.ExchangeRateReservation) (*domain.ExchangeRateReservation, bool, error) {
	query := `
		INSERT INTO exchange_rates (id, from_currency, to_currency, amount, amount_currency, rate, expiration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
		RETURNING ` + reservationColumns
	stored, err := scanReservation(r.db.QueryRow(ctx, query,
		res.ID, res.From, res.To, res.Amount, res.AmountCurrency, res.Rate, res.Expiration))
	if err == nil {
		return stored, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("failed to insert reservation: %w", err)
	}
	existing, err := r.FindReservationByID(ctx, res.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindReservationByID retrieves a reservation by its id.
func (r *PostgresRepository) FindReservationByID(ctx context.Context, id uuid.UUID) (*domain.ExchangeRateReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM exchange_rates WHERE id = $1`
	res, err := scanReservation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}
	return res, nil
}

// ExtendReservation pushes the expiration forward with an optimistic guard on
// updated_at. A false return means another refresh landed first; callers
// re-read and re-evaluate.
func (r *PostgresRepository) ExtendReservation(ctx context.Context, id uuid.UUID, expiration time.Time, expectedUpdatedAt time.Time) (bool, error) {
	query := `
		UPDATE exchange_rates
		SET expiration = $2, updated_at = NOW()
		WHERE id = $1 AND updated_at = $3`
	tag, err := r.db.Exec(ctx, query, id, expiration, expectedUpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const entryColumns = `id, gid, user_id, dr_account_id, cr_account_id, currency, value, fee, status, kind, group_kind, blockchain_tx_id, withdrawal_address, settlement_attempts, settled_at, created_at, updated_at`

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	err := row.Scan(&e.ID, &e.GID, &e.UserID, &e.DrAccountID, &e.CrAccountID, &e.Currency, &e.Value, &e.Fee,
		&e.Status, &e.Kind, &e.GroupKind, &e.BlockchainTxID, &e.WithdrawalAddress, &e.SettlementAttempts,
		&e.SettledAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresRepository) queryEntries(ctx context.Context, query string, args ...any) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// FindEntriesByGID returns every ledger row of one transaction group.
func (r *PostgresRepository) FindEntriesByGID(ctx context.Context, gid uuid.UUID) ([]domain.LedgerEntry, error) {
	entries, err := r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM transactions WHERE gid = $1 ORDER BY created_at ASC, id ASC`, gid)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrTransactionNotFound
	}
	return entries, nil
}

// ListGroupIDsByUser pages through the user's transaction groups, newest first.
func (r *PostgresRepository) ListGroupIDsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT gid FROM transactions
		WHERE user_id = $1
		GROUP BY gid
		ORDER BY MIN(created_at) DESC
		OFFSET $2 LIMIT $3`
	return r.queryGroupIDs(ctx, query, userID, offset, limit)
}

// ListGroupIDsByAccount pages through groups touching the account on either
// side, newest first.
func (r *PostgresRepository) ListGroupIDsByAccount(ctx context.Context, accountID uuid.UUID, offset, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT gid FROM transactions
		WHERE dr_account_id = $1 OR cr_account_id = $1
		GROUP BY gid
		ORDER BY MIN(created_at) DESC
		OFFSET $2 LIMIT $3`
	return r.queryGroupIDs(ctx, query, accountID, offset, limit)
}

func (r *PostgresRepository) queryGroupIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	gids := make([]uuid.UUID, 0)
	for rows.Next() {
		var gid uuid.UUID
		if err := rows.Scan(&gid); err != nil {
			return nil, err
		}
		gids = append(gids, gid)
	}
	return gids, rows.Err()
}

// FindEntriesByGIDs loads the rows of several groups in one round trip.
func (r *PostgresRepository) FindEntriesByGIDs(ctx context.Context, gids []uuid.UUID) ([]domain.LedgerEntry, error) {
	if len(gids) == 0 {
		return []domain.LedgerEntry{}, nil
	}
	return r.queryEntries(ctx,
		`SELECT `+entryColumns+` FROM transactions WHERE gid = ANY($1) ORDER BY created_at ASC, id ASC`, gids)
}

// FindPendingWithdrawalEntries returns a group's withdrawal legs still
// awaiting settlement.
func (r *PostgresRepository) FindPendingWithdrawalEntries(ctx context.Context, gid uuid.UUID) ([]domain.LedgerEntry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+`
		FROM transactions
		WHERE gid = $1 AND kind = $2 AND status = $3
		ORDER BY created_at ASC, id ASC`,
		gid, domain.KindWithdrawal, domain.StatusPending)
}

// MarkEntrySettled records the chain hash and flips the entry to done. The
// status guard makes redeliveries harmless.
func (r *PostgresRepository) MarkEntrySettled(ctx context.Context, entryID uuid.UUID, blockchainTxID string) error {
	query := `
		UPDATE transactions
		SET status = $2, blockchain_tx_id = $3, settled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $4`
	tag, err := r.db.Exec(ctx, query, entryID, domain.StatusDone, blockchainTxID, domain.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// IncrementSettlementAttempts bumps the attempt counter and returns the new value.
func (r *PostgresRepository) IncrementSettlementAttempts(ctx context.Context, entryID uuid.UUID) (int, error) {
	var attempts int
	query := `
		UPDATE transactions
		SET settlement_attempts = settlement_attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING settlement_attempts`
	if err := r.db.QueryRow(ctx, query, entryID).Scan(&attempts); err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrTransactionNotFound
		}
		return 0, err
	}
	return attempts, nil
}
