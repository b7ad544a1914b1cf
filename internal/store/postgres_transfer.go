/**
 * @description
 * This file implements the atomic multi-leg transfer, the only code path that
 * mutates account balances. All ledger rows of a group, the balance updates
 * they imply, and the rolling-window spending-limit check commit in a single
 * serializable database transaction with the touched accounts row-locked, so
 * concurrent transfers against the same account serialize instead of
 * double-spending.
 *
 * @notes
 * - Accounts are locked in primary-key order to keep lock acquisition
 *   deterministic across concurrent transfers.
 * - Serialization and deadlock failures (SQLSTATE 40001/40P01) are retried a
 *   bounded number of times before surfacing ErrConflict.
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
	"github.com/wavepay/ledger-service/internal/domain"
)

const transferMaxAttempts = 3

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// PerformTransfer applies every ledger entry of one transaction group
// atomically: either all legs commit (entries inserted, balances moved,
// limit respected) or none do.
func (r *PostgresRepository) PerformTransfer(ctx context.Context, params TransferParams) ([]domain.LedgerEntry, error) {
	if len(params.Entries) == 0 {
		return nil, errors.New("transfer requires at least one ledger entry")
	}

	seen := make(map[uuid.UUID]bool)
	accountIDs := make([]uuid.UUID, 0, len(params.Entries)*2)
	for _, e := range params.Entries {
		if e.DrAccountID == e.CrAccountID {
			return nil, fmt.Errorf("entry %s debits and credits the same account", e.ID)
		}
		for _, id := range []uuid.UUID{e.DrAccountID, e.CrAccountID} {
			if !seen[id] {
				seen[id] = true
				accountIDs = append(accountIDs, id)
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= transferMaxAttempts; attempt++ {
		entries, err := r.performTransferOnce(ctx, params, accountIDs)
		if err == nil {
			return entries, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (r *PostgresRepository) performTransferOnce(ctx context.Context, params TransferParams, accountIDs []uuid.UUID) ([]domain.LedgerEntry, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	balances, err := lockAccounts(ctx, tx, accountIDs)
	if err != nil {
		return nil, err
	}

	if params.Limit != nil {
		if err := checkSpendingLimit(ctx, tx, params.Limit); err != nil {
			return nil, err
		}
	}

	// Apply every leg's delta in memory before touching rows; a debit that
	// would go below zero rejects the whole group.
	for _, e := range params.Entries {
		debited, err := balances[e.DrAccountID].Sub(e.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: account %s", ErrInsufficientFunds, e.DrAccountID)
		}
		balances[e.DrAccountID] = debited

		credited, err := balances[e.CrAccountID].Add(e.Value)
		if err != nil {
			return nil, err
		}
		balances[e.CrAccountID] = credited
	}

	insertQuery := `
		INSERT INTO transactions (id, gid, user_id, dr_account_id, cr_account_id, currency, value, fee, status, kind, group_kind, withdrawal_address, settlement_attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, NOW(), NOW())
		RETURNING ` + entryColumns
	inserted := make([]domain.LedgerEntry, 0, len(params.Entries))
	for _, e := range params.Entries {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		stored, err := scanEntry(tx.QueryRow(ctx, insertQuery,
			e.ID, e.GID, e.UserID, e.DrAccountID, e.CrAccountID, e.Currency, e.Value, e.Fee,
			e.Status, e.Kind, e.GroupKind, e.WithdrawalAddress))
		if err != nil {
			return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
		}
		inserted = append(inserted, *stored)
	}

	for id, balance := range balances {
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2, updated_at = NOW() WHERE id = $1`, id, balance); err != nil {
			return nil, fmt.Errorf("failed to update balance for account %s: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return inserted, nil
}

func lockAccounts(ctx context.Context, tx pgx.Tx, accountIDs []uuid.UUID) (map[uuid.UUID]domain.Amount, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, balance, active FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, accountIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make(map[uuid.UUID]domain.Amount, len(accountIDs))
	for rows.Next() {
		var (
			id      uuid.UUID
			balance domain.Amount
			active  bool
		)
		if err := rows.Scan(&id, &balance, &active); err != nil {
			return nil, err
		}
		if !active {
			return nil, fmt.Errorf("%w: account %s", ErrAccountInactive, id)
		}
		balances[id] = balance
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range accountIDs {
		if _, ok := balances[id]; !ok {
			return nil, fmt.Errorf("%w: account %s", ErrAccountNotFound, id)
		}
	}
	return balances, nil
}

func checkSpendingLimit(ctx context.Context, tx pgx.Tx, limit *LimitCheck) error {
	var spent domain.Amount
	since := time.Now().Add(-limit.Period)
	// Fee rows are excluded: the ceiling governs what the user sends, not
	// what the service collects.
	query := `
		SELECT COALESCE(SUM(value), 0)::text
		FROM transactions
		WHERE user_id = $1 AND currency = $2 AND kind <> $3 AND created_at >= $4`
	if err := tx.QueryRow(ctx, query, limit.UserID, limit.Currency, domain.KindFee, since).Scan(&spent); err != nil {
		return fmt.Errorf("failed to compute spent volume: %w", err)
	}
	total, err := spent.Add(limit.Candidate)
	if err != nil {
		return err
	}
	if total.Cmp(limit.Ceiling) > 0 {
		return fmt.Errorf("%w: %s %s in window", ErrLimitExceeded, total.String(), limit.Currency)
	}
	return nil
}
