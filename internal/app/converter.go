/**
 * @description
 * This file folds the double-entry ledger rows of one transaction group into
 * the single TransactionOut view the API exposes: funding legs, destination,
 * both values, the fee, a folded status and any chain hashes collected
 * during settlement.
 */

package app

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/domain"
)

// addressResolver resolves an account id to its API-facing party info.
type addressResolver func(accountID uuid.UUID) domain.TransactionAddressInfo

// foldStatus reduces entry statuses to the group's: pending while any leg
// still is.
func foldStatus(entries []domain.LedgerEntry) string {
	for _, e := range entries {
		if e.Status == domain.StatusPending {
			return domain.StatusPending
		}
	}
	return domain.StatusDone
}

// buildTransactionOut assembles the API view of one group.
func buildTransactionOut(entries []domain.LedgerEntry, resolve addressResolver) (*domain.TransactionOut, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty transaction group")
	}

	var internalLeg, withdrawalLeg, multiFrom, multiTo *domain.LedgerEntry
	var fee domain.Amount
	hashes := make([]string, 0, 1)
	createdAt := entries[0].CreatedAt
	updatedAt := entries[0].UpdatedAt

	for i := range entries {
		e := &entries[i]
		if e.CreatedAt.Before(createdAt) {
			createdAt = e.CreatedAt
		}
		if e.UpdatedAt.After(updatedAt) {
			updatedAt = e.UpdatedAt
		}
		if e.BlockchainTxID != nil && *e.BlockchainTxID != "" {
			hashes = append(hashes, *e.BlockchainTxID)
		}
		switch e.Kind {
		case domain.KindInternal:
			internalLeg = e
		case domain.KindWithdrawal:
			withdrawalLeg = e
		case domain.KindMultiFrom:
			multiFrom = e
		case domain.KindMultiTo:
			multiTo = e
		case domain.KindFee:
			total, err := fee.Add(e.Value)
			if err != nil {
				return nil, err
			}
			fee = total
		}
	}

	out := &domain.TransactionOut{
		ID:              entries[0].GID,
		Fee:             fee,
		Status:          foldStatus(entries),
		BlockchainTxIDs: hashes,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}

	switch entries[0].GroupKind {
	case domain.GroupKindInternal:
		if internalLeg == nil {
			return nil, fmt.Errorf("internal group %s has no internal leg", out.ID)
		}
		out.From = []domain.TransactionAddressInfo{resolve(internalLeg.DrAccountID)}
		out.To = resolve(internalLeg.CrAccountID)
		out.FromValue, out.FromCurrency = internalLeg.Value, internalLeg.Currency
		out.ToValue, out.ToCurrency = internalLeg.Value, internalLeg.Currency
		if fee.IsZero() {
			out.Fee = internalLeg.Fee
		}
	case domain.GroupKindWithdrawal:
		if withdrawalLeg == nil {
			return nil, fmt.Errorf("withdrawal group %s has no withdrawal leg", out.ID)
		}
		out.From = []domain.TransactionAddressInfo{resolve(withdrawalLeg.DrAccountID)}
		out.To = domain.TransactionAddressInfo{Address: withdrawalLeg.WithdrawalAddress}
		out.FromValue, out.FromCurrency = withdrawalLeg.Value, withdrawalLeg.Currency
		out.ToValue, out.ToCurrency = withdrawalLeg.Value, withdrawalLeg.Currency
	case domain.GroupKindInternalMulti:
		if multiFrom == nil || multiTo == nil {
			return nil, fmt.Errorf("exchange group %s is missing a leg", out.ID)
		}
		out.From = []domain.TransactionAddressInfo{resolve(multiFrom.DrAccountID)}
		out.To = resolve(multiTo.CrAccountID)
		out.FromValue, out.FromCurrency = multiFrom.Value, multiFrom.Currency
		out.ToValue, out.ToCurrency = multiTo.Value, multiTo.Currency
	case domain.GroupKindWithdrawalMulti:
		if multiFrom == nil || withdrawalLeg == nil {
			return nil, fmt.Errorf("withdrawal-exchange group %s is missing a leg", out.ID)
		}
		out.From = []domain.TransactionAddressInfo{resolve(multiFrom.DrAccountID)}
		out.To = domain.TransactionAddressInfo{Address: withdrawalLeg.WithdrawalAddress}
		out.FromValue, out.FromCurrency = multiFrom.Value, multiFrom.Currency
		out.ToValue, out.ToCurrency = withdrawalLeg.Value, withdrawalLeg.Currency
	default:
		return nil, fmt.Errorf("unknown group kind %q in group %s", entries[0].GroupKind, out.ID)
	}

	return out, nil
}
