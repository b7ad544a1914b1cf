/**
 * @description
 * This file implements the spending-limit policy: per-currency ceilings on a
 * user's outbound volume over a rolling window. The policy only builds the
 * check; enforcement happens inside the store's atomic transfer so the
 * window sum, the balance check and the ledger insert commit together.
 */

package app

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/internal/store"
)

// LimitPolicy holds the rolling-window ceilings. Counters are never stored;
// the window sum is derived from the ledger on every check.
type LimitPolicy struct {
	period   time.Duration
	ceilings map[domain.Currency]domain.Amount
}

// NewLimitPolicy creates a policy from parsed ceilings.
func NewLimitPolicy(period time.Duration, ceilings map[domain.Currency]domain.Amount) *LimitPolicy {
	return &LimitPolicy{period: period, ceilings: ceilings}
}

// NewLimitPolicyFromStrings parses smallest-unit ceiling strings, one per
// currency, as they arrive from configuration.
func NewLimitPolicyFromStrings(periodSecs int, btc, eth, stq string) (*LimitPolicy, error) {
	ceilings := make(map[domain.Currency]domain.Amount, 3)
	for currency, raw := range map[domain.Currency]string{
		domain.CurrencyBTC: btc,
		domain.CurrencyETH: eth,
		domain.CurrencySTQ: stq,
	} {
		ceiling, err := domain.ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s limit ceiling: %w", currency, err)
		}
		ceilings[currency] = ceiling
	}
	return &LimitPolicy{
		period:   time.Duration(periodSecs) * time.Second,
		ceilings: ceilings,
	}, nil
}

// CheckFor builds the limit check PerformTransfer evaluates inside the
// transfer's database transaction. A currency without a ceiling gets no check.
func (p *LimitPolicy) CheckFor(userID uuid.UUID, currency domain.Currency, candidate domain.Amount) *store.LimitCheck {
	if p == nil {
		return nil
	}
	ceiling, ok := p.ceilings[currency]
	if !ok {
		return nil
	}
	return &store.LimitCheck{
		UserID:    userID,
		Currency:  currency,
		Candidate: candidate,
		Ceiling:   ceiling,
		Period:    p.period,
	}
}
