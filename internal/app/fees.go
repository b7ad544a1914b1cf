/**
 * @description
 * This file implements the fee calculator. Declared fees on incoming
 * transactions are validated against a computed minimum, never substituted:
 * a fee below the floor rejects the transaction with ErrFeeTooLow.
 *
 * @notes
 * - Withdrawal floors derive from the settlement chain's cost model: fee
 *   price (satoshi/byte or wei/gas) times the expected transaction size or
 *   gas, times a configured upside. Token withdrawals (stq) burn eth gas, so
 *   their chain cost is quoted in eth and converted into the funding
 *   currency at the live rate.
 * - The live fee price is fetched with a short timeout and falls back to the
 *   configured static price, so fee validation keeps working through oracle
 *   outages.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wavepay/ledger-service/internal/domain"
	"github.com/wavepay/ledger-service/pkg/exchangeclient"
)

const feePriceTimeout = 3 * time.Second

// FeeOptions carries the cost-model knobs for fee floors.
type FeeOptions struct {
	BTCTransactionSize  int64
	ETHGasLimit         int64
	STQGasLimit         int64
	FeeUpside           float64
	StaticFeePrices     map[domain.Currency]decimal.Decimal
	InternalTransferFee domain.Amount
}

// FeeCalculator computes minimum fees for transactions.
type FeeCalculator struct {
	gateway ExchangeGateway
	opts    FeeOptions
}

// NewFeeCalculator creates a FeeCalculator.
func NewFeeCalculator(gateway ExchangeGateway, opts FeeOptions) *FeeCalculator {
	return &FeeCalculator{gateway: gateway, opts: opts}
}

// MinimumInternalFee is the floor for ledger-internal transfers.
func (f *FeeCalculator) MinimumInternalFee() domain.Amount {
	return f.opts.InternalTransferFee
}

// MinimumWithdrawalFee computes the floor for a withdrawal funded in the
// given currency, denominated in that currency's smallest unit.
func (f *FeeCalculator) MinimumWithdrawalFee(ctx context.Context, from domain.Currency) (domain.Amount, error) {
	chain := from.SettlementChain()

	var units int64
	switch from {
	case domain.CurrencyBTC:
		units = f.opts.BTCTransactionSize
	case domain.CurrencyETH:
		units = f.opts.ETHGasLimit
	case domain.CurrencySTQ:
		units = f.opts.STQGasLimit
	default:
		return domain.Amount{}, fmt.Errorf("no fee model for currency %s", from)
	}

	chainCost := f.feePrice(ctx, chain).
		Mul(decimal.NewFromInt(units)).
		Mul(decimal.NewFromFloat(f.opts.FeeUpside)).
		Ceil()

	if from == chain {
		return amountFromDecimal(chainCost)
	}

	// Token withdrawal: the gas cost is in the chain currency; price it in
	// the funding currency at the live rate.
	chainAmount, err := amountFromDecimal(chainCost)
	if err != nil {
		return domain.Amount{}, err
	}
	resp, err := f.gateway.GetRate(ctx, exchangeclient.RateRequest{
		ID:     uuid.New(),
		From:   chain.String(),
		To:     from.String(),
		Amount: chainAmount.String(),
	})
	if err != nil {
		if errors.Is(err, exchangeclient.ErrUnsupportedPair) {
			return domain.Amount{}, ErrInvalidCurrencyPair
		}
		return domain.Amount{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return amountFromDecimal(chainCost.Mul(resp.Rate).Ceil())
}

// ChainFeePrice returns the per-unit fee price a settlement on the given
// currency's chain should carry.
func (f *FeeCalculator) ChainFeePrice(ctx context.Context, currency domain.Currency) decimal.Decimal {
	return f.feePrice(ctx, currency.SettlementChain())
}

// feePrice returns the live per-unit price for the chain, falling back to
// the static configuration when the oracle is unreachable.
func (f *FeeCalculator) feePrice(ctx context.Context, chain domain.Currency) decimal.Decimal {
	static := f.opts.StaticFeePrices[chain]
	if f.gateway == nil {
		return static
	}

	priceCtx, cancel := context.WithTimeout(ctx, feePriceTimeout)
	defer cancel()
	resp, err := f.gateway.GetFeePrice(priceCtx, chain.String())
	if err != nil || resp.FeePrice.Sign() <= 0 {
		log.Printf("level=warn component=fees msg=\"live fee price unavailable; using static price\" chain=%s err=%v", chain, err)
		return static
	}
	return resp.FeePrice
}

func amountFromDecimal(d decimal.Decimal) (domain.Amount, error) {
	if d.IsNegative() {
		return domain.Amount{}, fmt.Errorf("negative fee amount %s", d)
	}
	return domain.ParseAmount(d.Ceil().String())
}
