/**
 * @description
 * This file defines the Currency type and the closed set of currencies the
 * ledger supports. Currency values travel lowercase on the wire and in the
 * database.
 */

package domain

import "fmt"

// Currency identifies one of the supported settlement currencies.
type Currency string

const (
	CurrencyBTC Currency = "btc"
	CurrencyETH Currency = "eth"
	CurrencySTQ Currency = "stq"
)

// Currencies lists every supported currency in a stable order.
var Currencies = []Currency{CurrencyBTC, CurrencyETH, CurrencySTQ}

// ParseCurrency validates a wire-form currency code.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(s) {
	case CurrencyBTC, CurrencyETH, CurrencySTQ:
		return Currency(s), nil
	}
	return "", fmt.Errorf("unsupported currency %q", s)
}

// Valid reports whether c is one of the supported currencies.
func (c Currency) Valid() bool {
	_, err := ParseCurrency(string(c))
	return err == nil
}

// SettlementChain returns the chain the currency settles on. Token
// currencies settle on their host chain, which matters for fee estimation
// (token transfers burn the host chain's gas).
func (c Currency) SettlementChain() Currency {
	if c == CurrencySTQ {
		return CurrencyETH
	}
	return c
}

// IsToken reports whether the currency is a contract token rather than a
// chain-native coin.
func (c Currency) IsToken() bool {
	return c == CurrencySTQ
}

func (c Currency) String() string { return string(c) }
