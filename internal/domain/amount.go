/**
 * @description
 * This file defines Amount, the ledger's monetary value type. An Amount is an
 * unsigned 256-bit integer denominated in the smallest unit of its currency
 * (satoshi for btc, wei for eth and stq), which avoids floating-point
 * inaccuracies with financial data.
 *
 * @notes
 * - JSON form is a decimal string so callers never lose precision to IEEE-754
 *   doubles; unmarshalling also accepts bare JSON numbers for convenience.
 * - Database form is NUMERIC, handled through driver.Valuer / sql.Scanner.
 * - Arithmetic is checked: overflow and underflow return errors instead of
 *   wrapping.
 */

package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ErrAmountOverflow is returned when checked arithmetic would exceed 256 bits.
var ErrAmountOverflow = errors.New("amount overflow")

// ErrAmountUnderflow is returned when a subtraction would go below zero.
var ErrAmountUnderflow = errors.New("amount underflow")

// Amount is a non-negative monetary value in a currency's smallest unit.
// The zero value is a usable zero amount.
type Amount struct {
	v uint256.Int
}

// NewAmount builds an Amount from a uint64.
func NewAmount(v uint64) Amount {
	var a Amount
	a.v.SetUint64(v)
	return a
}

// ParseAmount parses a base-10 unsigned integer string.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, errors.New("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return Amount{}, errors.New("amount must not be negative")
	}
	var a Amount
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return a, nil
}

// Add returns a + b, failing on 256-bit overflow.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, overflow := out.v.AddOverflow(&a.v, &b.v); overflow {
		return Amount{}, ErrAmountOverflow
	}
	return out, nil
}

// Sub returns a - b, failing when b exceeds a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.v.Lt(&b.v) {
		return Amount{}, ErrAmountUnderflow
	}
	var out Amount
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

// Cmp returns -1, 0 or 1 comparing a against b.
func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.v.IsZero() }

// Convert multiplies the amount by an exchange rate and floors the result to
// an integer number of smallest units. The rate must not be negative.
func (a Amount) Convert(rate decimal.Decimal) (Amount, error) {
	if rate.IsNegative() {
		return Amount{}, errors.New("negative exchange rate")
	}
	product := decimal.NewFromBigInt(a.v.ToBig(), 0).Mul(rate).Floor()
	var out Amount
	if overflow := out.v.SetFromBig(product.BigInt()); overflow {
		return Amount{}, ErrAmountOverflow
	}
	return out, nil
}

// Decimal returns the amount as a shopspring decimal for rate math.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.v.ToBig(), 0)
}

func (a Amount) String() string { return a.v.Dec() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.Dec() + `"`), nil
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		return nil
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer; amounts are stored as NUMERIC.
func (a Amount) Value() (driver.Value, error) {
	return a.v.Dec(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		parsed, err := ParseAmount(v)
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case []byte:
		parsed, err := ParseAmount(string(v))
		if err != nil {
			return err
		}
		*a = parsed
		return nil
	case int64:
		if v < 0 {
			return errors.New("amount must not be negative")
		}
		*a = NewAmount(uint64(v))
		return nil
	}
	return fmt.Errorf("cannot scan %T into Amount", src)
}
