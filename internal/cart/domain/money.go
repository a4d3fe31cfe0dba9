package domain

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// Money is an amount in minor currency units (cents).
type Money int64

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Times returns m*quantity, or ErrInvalidArgument if either operand is
// negative or the product does not fit in a Money.
func (m Money) Times(quantity int) (Money, error) {
	if m < 0 || quantity < 0 {
		return 0, fmt.Errorf("%w: cannot multiply %s by %d", ErrInvalidArgument, m, quantity)
	}
	hi, lo := bits.Mul64(uint64(m), uint64(quantity))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s x %d overflows", ErrInvalidArgument, m, quantity)
	}
	return Money(lo), nil
}

// ParseMoney parses a decimal amount such as "10.5" or "3.99" into cents.
// Amounts with sub-cent precision are rejected instead of rounded.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidArgument, s, err)
	}
	cents := d.Shift(2)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("%w: amount %q has sub-cent precision", ErrInvalidArgument, s)
	}
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("%w: amount %q is out of range", ErrInvalidArgument, s)
	}
	return Money(cents.IntPart()), nil
}

// MarshalJSON writes the amount as a plain JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and numeric strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	v, err := ParseMoney(strings.Trim(string(b), `"`))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
