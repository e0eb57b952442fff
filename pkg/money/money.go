// Package money provides functionality for handling monetary values.
//
// It is a value object that represents a monetary value in a specific currency.
// Invariants:
//   - Amount is always stored in the smallest currency unit (whole francs for FC, cents for USD).
//   - Currency code must be one of the supported codes.
//   - All arithmetic operations require matching currencies.
//   - Conversions from decimal values round half-up to the smallest unit.
package money

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount represents a monetary amount as an integer in the
// smallest currency unit.
type Amount = int64

// Currency represents a monetary unit with its standard decimal places
type Currency struct {
	Code     Code // FC or USD
	Decimals int  // Number of decimal places of the minimal unit
}

// Supported currency instances
var (
	FCCurrency  = Currency{Code: FC, Decimals: 0}
	USDCurrency = Currency{Code: USD, Decimals: 2}
)

// ToCurrency converts a Code to its Currency.
func (c Code) ToCurrency() (Currency, error) {
	switch c {
	case FC:
		return FCCurrency, nil
	case USD:
		return USDCurrency, nil
	default:
		return Currency{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, string(c))
	}
}

// String returns the currency code as a string
func (c Currency) String() string { return string(c.Code) }

var (
	half        = decimal.New(5, -1)
	maxSafeInt  = decimal.NewFromInt(math.MaxInt64)
	minSafeInt  = decimal.NewFromInt(math.MinInt64)
	decimalZero = decimal.Zero
)

// RoundHalfUp rounds d to the given number of decimal places, ties going up.
func RoundHalfUp(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Shift(places).Add(half).Floor().Shift(-places)
}

// Money represents a monetary value in a specific currency.
type Money struct {
	amount   Amount
	currency Currency
}

// New creates a Money from an amount expressed in the main currency unit.
// The amount is rounded half-up to the currency's minimal unit.
func New(amount decimal.Decimal, code Code) (Money, error) {
	c, err := code.ToCurrency()
	if err != nil {
		return Money{}, err
	}
	minor, err := toSmallestUnit(amount, c)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: minor, currency: c}, nil
}

// NewFromFloat creates a Money from a float64 amount in the main currency unit.
func NewFromFloat(amount float64, code Code) (Money, error) {
	return New(decimal.NewFromFloat(amount), code)
}

// NewFromSmallestUnit creates a Money from an amount already in the smallest unit.
func NewFromSmallestUnit(amount Amount, code Code) (Money, error) {
	c, err := code.ToCurrency()
	if err != nil {
		return Money{}, err
	}
	return Money{amount: amount, currency: c}, nil
}

// Must creates a Money object from the given smallest-unit amount and code.
// Panics if the code is not supported.
func Must(amount Amount, code Code) Money {
	m, err := NewFromSmallestUnit(amount, code)
	if err != nil {
		panic(fmt.Sprintf("money.Must(%v, %v): %v", amount, code, err))
	}
	return m
}

// Zero creates a Money with zero amount in the given currency.
func Zero(code Code) Money {
	c, _ := code.ToCurrency()
	return Money{currency: c}
}

// Amount returns the amount in the smallest currency unit.
func (m Money) Amount() Amount {
	return m.amount
}

// Currency returns the currency of the Money object.
func (m Money) Currency() Currency {
	return m.currency
}

// Code returns the currency code of the Money object.
func (m Money) Code() Code {
	return m.currency.Code
}

// Decimal returns the amount in the main currency unit.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -int32(m.currency.Decimals))
}

// Add returns the sum of m and other.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf(
			"%w: cannot add %s and %s",
			ErrMismatchedCurrencies,
			m.currency.Code,
			other.currency.Code,
		)
	}
	if (other.amount > 0 && m.amount > math.MaxInt64-other.amount) ||
		(other.amount < 0 && m.amount < math.MinInt64-other.amount) {
		return Money{}, ErrAmountExceedsMaxSafeInt
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Subtract returns m minus other. The result can be negative.
func (m Money) Subtract(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf(
			"%w: cannot subtract %s and %s",
			ErrMismatchedCurrencies,
			m.currency.Code,
			other.currency.Code,
		)
	}
	return m.Add(other.Negate())
}

// Negate returns the negated amount.
func (m Money) Negate() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

// Cmp compares m and other: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if m.currency != other.currency {
		return 0, fmt.Errorf(
			"%w: cannot compare %s and %s",
			ErrMismatchedCurrencies,
			m.currency.Code,
			other.currency.Code,
		)
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// LessThan reports whether m < other. Currencies must match.
func (m Money) LessThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c < 0, err
}

// GreaterThan reports whether m > other. Currencies must match.
func (m Money) GreaterThan(other Money) (bool, error) {
	c, err := m.Cmp(other)
	return c > 0, err
}

// Equals checks currency and amount equality.
func (m Money) Equals(other Money) bool {
	return m.currency == other.currency && m.amount == other.amount
}

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.amount > 0
}

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool {
	return m.amount < 0
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool {
	return m.amount == 0
}

// MulRate multiplies the amount by a non-negative rate and rounds the result
// half-up to the currency's minimal unit.
func (m Money) MulRate(rate decimal.Decimal) (Money, error) {
	if rate.IsNegative() {
		return Money{}, ErrNegativeFactor
	}
	product := m.Decimal().Mul(rate)
	minor, err := toSmallestUnit(product, m.currency)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: minor, currency: m.currency}, nil
}

// String returns a string representation such as "30900 FC" or "12.50 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(int32(m.currency.Decimals)), m.currency.Code)
}

// MarshalJSON implements json.Marshaler interface.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"amount":   m.Decimal(),
		"currency": m.currency.Code,
	})
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (m *Money) UnmarshalJSON(data []byte) error {
	var aux struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	code, err := ParseCode(aux.Currency)
	if err != nil {
		return err
	}
	parsed, err := New(aux.Amount, code)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ToSmallestUnit converts a main-unit decimal amount to the smallest unit of c.
func ToSmallestUnit(amount decimal.Decimal, code Code) (Amount, error) {
	c, err := code.ToCurrency()
	if err != nil {
		return 0, err
	}
	return toSmallestUnit(amount, c)
}

func toSmallestUnit(amount decimal.Decimal, c Currency) (Amount, error) {
	scaled := RoundHalfUp(amount, int32(c.Decimals)).Shift(int32(c.Decimals))
	if scaled.GreaterThan(maxSafeInt) || scaled.LessThan(minSafeInt) {
		return 0, ErrAmountExceedsMaxSafeInt
	}
	if scaled.Equal(decimalZero) {
		return 0, nil
	}
	return scaled.IntPart(), nil
}
