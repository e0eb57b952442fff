package money

import "errors"

var (
	// ErrInvalidCurrency is returned for unsupported currency codes.
	ErrInvalidCurrency = errors.New("invalid currency code")

	// ErrAmountExceedsMaxSafeInt is returned when an amount does not fit in the smallest-unit representation.
	ErrAmountExceedsMaxSafeInt = errors.New("amount exceeds maximum safe integer value")

	// ErrMismatchedCurrencies is returned when combining money of different currencies.
	ErrMismatchedCurrencies = errors.New("mismatched currencies")

	// ErrNegativeFactor is returned when multiplying by a negative rate.
	ErrNegativeFactor = errors.New("factor cannot be negative")
)
