package money

import (
	"fmt"
	"strings"
)

// Code represents a currency code (e.g., "FC", "USD").
type Code string

// Supported currency codes
const (
	FC  Code = "FC"  // Franc Congolais
	USD Code = "USD" // US Dollar
)

// cdfAlias is the ISO 4217 code for FC, accepted on input.
const cdfAlias = "CDF"

// Codes returns every supported currency code in a stable order.
func Codes() []Code {
	return []Code{FC, USD}
}

// ParseCode normalises s and returns the matching supported Code.
func ParseCode(s string) (Code, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == cdfAlias {
		return FC, nil
	}
	c := Code(v)
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return c, nil
}

// IsValid reports whether the code is one of the supported currencies.
func (c Code) IsValid() bool {
	return c == FC || c == USD
}

// String returns the string representation of the currency code.
func (c Code) String() string {
	return string(c)
}
