package policy

import (
	"fmt"

	"github.com/amirasaad/coopcredit/pkg/money"
)

// Convert expresses amount in the target currency using the snapshot's fixed
// USD/FC rate, rounded half-up to the target's minimal unit. Converting to the
// same currency returns amount unchanged.
func Convert(amount money.Money, to money.Code, snap *Snapshot) (money.Money, error) {
	if snap == nil {
		return money.Money{}, fmt.Errorf("%w: no snapshot", ErrConfiguration)
	}
	if !to.IsValid() {
		return money.Money{}, fmt.Errorf("%w: %q", money.ErrInvalidCurrency, string(to))
	}
	from := amount.Code()
	if from == to {
		return amount, nil
	}
	if !snap.USDToFCRate.IsPositive() {
		return money.Money{}, fmt.Errorf("%w: conversion rate is not positive", ErrConfiguration)
	}
	value := amount.Decimal()
	switch {
	case from == money.USD && to == money.FC:
		value = value.Mul(snap.USDToFCRate)
	case from == money.FC && to == money.USD:
		value = value.Div(snap.USDToFCRate)
	default:
		return money.Money{}, fmt.Errorf("%w: %s to %s", money.ErrInvalidCurrency, from, to)
	}
	return money.New(value, to)
}
