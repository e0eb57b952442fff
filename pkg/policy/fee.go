package policy

import (
	"fmt"

	"github.com/amirasaad/coopcredit/pkg/money"
)

// Fee is the outcome of a fee computation.
type Fee struct {
	Amount money.Money
	Tier   FeeTier
	// TierIndex is the position of Tier in the currency's schedule.
	TierIndex int
}

// ComputeFee applies bracket selection: the first tier whose Max is at least
// amount wins, and its rate applies to the whole amount, rounded half-up to
// the currency's minimal unit.
func ComputeFee(amount money.Money, snap *Snapshot) (Fee, error) {
	if snap == nil {
		return Fee{}, fmt.Errorf("%w: no snapshot", ErrConfiguration)
	}
	list, err := snap.FeeTiers.For(amount.Code())
	if err != nil {
		return Fee{}, err
	}
	for i, tier := range list {
		if tier.Max.Amount() < amount.Amount() {
			continue
		}
		fee, err := amount.MulRate(tier.Rate)
		if err != nil {
			return Fee{}, fmt.Errorf("%w: tier %d: %v", ErrConfiguration, i, err)
		}
		return Fee{Amount: fee, Tier: tier, TierIndex: i}, nil
	}
	return Fee{}, fmt.Errorf("%w: no fee tier covers %s", ErrConfiguration, amount)
}
