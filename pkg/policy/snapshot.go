// Package policy holds the cooperative's withdrawal rules: an immutable,
// versioned parameter snapshot and the pure computations made against it
// (fee brackets, allowed hours, currency conversion).
//
// A Snapshot is never mutated once issued. Callers fetch one from a Provider
// and hold it for the whole of a validation so that a parameter edit landing
// mid-request cannot mix two rule sets.
package policy

import (
	"fmt"
	"time"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/shopspring/decimal"
)

// Provider returns the latest published snapshot.
type Provider interface {
	Current() (*Snapshot, error)
}

// PerCurrency is a value configured once per supported currency.
type PerCurrency struct {
	FC  money.Money
	USD money.Money
}

// For returns the value configured for code.
func (p PerCurrency) For(code money.Code) (money.Money, error) {
	switch code {
	case money.FC:
		return p.FC, nil
	case money.USD:
		return p.USD, nil
	default:
		return money.Money{}, fmt.Errorf("%w: %q", money.ErrInvalidCurrency, string(code))
	}
}

// FeeTier is a bracket: amounts up to and including Max pay Rate on the whole amount.
type FeeTier struct {
	Max  money.Money
	Rate decimal.Decimal
}

// FeeSchedule holds the tier list of each currency, ascending by Max.
type FeeSchedule struct {
	FC  []FeeTier
	USD []FeeTier
}

// For returns the tier list for code.
func (f FeeSchedule) For(code money.Code) ([]FeeTier, error) {
	switch code {
	case money.FC:
		return f.FC, nil
	case money.USD:
		return f.USD, nil
	default:
		return nil, fmt.Errorf("%w: %q", money.ErrInvalidCurrency, string(code))
	}
}

// Snapshot is an immutable, versioned view of the withdrawal parameters.
type Snapshot struct {
	Version     int64
	EffectiveAt time.Time
	// Location is the cooperative's timezone, used for the allowed window and calendar days.
	Location *time.Location

	MinBalance             PerCurrency
	MinWithdrawal          PerCurrency
	DailyAmountLimit       PerCurrency
	MaxAmountPerWithdrawal PerCurrency
	MaxWithdrawalsPerDay   int
	USDToFCRate            decimal.Decimal
	AllowedWindow          Window
	ReasonRequired         bool
	FeeTiers               FeeSchedule

	// Document is the source the snapshot was built from.
	Document Document
}

// NewSnapshot builds and validates an unversioned snapshot from doc.
func NewSnapshot(doc Document, loc *time.Location) (*Snapshot, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Snapshot{
		Location:             loc,
		MaxWithdrawalsPerDay: doc.MaxWithdrawalsPerDay,
		USDToFCRate:          decimal.NewFromFloat(doc.USDToFCRate),
		ReasonRequired:       doc.ReasonRequired,
		Document:             doc,
	}

	var err error
	if s.MinBalance, err = perCurrency(doc.MinBalanceFC, doc.MinBalanceUSD); err != nil {
		return nil, configErr("solde_min", err)
	}
	if s.MinWithdrawal, err = perCurrency(doc.MinWithdrawalFC, doc.MinWithdrawalUSD); err != nil {
		return nil, configErr("montant_min_retrait", err)
	}
	if s.DailyAmountLimit, err = perCurrency(doc.DailyAmountLimitFC, doc.DailyAmountLimitUSD); err != nil {
		return nil, configErr("limite_retrait_jour", err)
	}
	if s.MaxAmountPerWithdrawal, err = perCurrency(doc.MaxAmountPerWithdrawalFC, doc.MaxAmountPerWithdrawalUSD); err != nil {
		return nil, configErr("montant_max_par_retrait", err)
	}
	if s.AllowedWindow.Start, err = ParseTimeOfDay(doc.AllowedHours.Start); err != nil {
		return nil, configErr("heures_autorisees.debut", err)
	}
	if s.AllowedWindow.End, err = ParseTimeOfDay(doc.AllowedHours.End); err != nil {
		return nil, configErr("heures_autorisees.fin", err)
	}
	if s.FeeTiers.FC, err = tiers(doc.Withdrawals.Fees.FC, money.FC); err != nil {
		return nil, configErr("retraits.frais_retrait.FC", err)
	}
	if s.FeeTiers.USD, err = tiers(doc.Withdrawals.Fees.USD, money.USD); err != nil {
		return nil, configErr("retraits.frais_retrait.USD", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the structural invariants of the snapshot.
func (s *Snapshot) Validate() error {
	if !s.USDToFCRate.IsPositive() {
		return configErr("taux_usd_cdf", fmt.Errorf("rate must be positive, got %s", s.USDToFCRate))
	}
	if s.MaxWithdrawalsPerDay < 1 {
		return configErr("max_retraits_par_jour", fmt.Errorf("must be at least 1, got %d", s.MaxWithdrawalsPerDay))
	}
	if s.AllowedWindow.Start >= s.AllowedWindow.End {
		return configErr("heures_autorisees", fmt.Errorf("start %s is not before end %s", s.AllowedWindow.Start, s.AllowedWindow.End))
	}
	for _, code := range money.Codes() {
		minW, _ := s.MinWithdrawal.For(code)
		maxW, _ := s.MaxAmountPerWithdrawal.For(code)
		daily, _ := s.DailyAmountLimit.For(code)
		minB, _ := s.MinBalance.For(code)
		for _, m := range []money.Money{minW, maxW, daily, minB} {
			if m.Code() != code {
				return configErr(code.String(), fmt.Errorf("amount %s has currency %s", m, m.Code()))
			}
			if m.IsNegative() {
				return configErr(code.String(), fmt.Errorf("negative amount %s", m))
			}
		}
		if minW.Amount() > maxW.Amount() {
			return configErr(code.String(), fmt.Errorf("minimum withdrawal %s exceeds maximum %s", minW, maxW))
		}
		list, _ := s.FeeTiers.For(code)
		if err := validateTiers(list, code); err != nil {
			return configErr("retraits.frais_retrait."+code.String(), err)
		}
	}
	return nil
}

func validateTiers(list []FeeTier, code money.Code) error {
	if len(list) == 0 {
		return fmt.Errorf("tier list is empty")
	}
	one := decimal.NewFromInt(1)
	for i, t := range list {
		if t.Max.Code() != code {
			return fmt.Errorf("tier %d has currency %s", i, t.Max.Code())
		}
		if !t.Max.IsPositive() {
			return fmt.Errorf("tier %d max must be positive, got %s", i, t.Max)
		}
		if t.Rate.IsNegative() || t.Rate.GreaterThanOrEqual(one) {
			return fmt.Errorf("tier %d rate %s outside [0,1)", i, t.Rate)
		}
		if i > 0 && t.Max.Amount() <= list[i-1].Max.Amount() {
			return fmt.Errorf("tier %d max %s not above previous %s", i, t.Max, list[i-1].Max)
		}
	}
	return nil
}

// DailyLimits returns the daily count and amount limits for code.
func (s *Snapshot) DailyLimits(code money.Code) (int, money.Money, error) {
	amount, err := s.DailyAmountLimit.For(code)
	if err != nil {
		return 0, money.Money{}, err
	}
	return s.MaxWithdrawalsPerDay, amount, nil
}

func perCurrency(fc, usd float64) (PerCurrency, error) {
	f, err := money.NewFromFloat(fc, money.FC)
	if err != nil {
		return PerCurrency{}, err
	}
	u, err := money.NewFromFloat(usd, money.USD)
	if err != nil {
		return PerCurrency{}, err
	}
	return PerCurrency{FC: f, USD: u}, nil
}

func tiers(docs []TierDocument, code money.Code) ([]FeeTier, error) {
	out := make([]FeeTier, 0, len(docs))
	for _, d := range docs {
		m, err := money.NewFromFloat(d.Max, code)
		if err != nil {
			return nil, err
		}
		out = append(out, FeeTier{Max: m, Rate: decimal.NewFromFloat(d.Rate)})
	}
	return out, nil
}

func configErr(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrConfiguration, field, err)
}
