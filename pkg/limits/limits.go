// Package limits tracks per member, per currency, per day withdrawal
// aggregates and enforces the daily quota through a two-phase
// reserve / commit / release protocol.
package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/google/uuid"
)

var (
	// ErrDailyCountLimitExceeded is returned when one more withdrawal would exceed the daily count.
	ErrDailyCountLimitExceeded = errors.New("daily withdrawal count limit exceeded")
	// ErrDailyAmountLimitExceeded is returned when the amount would push the daily total over the limit.
	ErrDailyAmountLimitExceeded = errors.New("daily withdrawal amount limit exceeded")
	// ErrConcurrencyConflict is returned on lock timeout and on misuse of a
	// reservation token (double release, commit after release). Callers may retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidDay is returned by ParseDay for anything but YYYY-MM-DD.
	ErrInvalidDay = errors.New("invalid day")
)

// dayLayout is the calendar day format used in keys.
const dayLayout = "2006-01-02"

// Day is a calendar day in the cooperative's timezone, formatted YYYY-MM-DD.
// Lexical order matches chronological order.
type Day string

// DayOf returns the calendar day of t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc != nil {
		t = t.In(loc)
	}
	return Day(t.Format(dayLayout))
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidDay, s, err)
	}
	return Day(t.Format(dayLayout)), nil
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(dayLayout))
}

func (d Day) String() string { return string(d) }

// Key identifies one daily aggregate.
type Key struct {
	MemberID string
	Currency money.Code
	Day      Day
}

func (k Key) String() string {
	return k.MemberID + ":" + string(k.Currency) + ":" + string(k.Day)
}

// Limits are the daily quotas applied to a reservation.
type Limits struct {
	MaxCount  int
	MaxAmount money.Money
}

// LimitsFor extracts the daily quotas for code from snap.
func LimitsFor(snap *policy.Snapshot, code money.Code) (Limits, error) {
	count, amount, err := snap.DailyLimits(code)
	if err != nil {
		return Limits{}, err
	}
	return Limits{MaxCount: count, MaxAmount: amount}, nil
}

// Usage is the committed plus pending state of one aggregate.
type Usage struct {
	Key   Key
	Count int
	Total money.Money
}

// Remaining returns what is left of lim after u, floored at zero.
func (u Usage) Remaining(lim Limits) (int, money.Money) {
	count := lim.MaxCount - u.Count
	if count < 0 {
		count = 0
	}
	left := lim.MaxAmount.Amount() - u.Total.Amount()
	if left < 0 {
		left = 0
	}
	return count, money.Must(left, lim.MaxAmount.Code())
}

// Reservation is the token returned by a successful Reserve. It must be
// passed to exactly one of Commit or Release.
type Reservation struct {
	Token      uuid.UUID
	Key        Key
	Amount     money.Money
	ReservedAt time.Time
}

// Aggregator is the reserve / commit / release protocol over daily aggregates.
// The read-check-increment of Reserve is linearizable per key.
type Aggregator interface {
	Reserve(ctx context.Context, key Key, amount money.Money, lim Limits) (*Reservation, error)
	Commit(ctx context.Context, r *Reservation) error
	Release(ctx context.Context, r *Reservation) error
	Usage(ctx context.Context, key Key) (Usage, error)
}

func checkReserveArgs(key Key, amount money.Money, lim Limits) error {
	if key.MemberID == "" || key.Day == "" {
		return fmt.Errorf("limits: incomplete key %q", key.String())
	}
	if amount.Code() != key.Currency || lim.MaxAmount.Code() != key.Currency {
		return fmt.Errorf("%w: key %s, amount %s, limit %s",
			money.ErrMismatchedCurrencies, key.Currency, amount.Code(), lim.MaxAmount.Code())
	}
	if !amount.IsPositive() {
		return fmt.Errorf("limits: amount must be positive, got %s", amount)
	}
	return nil
}
