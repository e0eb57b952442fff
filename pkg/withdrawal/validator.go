// Package withdrawal decides whether a member may withdraw, computes the fee
// and hands admitted withdrawals to the ledger.
//
// Processing runs in a fixed order: reason, account state, allowed hours,
// per-withdrawal bounds, fee, minimum balance, daily quota reservation, ledger.
// A reservation taken on the daily quota is always either committed after a
// successful ledger write or released, whatever the exit path.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/events"
	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/policy"
	"github.com/google/uuid"
)

// Validator is the withdrawal state machine.
type Validator struct {
	params   policy.Provider
	accounts AccountReader
	ledger   Ledger
	agg      limits.Aggregator
	bus      eventbus.Bus
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithBus sets the bus decision events are emitted on.
func WithBus(bus eventbus.Bus) Option {
	return func(v *Validator) { v.bus = bus }
}

// WithClock sets the clock used for the allowed-hours check and the daily key.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// NewValidator wires a Validator.
func NewValidator(
	params policy.Provider,
	accounts AccountReader,
	ledger Ledger,
	agg limits.Aggregator,
	opts ...Option,
) *Validator {
	v := &Validator{
		params:   params,
		accounts: accounts,
		ledger:   ledger,
		agg:      agg,
		bus:      eventbus.Nop{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Process runs req through every check. Policy rejections come back as a
// Decision with Outcome rejected and a nil error; configuration, contention,
// lookup and persistence failures come back as errors.
func (v *Validator) Process(ctx context.Context, req Request) (*Decision, error) {
	log := v.logger.With(
		"handler", "Validator.Process",
		"request_id", req.ID,
		"member_id", req.MemberID,
		"amount", req.Amount.String(),
	)
	log.Info("🟢 [START] Received withdrawal request")

	if err := validateRequest(req); err != nil {
		log.Warn("❌ [ERROR] Malformed request", "error", err)
		return nil, err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := v.now()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}

	snap, err := v.params.Current()
	if err != nil {
		log.Error("❌ [ERROR] No usable parameters", "error", err)
		v.emitFailed(ctx, req, 0, err)
		return nil, err
	}
	log = log.With("params_version", snap.Version)
	code := req.Amount.Code()

	if snap.ReasonRequired && strings.TrimSpace(req.Reason) == "" {
		return v.reject(ctx, log, req, snap, ErrMissingReason, "")
	}

	acc, err := v.accounts.GetAccount(ctx, req.MemberID)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			err = fmt.Errorf("%w: load account: %v", ErrPersistence, err)
		}
		log.Error("❌ [ERROR] Failed to load account", "error", err)
		v.emitFailed(ctx, req, snap.Version, err)
		return nil, err
	}
	if !acc.Active {
		return v.reject(ctx, log, req, snap, ErrAccountInactive, "")
	}

	if !policy.WithinWindow(now, snap) {
		details := fmt.Sprintf("%s is outside %s", policy.TimeOfDayOf(now, snap.Location), snap.AllowedWindow)
		return v.reject(ctx, log, req, snap, ErrOutsideAllowedHours, details)
	}

	minW, _ := snap.MinWithdrawal.For(code)
	maxW, _ := snap.MaxAmountPerWithdrawal.For(code)
	if req.Amount.Amount() < minW.Amount() || req.Amount.Amount() > maxW.Amount() {
		details := fmt.Sprintf("%s not within [%s, %s]", req.Amount, minW, maxW)
		return v.reject(ctx, log, req, snap, ErrAmountOutOfBounds, details)
	}

	fee, err := policy.ComputeFee(req.Amount, snap)
	if err != nil {
		log.Error("❌ [ERROR] Fee computation failed", "error", err)
		v.emitFailed(ctx, req, snap.Version, err)
		return nil, err
	}
	netDebit, err := req.Amount.Add(fee.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	log.Info("💸 Fee computed", "fee", fee.Amount.String(), "tier", fee.TierIndex, "net_debit", netDebit.String())

	balance, err := acc.Balance(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	balanceAfter, err := balance.Subtract(netDebit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	minBalance, _ := snap.MinBalance.For(code)
	if balanceAfter.Amount() < minBalance.Amount() {
		details := fmt.Sprintf("balance after %s is below minimum %s", balanceAfter, minBalance)
		return v.reject(ctx, log, req, snap, ErrInsufficientBalance, details)
	}

	lim, err := limits.LimitsFor(snap, code)
	if err != nil {
		return nil, err
	}
	key := limits.Key{MemberID: req.MemberID, Currency: code, Day: limits.DayOf(now, snap.Location)}
	res, err := v.agg.Reserve(ctx, key, req.Amount, lim)
	if err != nil {
		if errors.Is(err, limits.ErrDailyCountLimitExceeded) || errors.Is(err, limits.ErrDailyAmountLimitExceeded) {
			return v.reject(ctx, log, req, snap, err, "")
		}
		log.Warn("❌ [ERROR] Reservation failed", "error", err)
		v.emitFailed(ctx, req, snap.Version, err)
		return nil, err
	}
	log = log.With("reservation", res.Token)

	// From here the reservation is released on every path that does not commit.
	committed := false
	defer func() {
		if committed {
			return
		}
		if err := v.agg.Release(context.WithoutCancel(ctx), res); err != nil {
			log.Error("❌ [ERROR] Failed to release reservation", "error", err)
			return
		}
		log.Info("↩️ Reservation released")
	}()

	entry := Entry{
		RequestID:     req.ID,
		MemberID:      req.MemberID,
		Amount:        req.Amount,
		Fee:           fee.Amount,
		NetDebit:      netDebit,
		BalanceAfter:  balanceAfter,
		MinBalance:    minBalance,
		Reason:        req.Reason,
		ParamsVersion: snap.Version,
		RequestedAt:   req.RequestedAt,
		BookedAt:      now,
	}
	if err := v.ledger.Record(ctx, entry); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return v.reject(ctx, log, req, snap, ErrInsufficientBalance, "balance changed before the debit")
		}
		err = fmt.Errorf("%w: %v", ErrPersistence, err)
		log.Error("❌ [ERROR] Ledger write failed", "error", err)
		v.emitFailed(ctx, req, snap.Version, err)
		return nil, err
	}

	committed = true
	if err := v.agg.Commit(context.WithoutCancel(ctx), res); err != nil {
		log.Error("❌ [ERROR] Failed to commit reservation", "error", err)
	}

	d := &Decision{
		RequestID:     req.ID,
		Outcome:       OutcomeAdmitted,
		Amount:        req.Amount,
		Fee:           fee.Amount,
		NetDebit:      netDebit,
		BalanceAfter:  balanceAfter,
		ParamsVersion: snap.Version,
		DecidedAt:     now,
	}
	log.Info("✅ [SUCCESS] Withdrawal admitted", "fee", d.Fee.String(), "balance_after", d.BalanceAfter.String())
	v.emit(ctx, log, &events.WithdrawalAdmitted{
		Meta:         v.meta(req, snap.Version),
		Amount:       d.Amount,
		Fee:          d.Fee,
		NetDebit:     d.NetDebit,
		BalanceAfter: d.BalanceAfter,
		EntryID:      req.ID,
	})
	return d, nil
}

func (v *Validator) reject(
	ctx context.Context,
	log *slog.Logger,
	req Request,
	snap *policy.Snapshot,
	cause error,
	details string,
) (*Decision, error) {
	r := newRejection(cause, details)
	log.Info("⛔ [REJECTED] Withdrawal rejected", "kind", r.Kind, "details", r.Details)
	v.emit(ctx, log, &events.WithdrawalRejected{
		Meta:    v.meta(req, snap.Version),
		Amount:  req.Amount,
		Kind:    string(r.Kind),
		Details: r.Details,
	})
	return &Decision{
		RequestID:     req.ID,
		Outcome:       OutcomeRejected,
		Amount:        req.Amount,
		Rejection:     r,
		ParamsVersion: snap.Version,
		DecidedAt:     v.now(),
	}, nil
}

func (v *Validator) emitFailed(ctx context.Context, req Request, version int64, err error) {
	v.emit(ctx, v.logger, &events.WithdrawalFailed{
		Meta:   v.meta(req, version),
		Amount: req.Amount,
		Kind:   string(KindOf(err)),
		Error:  err.Error(),
	})
}

func (v *Validator) emit(ctx context.Context, log *slog.Logger, e eventbus.Event) {
	if err := v.bus.Emit(context.WithoutCancel(ctx), e); err != nil {
		log.Error("❌ [ERROR] Failed to emit event", "event_type", e.Type(), "error", err)
		return
	}
	log.Debug("📤 [EMIT] Event emitted", "event_type", e.Type())
}

func (v *Validator) meta(req Request, version int64) events.Meta {
	return events.Meta{
		RequestID:     req.ID,
		MemberID:      req.MemberID,
		ParamsVersion: version,
		Timestamp:     v.now(),
	}
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.MemberID) == "" {
		return fmt.Errorf("%w: member id is required", ErrInvalidRequest)
	}
	if !req.Amount.Code().IsValid() {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, money.ErrInvalidCurrency)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	return nil
}

// Quote is a fee preview made without touching any quota.
type Quote struct {
	Amount   money.Money
	Fee      money.Money
	NetDebit money.Money
	// NetDebitOther is the net debit in the other supported currency, at the snapshot's rate.
	NetDebitOther money.Money
	Tier          policy.FeeTier
	TierIndex     int
	WithinBounds  bool
	ParamsVersion int64
}

// Quote computes fee and net debit for amount against the current parameters.
func (v *Validator) Quote(ctx context.Context, amount money.Money) (*Quote, error) {
	if !amount.Code().IsValid() || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be a positive FC or USD value", ErrInvalidRequest)
	}
	snap, err := v.params.Current()
	if err != nil {
		return nil, err
	}
	fee, err := policy.ComputeFee(amount, snap)
	if err != nil {
		return nil, err
	}
	net, err := amount.Add(fee.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	other := money.USD
	if amount.Code() == money.USD {
		other = money.FC
	}
	netOther, err := policy.Convert(net, other, snap)
	if err != nil {
		return nil, err
	}
	minW, _ := snap.MinWithdrawal.For(amount.Code())
	maxW, _ := snap.MaxAmountPerWithdrawal.For(amount.Code())
	return &Quote{
		Amount:        amount,
		Fee:           fee.Amount,
		NetDebit:      net,
		NetDebitOther: netOther,
		Tier:          fee.Tier,
		TierIndex:     fee.TierIndex,
		WithinBounds:  amount.Amount() >= minW.Amount() && amount.Amount() <= maxW.Amount(),
		ParamsVersion: snap.Version,
	}, nil
}

// Usage reports a member's daily usage for code on day together with what remains.
func (v *Validator) Usage(ctx context.Context, memberID string, code money.Code, day limits.Day) (limits.Usage, limits.Limits, error) {
	snap, err := v.params.Current()
	if err != nil {
		return limits.Usage{}, limits.Limits{}, err
	}
	if day == "" {
		day = limits.DayOf(v.now(), snap.Location)
	}
	lim, err := limits.LimitsFor(snap, code)
	if err != nil {
		return limits.Usage{}, limits.Limits{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	u, err := v.agg.Usage(ctx, limits.Key{MemberID: memberID, Currency: code, Day: day})
	if err != nil {
		return limits.Usage{}, limits.Limits{}, err
	}
	return u, lim, nil
}

var _ Processor = (*Validator)(nil)
