package withdrawal

import (
	"errors"
	"fmt"

	"github.com/amirasaad/coopcredit/pkg/limits"
	"github.com/amirasaad/coopcredit/pkg/policy"
)

var (
	// ErrRejected matches every deterministic policy rejection.
	ErrRejected = errors.New("withdrawal rejected")

	ErrMissingReason       = errors.New("a reason is required for withdrawals")
	ErrOutsideAllowedHours = errors.New("withdrawals are not allowed at this time")
	ErrAmountOutOfBounds   = errors.New("amount is outside the per-withdrawal bounds")
	ErrInsufficientBalance = errors.New("balance after withdrawal would fall below the minimum")
	ErrAccountInactive     = errors.New("account is inactive")

	// ErrPersistence is returned when the ledger fails after a reservation was
	// taken. The reservation is released first, so the request may be retried.
	ErrPersistence = errors.New("persistence error")

	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidRequest  = errors.New("invalid withdrawal request")
)

// Kind names an outcome category. It is the "code" reported to callers.
type Kind string

const (
	KindMissingReason            Kind = "MissingReason"
	KindOutsideAllowedHours      Kind = "OutsideAllowedHours"
	KindAmountOutOfBounds        Kind = "AmountOutOfBounds"
	KindInsufficientBalance      Kind = "InsufficientBalance"
	KindDailyCountLimitExceeded  Kind = "DailyCountLimitExceeded"
	KindDailyAmountLimitExceeded Kind = "DailyAmountLimitExceeded"
	KindAccountInactive          Kind = "AccountInactive"

	KindConfiguration       Kind = "ConfigurationError"
	KindConcurrencyConflict Kind = "ConcurrencyConflict"
	KindPersistence         Kind = "PersistenceError"
	KindAccountNotFound     Kind = "AccountNotFound"
	KindInvalidRequest      Kind = "InvalidRequest"
	KindInternal            Kind = "InternalError"
)

var kindErrors = []struct {
	err  error
	kind Kind
}{
	{ErrMissingReason, KindMissingReason},
	{ErrOutsideAllowedHours, KindOutsideAllowedHours},
	{ErrAmountOutOfBounds, KindAmountOutOfBounds},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{limits.ErrDailyCountLimitExceeded, KindDailyCountLimitExceeded},
	{limits.ErrDailyAmountLimitExceeded, KindDailyAmountLimitExceeded},
	{ErrAccountInactive, KindAccountInactive},
	{policy.ErrConfiguration, KindConfiguration},
	{limits.ErrConcurrencyConflict, KindConcurrencyConflict},
	{ErrPersistence, KindPersistence},
	{ErrAccountNotFound, KindAccountNotFound},
	{ErrInvalidRequest, KindInvalidRequest},
}

// KindOf classifies err.
func KindOf(err error) Kind {
	for _, ke := range kindErrors {
		if errors.Is(err, ke.err) {
			return ke.kind
		}
	}
	return KindInternal
}

// Rejection is a deterministic refusal. It unwraps to the sentinel of its
// kind and also matches ErrRejected.
type Rejection struct {
	Kind    Kind
	Details string
	err     error
}

func newRejection(err error, details string) *Rejection {
	return &Rejection{Kind: KindOf(err), Details: details, err: err}
}

func (r *Rejection) Error() string {
	if r.Details == "" {
		return r.err.Error()
	}
	return fmt.Sprintf("%s: %s", r.err, r.Details)
}

func (r *Rejection) Unwrap() error { return r.err }

func (r *Rejection) Is(target error) bool { return target == ErrRejected }
