package withdrawal

import (
	"context"
	"time"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/google/uuid"
)

// Request is one withdrawal submitted by a member.
type Request struct {
	// ID identifies the request across retries; the ledger is idempotent on it.
	ID          uuid.UUID
	MemberID    string
	Amount      money.Money
	Reason      string
	RequestedAt time.Time
}

// Account is the read-only view of a member account.
type Account struct {
	ID         string
	BalanceFC  money.Money
	BalanceUSD money.Money
	Active     bool
}

// Balance returns the balance held in code.
func (a Account) Balance(code money.Code) (money.Money, error) {
	switch code {
	case money.FC:
		return a.BalanceFC, nil
	case money.USD:
		return a.BalanceUSD, nil
	default:
		return money.Money{}, money.ErrInvalidCurrency
	}
}

// AccountReader loads member accounts. It returns ErrAccountNotFound for an unknown member.
type AccountReader interface {
	GetAccount(ctx context.Context, memberID string) (*Account, error)
}

// Entry is the withdrawal handed to the ledger.
type Entry struct {
	RequestID    uuid.UUID
	MemberID     string
	Amount       money.Money
	Fee          money.Money
	NetDebit     money.Money
	BalanceAfter money.Money
	// MinBalance is the floor the ledger must keep the balance at when it debits.
	MinBalance    money.Money
	Reason        string
	ParamsVersion int64
	RequestedAt   time.Time
	BookedAt      time.Time
}

// Ledger persists admitted withdrawals. Record must be idempotent on
// Entry.RequestID and must return ErrInsufficientBalance, without writing,
// when the debit would take the balance below Entry.MinBalance.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
}

// Outcome is the terminal state of a decision.
type Outcome string

const (
	OutcomeAdmitted Outcome = "admis"
	OutcomeRejected Outcome = "rejete"
)

// Decision is the result of a processed request.
type Decision struct {
	RequestID     uuid.UUID
	Outcome       Outcome
	Amount        money.Money
	Fee           money.Money
	NetDebit      money.Money
	BalanceAfter  money.Money
	Rejection     *Rejection
	ParamsVersion int64
	DecidedAt     time.Time
	// Replayed is set when the decision was served from an earlier identical request.
	Replayed bool
}

// Admitted reports whether the withdrawal was accepted.
func (d *Decision) Admitted() bool { return d != nil && d.Outcome == OutcomeAdmitted }

// Err returns the rejection as an error, or nil for an admitted decision.
func (d *Decision) Err() error {
	if d == nil || d.Rejection == nil {
		return nil
	}
	return d.Rejection
}

// Processor decides withdrawal requests.
type Processor interface {
	Process(ctx context.Context, req Request) (*Decision, error)
}
