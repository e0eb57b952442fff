// Package events holds the withdrawal decision and parameter events.
package events

import (
	"time"

	"github.com/amirasaad/coopcredit/pkg/eventbus"
	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/google/uuid"
)

// EventType represents the type of an event in the system.
type EventType string

const (
	EventTypeWithdrawalAdmitted  EventType = "Withdrawal.Admitted"
	EventTypeWithdrawalRejected  EventType = "Withdrawal.Rejected"
	EventTypeWithdrawalFailed    EventType = "Withdrawal.Failed"
	EventTypeParametersPublished EventType = "Parameters.Published"
)

// String returns the string representation of the event type.
func (et EventType) String() string {
	return string(et)
}

// Meta is shared by every withdrawal event.
type Meta struct {
	RequestID     uuid.UUID `json:"request_id"`
	MemberID      string    `json:"member_id"`
	ParamsVersion int64     `json:"params_version"`
	Timestamp     time.Time `json:"timestamp"`
}

// Member returns the member the event concerns.
func (m Meta) Member() string { return m.MemberID }

// WithdrawalAdmitted is emitted once the ledger has accepted the entry.
type WithdrawalAdmitted struct {
	Meta
	Amount       money.Money `json:"amount"`
	Fee          money.Money `json:"fee"`
	NetDebit     money.Money `json:"net_debit"`
	BalanceAfter money.Money `json:"balance_after"`
	EntryID      uuid.UUID   `json:"entry_id"`
}

func (e *WithdrawalAdmitted) Type() string { return EventTypeWithdrawalAdmitted.String() }

// WithdrawalRejected is emitted for a deterministic policy rejection.
type WithdrawalRejected struct {
	Meta
	Amount  money.Money `json:"amount"`
	Kind    string      `json:"kind"`
	Details string      `json:"details"`
}

func (e *WithdrawalRejected) Type() string { return EventTypeWithdrawalRejected.String() }

// WithdrawalFailed is emitted when processing failed for a retryable reason.
type WithdrawalFailed struct {
	Meta
	Amount money.Money `json:"amount"`
	Kind   string      `json:"kind"`
	Error  string      `json:"error"`
}

func (e *WithdrawalFailed) Type() string { return EventTypeWithdrawalFailed.String() }

// ParametersPublished is emitted when a new snapshot becomes current.
type ParametersPublished struct {
	Version     int64     `json:"version"`
	EffectiveAt time.Time `json:"effective_at"`
	Hash        string    `json:"hash"`
}

func (e *ParametersPublished) Type() string { return EventTypeParametersPublished.String() }

// EventTypes maps each type to a constructor for decoding transported payloads.
var EventTypes = map[EventType]func() eventbus.Event{
	EventTypeWithdrawalAdmitted:  func() eventbus.Event { return &WithdrawalAdmitted{} },
	EventTypeWithdrawalRejected:  func() eventbus.Event { return &WithdrawalRejected{} },
	EventTypeWithdrawalFailed:    func() eventbus.Event { return &WithdrawalFailed{} },
	EventTypeParametersPublished: func() eventbus.Event { return &ParametersPublished{} },
}
