package repository

import (
	"context"
	"fmt"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger books admitted withdrawals and debits the member balance in one
// transaction.
type Ledger struct {
	uow *UoW
}

// NewLedger creates a new Ledger using the provided *gorm.DB.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{uow: NewUoW(db)}
}

// Record implements withdrawal.Ledger. A request id that is already booked is
// a no-op; the debit only applies while the balance stays at or above
// e.MinBalance.
func (l *Ledger) Record(ctx context.Context, e withdrawal.Entry) error {
	column, err := balanceColumn(e.NetDebit.Code())
	if err != nil {
		return err
	}
	row := mapEntryToModel(e)

	return l.uow.Do(ctx, func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("insert withdrawal: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		debit := e.NetDebit.Amount()
		res = tx.Model(&Account{}).
			Where("id = ? AND "+column+" - ? >= ?", e.MemberID, debit, e.MinBalance.Amount()).
			UpdateColumn(column, gorm.Expr(column+" - ?", debit))
		if res.Error != nil {
			return fmt.Errorf("debit account: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return withdrawal.ErrInsufficientBalance
		}
		return nil
	})
}

func balanceColumn(code money.Code) (string, error) {
	switch code {
	case money.FC:
		return "balance_fc", nil
	case money.USD:
		return "balance_usd", nil
	default:
		return "", money.ErrInvalidCurrency
	}
}

func mapEntryToModel(e withdrawal.Entry) Withdrawal {
	return Withdrawal{
		ID:            e.RequestID,
		MemberID:      e.MemberID,
		Currency:      e.Amount.Code().String(),
		Amount:        e.Amount.Amount(),
		Fee:           e.Fee.Amount(),
		NetDebit:      e.NetDebit.Amount(),
		BalanceAfter:  e.BalanceAfter.Amount(),
		Reason:        e.Reason,
		ParamsVersion: e.ParamsVersion,
		RequestedAt:   e.RequestedAt,
		BookedAt:      e.BookedAt,
	}
}
