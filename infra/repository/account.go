package repository

import (
	"context"

	"github.com/amirasaad/coopcredit/pkg/money"
	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"gorm.io/gorm"
)

// AccountRepository reads and seeds member accounts.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository using the provided *gorm.DB.
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetAccount implements withdrawal.AccountReader.
func (r *AccountRepository) GetAccount(ctx context.Context, memberID string) (*withdrawal.Account, error) {
	var acct Account
	err := WrapError(func() error {
		return r.db.WithContext(ctx).First(&acct, "id = ?", memberID).Error
	})
	if err != nil {
		return nil, err
	}
	return mapAccountToDomain(&acct), nil
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, a withdrawal.Account) error {
	acct := mapAccountToModel(a)
	return WrapError(func() error {
		return r.db.WithContext(ctx).Create(&acct).Error
	})
}

// SetActive flags an account as active or inactive.
func (r *AccountRepository) SetActive(ctx context.Context, memberID string, active bool) error {
	res := r.db.WithContext(ctx).Model(&Account{}).Where("id = ?", memberID).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return withdrawal.ErrAccountNotFound
	}
	return nil
}

func mapAccountToDomain(acct *Account) *withdrawal.Account {
	return &withdrawal.Account{
		ID:         acct.ID,
		BalanceFC:  money.Must(acct.BalanceFC, money.FC),
		BalanceUSD: money.Must(acct.BalanceUSD, money.USD),
		Active:     acct.Active,
	}
}

func mapAccountToModel(a withdrawal.Account) Account {
	return Account{
		ID:         a.ID,
		BalanceFC:  a.BalanceFC.Amount(),
		BalanceUSD: a.BalanceUSD.Amount(),
		Active:     a.Active,
	}
}
