package repository

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a member account record in the database.
type Account struct {
	ID         string `gorm:"type:varchar(32);primaryKey"`
	BalanceFC  int64  `gorm:"not null;default:0"`
	BalanceUSD int64  `gorm:"not null;default:0"`
	Active     bool   `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TableName specifies the table name for the Account model.
func (Account) TableName() string {
	return "accounts"
}

// Withdrawal is a booked withdrawal. Its primary key is the request id, which
// makes a retried booking a no-op.
type Withdrawal struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	MemberID      string    `gorm:"type:varchar(32);not null;index"`
	Currency      string    `gorm:"type:varchar(3);not null"`
	Amount        int64     `gorm:"not null"`
	Fee           int64     `gorm:"not null"`
	NetDebit      int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	Reason        string    `gorm:"type:text;not null"`
	ParamsVersion int64     `gorm:"not null"`
	RequestedAt   time.Time
	BookedAt      time.Time `gorm:"index"`
}

// TableName specifies the table name for the Withdrawal model.
func (Withdrawal) TableName() string {
	return "withdrawals"
}

// Models lists every model managed by AutoMigrate.
func Models() []any {
	return []any{&Account{}, &Withdrawal{}}
}
