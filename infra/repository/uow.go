package repository

import (
	"context"

	"gorm.io/gorm"
)

// UoW provides a transaction boundary over a *gorm.DB.
type UoW struct {
	db *gorm.DB
}

// NewUoW creates a new UoW for the given *gorm.DB.
func NewUoW(db *gorm.DB) *UoW {
	return &UoW{db: db}
}

// Do runs fn in a transaction. Returning an error from fn rolls it back.
func (u *UoW) Do(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return u.db.WithContext(ctx).Transaction(fn)
}
