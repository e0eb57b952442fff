package repository

import (
	"errors"

	"github.com/amirasaad/coopcredit/pkg/withdrawal"
	"gorm.io/gorm"
)

// ErrAlreadyExists is returned when an account is created twice.
var ErrAlreadyExists = errors.New("already exists")

// MapGormErrorToDomain converts GORM errors to domain errors.
// Traverses the error chain to find GORM errors and maps them to withdrawal errors.
func MapGormErrorToDomain(err error) error {
	if err == nil {
		return nil
	}

	currentErr := err
	for currentErr != nil {
		switch {
		case errors.Is(currentErr, gorm.ErrDuplicatedKey):
			return ErrAlreadyExists
		case errors.Is(currentErr, gorm.ErrRecordNotFound):
			return withdrawal.ErrAccountNotFound
		}
		currentErr = errors.Unwrap(currentErr)
	}

	return err
}

// WrapError wraps a GORM operation and automatically maps errors.
//
// Usage:
//
//	err := WrapError(func() error {
//	    return r.db.WithContext(ctx).Create(acct).Error
//	})
func WrapError(op func() error) error {
	return MapGormErrorToDomain(op())
}
