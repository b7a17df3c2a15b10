package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNotAuthorized       = errors.New("not authorized")
	ErrConflict            = errors.New("concurrent operation conflict detected")
	ErrCurrencyMismatch    = errors.New("currency mismatch")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidArgument     = errors.New("invalid argument")

	// ErrVersionConflict is returned by stores when a conditional save finds a
	// different version than expected. The engine reports it as ErrConflict.
	ErrVersionConflict = errors.New("version conflict")
)

// InsufficientBalanceError names the account whose balance would go negative.
type InsufficientBalanceError struct {
	AccountID string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance in account %s", e.AccountID)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}
