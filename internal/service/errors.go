package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrUserNotFound          = errors.New("user not found")
	ErrUnknownTransaction    = errors.New("unknown transaction")
	ErrNotReconcilable       = errors.New("transaction kind is not settled by a provider")
	ErrOutsideWithdrawWindow = errors.New("withdrawals are closed at this hour")
	ErrAlreadyDispatched     = errors.New("withdrawal already sent to the provider")
	ErrForbidden             = errors.New("transaction belongs to another user")
	ErrNotCommissionable     = errors.New("transaction does not qualify for commissions")
)

// AmountMismatchError blocks auto-approval. The transaction stays pending for manual review.
type AmountMismatchError struct {
	TransactionID uuid.UUID
	Expected      decimal.Decimal
	Reported      decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount mismatch on %s: expected %s, provider reported %s",
		e.TransactionID, e.Expected.StringFixed(2), e.Reported.StringFixed(2))
}

// LimitError is an amount outside the configured policy range.
type LimitError struct {
	Operation string
	Min       decimal.Decimal
	Max       decimal.Decimal
}

func (e *LimitError) Error() string {
	if e.Max.IsZero() {
		return fmt.Sprintf("%s amount must be at least %s", e.Operation, e.Min.StringFixed(2))
	}
	return fmt.Sprintf("%s amount must be between %s and %s", e.Operation, e.Min.StringFixed(2), e.Max.StringFixed(2))
}
