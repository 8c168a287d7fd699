// Package store declares the persistence contract used by the payment services.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"payments_core/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateEntry    = errors.New("duplicate ledger entry")
	ErrNotPending        = errors.New("transaction is not pending")
)

// Tx is one atomic unit of work. Everything written through it commits or rolls back together.
type Tx interface {
	// LockTransaction loads a transaction row and holds a row lock until the end of the unit.
	LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	// SettleTransaction moves a pending row to a terminal status. externalID is stored only if the row has none;
	// settled, when non-nil, records the amount actually moved.
	SettleTransaction(ctx context.Context, id uuid.UUID, status domain.Status, externalID string, settled *decimal.Decimal, payload json.RawMessage) error

	// LockUser loads a user and holds a row lock on the balance.
	LockUser(ctx context.Context, userID int64) (*domain.User, error)
	// AdjustBalance adds delta and returns the new balance. It fails with ErrInsufficientFunds
	// instead of going below zero.
	AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error)

	AppendEntry(ctx context.Context, e *domain.LedgerEntry) error
	// EntryExists reports whether a fan-out entry for (source, step) was already written.
	EntryExists(ctx context.Context, sourceTransactionID uuid.UUID, step int) (bool, error)
	// HasApproved reports whether the user has another approved transaction of this kind.
	HasApproved(ctx context.Context, userID int64, kind domain.Kind, excluding uuid.UUID) (bool, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	TransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	TransactionByExternalID(ctx context.Context, provider, externalID string) (*domain.Transaction, error)
	AttachExternalID(ctx context.Context, id uuid.UUID, externalID, paymentCode string) error
	// ClaimDispatch marks a pending withdrawal as sent to the provider. It returns false when
	// someone else already claimed it.
	ClaimDispatch(ctx context.Context, id uuid.UUID) (bool, error)
	PendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error)
	UserTransactions(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error)

	User(ctx context.Context, id int64) (*domain.User, error)
	// Referrer returns the direct upline of userID, or ErrNotFound.
	Referrer(ctx context.Context, userID int64) (*domain.User, error)
	UserIDs(ctx context.Context) ([]int64, error)

	UserEntries(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error)
	LedgerTotals(ctx context.Context, userID int64) (credit, debit decimal.Decimal, err error)
}
