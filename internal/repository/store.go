package repository

import (
	"context"
	"encoding/json"
	"time"

	"payments_core/internal/domain"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the Postgres implementation of store.Store.
type Store struct {
	db           *pgxpool.Pool
	transactions *TransactionRepository
	users        *UserRepository
	ledger       *LedgerRepository
}

var _ store.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:           db,
		transactions: NewTransactionRepository(db),
		users:        NewUserRepository(db),
		ledger:       NewLedgerRepository(db),
	}
}

// InTx runs fn inside a read-committed transaction. Row locks taken through Tx are held until commit.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx, s: s}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) TransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

func (s *Store) TransactionByExternalID(ctx context.Context, provider, externalID string) (*domain.Transaction, error) {
	return s.transactions.GetByExternalID(ctx, provider, externalID)
}

func (s *Store) AttachExternalID(ctx context.Context, id uuid.UUID, externalID, paymentCode string) error {
	return s.transactions.AttachExternalID(ctx, id, externalID, paymentCode)
}

func (s *Store) ClaimDispatch(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.transactions.ClaimDispatch(ctx, id)
}

func (s *Store) PendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	return s.transactions.ListPending(ctx, olderThan, limit)
}

func (s *Store) UserTransactions(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	return s.transactions.GetByUserID(ctx, userID, limit)
}

func (s *Store) User(ctx context.Context, id int64) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Store) Referrer(ctx context.Context, userID int64) (*domain.User, error) {
	return s.users.GetReferrer(ctx, userID)
}

func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	return s.users.ListIDs(ctx)
}

func (s *Store) UserEntries(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	return s.ledger.GetByUserID(ctx, userID, limit)
}

func (s *Store) LedgerTotals(ctx context.Context, userID int64) (decimal.Decimal, decimal.Decimal, error) {
	return s.ledger.Totals(ctx, userID)
}

type pgTx struct {
	tx pgx.Tx
	s  *Store
}

func (t *pgTx) LockTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return t.s.transactions.LockWithTx(ctx, t.tx, id)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	return t.s.transactions.CreateWithTx(ctx, t.tx, tr)
}

func (t *pgTx) SettleTransaction(ctx context.Context, id uuid.UUID, status domain.Status, externalID string, settled *decimal.Decimal, payload json.RawMessage) error {
	return t.s.transactions.SettleWithTx(ctx, t.tx, id, status, externalID, settled, payload)
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (*domain.User, error) {
	return t.s.users.LockWithTx(ctx, t.tx, userID)
}

func (t *pgTx) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	return t.s.users.AdjustBalanceWithTx(ctx, t.tx, userID, delta)
}

func (t *pgTx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	return t.s.ledger.CreateWithTx(ctx, t.tx, e)
}

func (t *pgTx) EntryExists(ctx context.Context, sourceTransactionID uuid.UUID, step int) (bool, error) {
	return t.s.ledger.ExistsWithTx(ctx, t.tx, sourceTransactionID, step)
}

func (t *pgTx) HasApproved(ctx context.Context, userID int64, kind domain.Kind, excluding uuid.UUID) (bool, error) {
	return t.s.transactions.HasApprovedWithTx(ctx, t.tx, userID, kind, excluding)
}
