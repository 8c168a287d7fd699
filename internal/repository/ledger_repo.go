package repository

import (
	"context"

	"payments_core/internal/domain"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerRepository only ever inserts: ledger rows are immutable.
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	err := tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (transaction_id, user_id, reason, credit, debit, balance_after,
		                             step, get_balance_from_user_id, source_transaction_id)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8, $9)
		 RETURNING id, created_at`,
		e.TransactionID, e.UserID, string(e.Reason), e.Credit.String(), e.Debit.String(), e.BalanceAfter.String(),
		e.Step, e.FromUserID, e.SourceTransactionID,
	).Scan(&e.ID, &e.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicateEntry
	}
	return err
}

func (r *LedgerRepository) ExistsWithTx(ctx context.Context, tx pgx.Tx, sourceTransactionID uuid.UUID, step int) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE source_transaction_id = $1 AND step = $2)`,
		sourceTransactionID, step,
	).Scan(&exists)
	return exists, err
}

// Totals returns the sum of credits and debits for a user.
func (r *LedgerRepository) Totals(ctx context.Context, userID int64) (credit, debit decimal.Decimal, err error) {
	var c, d string
	err = r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(credit), 0)::text, COALESCE(SUM(debit), 0)::text
		 FROM ledger_entries WHERE user_id = $1`,
		userID,
	).Scan(&c, &d)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if credit, err = parseNumeric(c); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	debit, err = parseNumeric(d)
	return credit, debit, err
}

// GetByUserID returns the newest entries first.
func (r *LedgerRepository) GetByUserID(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, transaction_id, user_id, reason, credit::text, debit::text, balance_after::text,
		        step, get_balance_from_user_id, source_transaction_id, created_at
		 FROM ledger_entries
		 WHERE user_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.LedgerEntry
	for rows.Next() {
		var (
			e                    domain.LedgerEntry
			reason               string
			credit, debit, after string
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.UserID, &reason, &credit, &debit, &after,
			&e.Step, &e.FromUserID, &e.SourceTransactionID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = domain.Reason(reason)
		if e.Credit, err = parseNumeric(credit); err != nil {
			return nil, err
		}
		if e.Debit, err = parseNumeric(debit); err != nil {
			return nil, err
		}
		if e.BalanceAfter, err = parseNumeric(after); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}
