package repository

import (
	"context"
	"errors"

	"payments_core/internal/domain"
	"payments_core/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const userColumns = `id, username, referred_by, affiliate_only, balance::text, created_at`

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO users (username, referred_by, affiliate_only)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		u.Username, u.ReferredBy, u.AffiliateOnly,
	).Scan(&u.ID, &u.CreatedAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetReferrer follows users.referred_by one level up.
func (r *UserRepository) GetReferrer(ctx context.Context, userID int64) (*domain.User, error) {
	return scanUser(r.db.QueryRow(ctx,
		`SELECT u.id, u.username, u.referred_by, u.affiliate_only, u.balance::text, u.created_at
		 FROM users child
		 JOIN users u ON u.id = child.referred_by
		 WHERE child.id = $1`,
		userID,
	))
}

func (r *UserRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *UserRepository) LockWithTx(ctx context.Context, tx pgx.Tx, userID int64) (*domain.User, error) {
	return scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, userID))
}

// AdjustBalanceWithTx applies delta and refuses to go below zero.
func (r *UserRepository) AdjustBalanceWithTx(ctx context.Context, tx pgx.Tx, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var raw string
	err := tx.QueryRow(ctx,
		`UPDATE users SET balance = balance + $1::numeric
		 WHERE id = $2 AND balance + $1::numeric >= 0
		 RETURNING balance::text`,
		delta.String(), userID,
	).Scan(&raw)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Could be not found or insufficient funds, check which
			var exists bool
			_ = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
			if !exists {
				return decimal.Zero, store.ErrNotFound
			}
			return decimal.Zero, store.ErrInsufficientFunds
		}
		if isCheckViolation(err) {
			return decimal.Zero, store.ErrInsufficientFunds
		}
		return decimal.Zero, err
	}
	return parseNumeric(raw)
}

// RebuildBalance recomputes the stored balance from the ledger and returns old and new values.
func (r *UserRepository) RebuildBalance(ctx context.Context, userID int64, apply bool) (before, after decimal.Decimal, err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := r.LockWithTx(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	var raw string
	err = tx.QueryRow(ctx,
		`SELECT (COALESCE(SUM(credit), 0) - COALESCE(SUM(debit), 0))::text FROM ledger_entries WHERE user_id = $1`,
		userID,
	).Scan(&raw)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if after, err = parseNumeric(raw); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !apply || after.Equal(u.Balance) {
		return u.Balance, after, nil
	}

	if _, err = tx.Exec(ctx, `UPDATE users SET balance = $1::numeric WHERE id = $2`, after.String(), userID); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return u.Balance, after, tx.Commit(ctx)
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var (
		u       domain.User
		balance string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.ReferredBy, &u.AffiliateOnly, &balance, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	d, err := parseNumeric(balance)
	if err != nil {
		return nil, err
	}
	u.Balance = d
	return &u, nil
}
