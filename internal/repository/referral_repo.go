package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var ErrReferralCycle = errors.New("referrer is already below this user")

// Referral is one direct downline member and what they have earned the referrer so far.
type Referral struct {
	UserID        int64           `json:"user_id"`
	Username      string          `json:"username"`
	AffiliateOnly bool            `json:"affiliate_only"`
	Earned        decimal.Decimal `json:"earned"`
}

type ReferralStats struct {
	Direct      int             `json:"direct"`
	TotalEarned decimal.Decimal `json:"total_earned"`
}

type ReferralRepository struct {
	db *pgxpool.Pool
}

func NewReferralRepository(db *pgxpool.Pool) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// SetReferrer links userID under referrerID once. Links that would close a loop are refused.
func (r *ReferralRepository) SetReferrer(ctx context.Context, userID, referrerID int64) error {
	if userID == referrerID {
		return ErrReferralCycle
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cycle bool
	err = tx.QueryRow(ctx,
		`WITH RECURSIVE up(id) AS (
			SELECT referred_by FROM users WHERE id = $1
			UNION
			SELECT u.referred_by FROM users u JOIN up ON u.id = up.id WHERE u.referred_by IS NOT NULL
		 )
		 SELECT EXISTS(SELECT 1 FROM up WHERE id = $2)`,
		referrerID, userID,
	).Scan(&cycle)
	if err != nil {
		return err
	}
	if cycle {
		return ErrReferralCycle
	}

	tag, err := tx.Exec(ctx,
		`UPDATE users SET referred_by = $1 WHERE id = $2 AND referred_by IS NULL`,
		referrerID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d not found or already referred", userID)
	}
	return tx.Commit(ctx)
}

// Downline lists direct referrals with the commissions each one generated for userID.
func (r *ReferralRepository) Downline(ctx context.Context, userID int64) ([]Referral, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.id, u.username, u.affiliate_only, COALESCE(SUM(le.credit), 0)::text
		 FROM users u
		 LEFT JOIN ledger_entries le
		   ON le.get_balance_from_user_id = u.id AND le.user_id = $1 AND le.reason = 'commission_indication'
		 WHERE u.referred_by = $1
		 GROUP BY u.id, u.username, u.affiliate_only
		 ORDER BY u.id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Referral, error) {
		var (
			ref Referral
			raw string
		)
		if err := row.Scan(&ref.UserID, &ref.Username, &ref.AffiliateOnly, &raw); err != nil {
			return ref, err
		}
		earned, err := parseNumeric(raw)
		ref.Earned = earned
		return ref, err
	})
}

// Stats counts direct referrals and sums every commission credited to userID at any level.
func (r *ReferralRepository) Stats(ctx context.Context, userID int64) (*ReferralStats, error) {
	stats := &ReferralStats{}
	var raw string
	err := r.db.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM users WHERE referred_by = $1),
			(SELECT COALESCE(SUM(credit), 0)::text FROM ledger_entries WHERE user_id = $1 AND reason = 'commission_indication')`,
		userID,
	).Scan(&stats.Direct, &raw)
	if err != nil {
		return nil, err
	}
	stats.TotalEarned, err = parseNumeric(raw)
	return stats, err
}
