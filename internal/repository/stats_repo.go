package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// KindVolume is the count and sum of one transaction kind in one status.
type KindVolume struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// PlatformStats is the operator dashboard summary.
type PlatformStats struct {
	TotalUsers     int64                 `json:"total_users"`
	TotalBalance   decimal.Decimal       `json:"total_balance"`
	Pending        map[string]KindVolume `json:"pending"`
	ApprovedToday  map[string]KindVolume `json:"approved_today"`
	ApprovedTotal  map[string]KindVolume `json:"approved_total"`
	OldestPending  *time.Time            `json:"oldest_pending,omitempty"`
	CommissionPaid decimal.Decimal       `json:"commission_paid"`
}

type StatsRepository struct {
	db *pgxpool.Pool
}

func NewStatsRepository(db *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: db}
}

func (r *StatsRepository) Platform(ctx context.Context) (*PlatformStats, error) {
	stats := &PlatformStats{}
	today := time.Now().UTC().Truncate(24 * time.Hour)

	var balance, commission string
	err := r.db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COALESCE(SUM(balance), 0)::text FROM users),
			(SELECT COALESCE(SUM(credit), 0)::text FROM ledger_entries WHERE reason = 'commission_indication'),
			(SELECT MIN(created_at) FROM transactions WHERE status = 'pending')
	`).Scan(&stats.TotalUsers, &balance, &commission, &stats.OldestPending)
	if err != nil {
		return nil, err
	}
	if stats.TotalBalance, err = parseNumeric(balance); err != nil {
		return nil, err
	}
	if stats.CommissionPaid, err = parseNumeric(commission); err != nil {
		return nil, err
	}

	if stats.Pending, err = r.volumes(ctx, `status = 'pending'`); err != nil {
		return nil, err
	}
	if stats.ApprovedToday, err = r.volumes(ctx, `status = 'approved' AND settled_at >= $1`, today); err != nil {
		return nil, err
	}
	if stats.ApprovedTotal, err = r.volumes(ctx, `status = 'approved'`); err != nil {
		return nil, err
	}
	return stats, nil
}

func (r *StatsRepository) volumes(ctx context.Context, where string, args ...any) (map[string]KindVolume, error) {
	rows, err := r.db.Query(ctx,
		`SELECT direction, COUNT(*), COALESCE(SUM(amount), 0)::text FROM transactions WHERE `+where+` GROUP BY direction`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]KindVolume)
	for rows.Next() {
		var (
			kind string
			v    KindVolume
			raw  string
		)
		if err := rows.Scan(&kind, &v.Count, &raw); err != nil {
			return nil, err
		}
		if v.Amount, err = parseNumeric(raw); err != nil {
			return nil, err
		}
		out[kind] = v
	}
	return out, rows.Err()
}
