package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID            int64           `db:"id" json:"id"`
	Username      string          `db:"username" json:"username"`
	ReferredBy    *int64          `db:"referred_by" json:"referred_by,omitempty"`
	AffiliateOnly bool            `db:"affiliate_only" json:"affiliate_only"`
	Balance       decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}
