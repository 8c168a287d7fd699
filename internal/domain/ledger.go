package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reason tags a ledger entry.
type Reason string

const (
	ReasonDeposit              Reason = "deposit"
	ReasonWithdrawal           Reason = "withdrawal"
	ReasonWithdrawalConfirmed  Reason = "withdrawal_confirmed"
	ReasonWithdrawalRefund     Reason = "withdrawal_refund"
	ReasonPurchase             Reason = "purchase"
	ReasonDailyIncome          Reason = "daily_income"
	ReasonCommission           Reason = "commission"
	ReasonCommissionIndication Reason = "commission_indication"
	ReasonCheckin              Reason = "checkin"
	ReasonManualAdjustment     Reason = "manual_adjustment"
)

// LedgerEntry is immutable once written.
type LedgerEntry struct {
	ID                  int64           `db:"id" json:"id"`
	TransactionID       uuid.UUID       `db:"transaction_id" json:"transaction_id"`
	UserID              int64           `db:"user_id" json:"user_id"`
	Reason              Reason          `db:"reason" json:"reason"`
	Credit              decimal.Decimal `db:"credit" json:"credit"`
	Debit               decimal.Decimal `db:"debit" json:"debit"`
	BalanceAfter        decimal.Decimal `db:"balance_after" json:"balance_after"`
	Step                int             `db:"step" json:"step,omitempty"`
	FromUserID          *int64          `db:"get_balance_from_user_id" json:"get_balance_from_user_id,omitempty"`
	SourceTransactionID *uuid.UUID      `db:"source_transaction_id" json:"source_transaction_id,omitempty"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
}

// Net is credit minus debit.
func (e *LedgerEntry) Net() decimal.Decimal {
	return e.Credit.Sub(e.Debit)
}
