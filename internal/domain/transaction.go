package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the direction of a transaction.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindPurchase   Kind = "purchase"
	KindYield      Kind = "yield"
	KindCommission Kind = "commission"
	KindAdjustment Kind = "adjustment"
)

// Status of a transaction. Processing is never stored: it is a held lock on a pending row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusCanceled Status = "canceled"
)

// Terminal statuses are write-once.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCanceled
}

// Transaction is an outbound intent or a posted money movement.
type Transaction struct {
	ID            uuid.UUID              `db:"id" json:"id"`
	UserID        int64                  `db:"user_id" json:"user_id"`
	Kind          Kind                   `db:"direction" json:"direction"`
	Provider      string                 `db:"provider" json:"provider,omitempty"`
	ExternalID    string                 `db:"external_transaction_id" json:"external_transaction_id,omitempty"`
	Amount        decimal.Decimal        `db:"amount" json:"amount"`
	SettledAmount *decimal.Decimal       `db:"settled_amount" json:"settled_amount,omitempty"`
	Currency      string                 `db:"currency" json:"currency"`
	Status        Status                 `db:"status" json:"status"`
	PaymentCode   string                 `db:"payment_code" json:"payment_code,omitempty"`
	PayeeKey      string                 `db:"payee_key" json:"payee_key,omitempty"`
	RawPayload    json.RawMessage        `db:"raw_external_payload" json:"-"`
	Meta          map[string]interface{} `db:"meta" json:"meta,omitempty"`
	CreatedAt     time.Time              `db:"created_at" json:"created_at"`
	DispatchedAt  *time.Time             `db:"dispatched_at" json:"dispatched_at,omitempty"`
	SettledAt     *time.Time             `db:"settled_at" json:"settled_at,omitempty"`
}

// Effective is the amount that moved: the provider-reported amount when one was
// recorded at settlement, otherwise the requested amount.
func (t *Transaction) Effective() decimal.Decimal {
	if t.SettledAmount != nil {
		return *t.SettledAmount
	}
	return t.Amount
}

// LockKey is the idempotency key component for this transaction.
func (t *Transaction) LockKey() string {
	if t.ExternalID != "" {
		return t.ExternalID
	}
	return t.ID.String()
}
