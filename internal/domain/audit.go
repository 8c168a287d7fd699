package domain

import "time"

// AuditLog is one append-only record of a money-affecting request or operator decision.
// UserID is the affected account; operator ids travel in Details.
type AuditLog struct {
	ID        int64                  `db:"id" json:"id"`
	UserID    int64                  `db:"user_id" json:"user_id"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	IP        string                 `db:"ip" json:"ip,omitempty"`
	UserAgent string                 `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

const (
	AuditCategoryPayment    = "payment"
	AuditCategoryWithdrawal = "withdrawal"
	AuditCategoryBalance    = "balance"
	AuditCategoryAdmin      = "admin"
	AuditCategoryCommission = "commission"
)

const (
	AuditActionDepositRequest   = "deposit_request"
	AuditActionWithdrawRequest  = "withdraw_request"
	AuditActionWithdrawCancel   = "withdraw_cancel"
	AuditActionWithdrawDispatch = "withdraw_dispatch"
	AuditActionPurchase         = "purchase"

	AuditActionManualApprove = "manual_approve"
	AuditActionManualReject  = "manual_reject"
	AuditActionAdjustment    = "manual_adjustment"

	AuditActionAmountMismatch     = "amount_mismatch"
	AuditActionRefundAfterApprove = "refund_after_approve"
	AuditActionCommissionFailed   = "commission_failed"
)
