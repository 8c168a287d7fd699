package service

import (
	"context"

	"payments_core/internal/domain"
	"payments_core/internal/logger"

	"github.com/shopspring/decimal"
)

// AuditService handles audit logging. Write failures are logged and never fail the caller.
type AuditService struct {
	repo AuditWriter
}

// NewAuditService creates a new audit service. A nil writer makes every call a no-op.
func NewAuditService(repo AuditWriter) *AuditService {
	return &AuditService{repo: repo}
}

// Log creates a new audit log entry
func (s *AuditService) Log(ctx context.Context, userID int64, action, category string, details map[string]interface{}) {
	if s == nil || s.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		UserID:   userID,
		Action:   action,
		Category: category,
		Details:  details,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		logger.FromContext(ctx).Error("failed to create audit log", "error", err, "action", action, "user_id", userID)
	}
}

func (s *AuditService) LogDepositRequest(ctx context.Context, t *domain.Transaction) {
	s.Log(ctx, t.UserID, domain.AuditActionDepositRequest, domain.AuditCategoryPayment, map[string]interface{}{
		"transaction_id": t.ID.String(),
		"provider":       t.Provider,
		"amount":         t.Amount.String(),
	})
}

func (s *AuditService) LogWithdrawRequest(ctx context.Context, t *domain.Transaction) {
	s.Log(ctx, t.UserID, domain.AuditActionWithdrawRequest, domain.AuditCategoryWithdrawal, map[string]interface{}{
		"transaction_id": t.ID.String(),
		"provider":       t.Provider,
		"amount":         t.Amount.String(),
		"payee_key":      t.PayeeKey,
	})
}

func (s *AuditService) LogWithdraw(ctx context.Context, action string, t *domain.Transaction, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["transaction_id"] = t.ID.String()
	details["amount"] = t.Amount.String()
	s.Log(ctx, t.UserID, action, domain.AuditCategoryWithdrawal, details)
}

// LogAdminAction logs an admin action
func (s *AuditService) LogAdminAction(ctx context.Context, adminID int64, action string, targetUserID int64, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["admin_id"] = adminID
	details["target_user_id"] = targetUserID

	s.Log(ctx, targetUserID, action, domain.AuditCategoryAdmin, details)
}

func (s *AuditService) LogAmountMismatch(ctx context.Context, t *domain.Transaction, reported decimal.Decimal, raw []byte) {
	s.Log(ctx, t.UserID, domain.AuditActionAmountMismatch, domain.AuditCategoryPayment, map[string]interface{}{
		"transaction_id": t.ID.String(),
		"expected":       t.Amount.String(),
		"reported":       reported.String(),
		"payload":        string(raw),
	})
}

func (s *AuditService) LogCommissionFailure(ctx context.Context, t *domain.Transaction, err error) {
	s.Log(ctx, t.UserID, domain.AuditActionCommissionFailed, domain.AuditCategoryCommission, map[string]interface{}{
		"source_transaction_id": t.ID.String(),
		"amount":                t.Effective().String(),
		"error":                 err.Error(),
	})
}
