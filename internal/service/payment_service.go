package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"payments_core/internal/config"
	"payments_core/internal/domain"
	"payments_core/internal/gateway"
	"payments_core/internal/logger"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentDeps struct {
	Store       store.Store
	Gateways    *gateway.Registry
	Ledger      *LedgerService
	Reconciler  *Reconciler
	Commissions *CommissionService
	Audit       *AuditService
	Alerter     Alerter
	Settings    *config.Settings
	// CallbackBase is the public URL providers post webhooks to, without the /webhooks suffix.
	CallbackBase string
}

// PaymentService starts deposits, withdrawals and purchases. It never settles a provider
// transaction itself; that is the Reconciler's job.
type PaymentService struct {
	store        store.Store
	gateways     *gateway.Registry
	ledger       *LedgerService
	reconciler   *Reconciler
	commissions  *CommissionService
	audit        *AuditService
	alerts       Alerter
	settings     *config.Settings
	callbackBase string
	now          func() time.Time
}

func NewPaymentService(d PaymentDeps) *PaymentService {
	s := &PaymentService{
		store:        d.Store,
		gateways:     d.Gateways,
		ledger:       d.Ledger,
		reconciler:   d.Reconciler,
		commissions:  d.Commissions,
		audit:        d.Audit,
		alerts:       d.Alerter,
		settings:     d.Settings,
		callbackBase: strings.TrimRight(d.CallbackBase, "/"),
		now:          time.Now,
	}
	if s.settings == nil {
		s.settings = config.DefaultSettings()
	}
	if s.alerts == nil {
		s.alerts = LogAlerter{}
	}
	return s
}

func (s *PaymentService) callbackURL(provider string) string {
	return s.callbackBase + "/webhooks/" + provider
}

// alertGateway escalates errors that need a human. Transport errors are left to retries.
func (s *PaymentService) alertGateway(ctx context.Context, op string, t *domain.Transaction, err error) {
	var ae *gateway.AuthError
	var ve *gateway.ValidationError
	switch {
	case errors.As(err, &ae):
		s.alerts.Alert(ctx, fmt.Sprintf("%s credentials rejected during %s: %v", t.Provider, op, err))
	case errors.As(err, &ve), op == "cash_out":
		s.alerts.Alert(ctx, fmt.Sprintf("%s %s for %s needs review: %v", t.Provider, op, t.ID, err))
	}
}

type DepositRequest struct {
	UserID   int64
	Provider string
	Amount   decimal.Decimal
	Payer    gateway.Payer
}

// RequestDeposit records a pending deposit and asks the provider for a payment code. A provider
// failure leaves the deposit pending without a provider id; it expires later.
func (s *PaymentService) RequestDeposit(ctx context.Context, req DepositRequest) (*domain.Transaction, error) {
	limits := s.settings.Deposit
	if !req.Amount.IsPositive() || !limits.Allows(req.Amount) {
		return nil, &LimitError{Operation: "deposit", Min: limits.Min, Max: limits.Max}
	}
	adapter, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.User(ctx, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	t := &domain.Transaction{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Kind:     domain.KindDeposit,
		Provider: req.Provider,
		Amount:   req.Amount.Round(2),
		Currency: s.settings.Currency,
		Status:   domain.StatusPending,
	}
	if err := s.store.InTx(ctx, func(tx store.Tx) error { return tx.InsertTransaction(ctx, t) }); err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	log := logger.FromContext(ctx).With("transaction_id", t.ID, "user_id", t.UserID, "provider", t.Provider)

	res, err := adapter.CashIn(ctx, gateway.CashInRequest{
		Reference:   t.ID.String(),
		Amount:      t.Amount,
		Currency:    t.Currency,
		Payer:       req.Payer,
		CallbackURL: s.callbackURL(t.Provider),
	})
	if err != nil {
		log.Warn("cash-in request failed, deposit left pending", "error", err)
		s.alertGateway(ctx, "cash_in", t, err)
		return t, err
	}

	if err := s.store.AttachExternalID(ctx, t.ID, res.ProviderTransactionID, res.PaymentCode); err != nil {
		return t, fmt.Errorf("attach provider id: %w", err)
	}
	t.ExternalID = res.ProviderTransactionID
	t.PaymentCode = res.PaymentCode

	log.Info("deposit requested", "amount", t.Amount.String(), "provider_transaction_id", t.ExternalID)
	s.audit.LogDepositRequest(ctx, t)
	return t, nil
}

type WithdrawalRequest struct {
	UserID    int64
	Provider  string
	Amount    decimal.Decimal
	PayeeKey  string
	PayeeName string
}

// RequestWithdrawal debits the balance up front and records a pending withdrawal.
func (s *PaymentService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*domain.Transaction, error) {
	policy := s.settings.Withdrawal
	if !req.Amount.IsPositive() || !policy.Allows(req.Amount) {
		return nil, &LimitError{Operation: "withdrawal", Min: policy.Min, Max: policy.Max}
	}
	if !policy.Window.Allows(s.now()) {
		return nil, ErrOutsideWithdrawWindow
	}
	adapter, err := s.gateways.Get(req.Provider)
	if err != nil {
		return nil, err
	}
	if v, ok := adapter.(gateway.PayeeValidator); ok {
		if err := v.ValidatePayee(req.PayeeKey); err != nil {
			return nil, err
		}
	}

	amount := req.Amount.Round(2)
	t := &domain.Transaction{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Kind:     domain.KindWithdrawal,
		Provider: req.Provider,
		Amount:   amount,
		Currency: s.settings.Currency,
		Status:   domain.StatusPending,
		PayeeKey: strings.TrimSpace(req.PayeeKey),
		Meta:     map[string]interface{}{"payee_name": req.PayeeName},
	}
	var bal decimal.Decimal
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockUser(ctx, req.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := tx.InsertTransaction(ctx, t); err != nil {
			return err
		}
		var err error
		if bal, err = tx.AdjustBalance(ctx, req.UserID, amount.Neg()); err != nil {
			return err
		}
		return tx.AppendEntry(ctx, &domain.LedgerEntry{
			TransactionID: t.ID,
			UserID:        req.UserID,
			Reason:        domain.ReasonWithdrawal,
			Credit:        decimal.Zero,
			Debit:         amount,
			BalanceAfter:  bal,
		})
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("withdrawal requested", "transaction_id", t.ID, "user_id", t.UserID, "amount", amount.String())
	s.ledger.balanceChanged(ctx, t.UserID, amount.Neg(), bal)
	s.audit.LogWithdrawRequest(ctx, t)

	if policy.AutoDispatch {
		if _, err := s.DispatchWithdrawal(ctx, t.ID); err != nil {
			logger.FromContext(ctx).Warn("auto dispatch failed", "transaction_id", t.ID, "error", err)
		}
	}
	return t, nil
}

// DispatchWithdrawal sends a pending withdrawal to its provider at most once. A lost response
// leaves it pending for the webhook or an operator.
func (s *PaymentService) DispatchWithdrawal(ctx context.Context, id uuid.UUID) (Outcome, error) {
	t, err := s.store.TransactionByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnknownTransaction
	}
	if err != nil {
		return "", err
	}
	if t.Kind != domain.KindWithdrawal {
		return "", fmt.Errorf("%w: %s cannot be dispatched", ErrNotReconcilable, t.Kind)
	}
	if t.Status.Terminal() {
		return OutcomeAlreadyReconciled, nil
	}
	adapter, err := s.gateways.Get(t.Provider)
	if err != nil {
		return "", err
	}

	claimed, err := s.store.ClaimDispatch(ctx, id)
	if err != nil {
		return "", err
	}
	if !claimed {
		return OutcomeAlreadyProcessing, nil
	}
	log := logger.FromContext(ctx).With("transaction_id", t.ID, "user_id", t.UserID, "provider", t.Provider)

	payeeName, _ := t.Meta["payee_name"].(string)
	res, err := adapter.CashOut(ctx, gateway.CashOutRequest{
		Reference:   t.ID.String(),
		Amount:      t.Amount,
		Currency:    t.Currency,
		PayeeKey:    t.PayeeKey,
		PayeeName:   payeeName,
		CallbackURL: s.callbackURL(t.Provider),
	})
	if err != nil {
		var ipk *gateway.InvalidPayeeKeyError
		if errors.As(err, &ipk) {
			log.Warn("payee key rejected, refunding withdrawal", "error", err)
			outcome, _, cerr := s.reconciler.transition(ctx, "dispatch", t.ID, domain.StatusCanceled, nil)
			if cerr != nil {
				return "", cerr
			}
			s.audit.LogWithdraw(ctx, domain.AuditActionWithdrawCancel, t, map[string]interface{}{"reason": ipk.Reason})
			return outcome, nil
		}
		log.Error("cash-out failed, withdrawal left pending", "error", err)
		s.alertGateway(ctx, "cash_out", t, err)
		return OutcomeStillPending, err
	}

	if err := s.store.AttachExternalID(ctx, t.ID, res.ProviderTransactionID, ""); err != nil {
		log.Error("could not attach provider id", "provider_transaction_id", res.ProviderTransactionID, "error", err)
	}
	s.audit.LogWithdraw(ctx, domain.AuditActionWithdrawDispatch, t, map[string]interface{}{
		"provider_transaction_id": res.ProviderTransactionID,
	})
	log.Info("withdrawal dispatched", "provider_transaction_id", res.ProviderTransactionID, "gateway_status", res.Status)

	if res.Status == domain.GatewayPending || res.Status == "" {
		return OutcomeStillPending, nil
	}
	// the provider answered with a final status synchronously
	return s.reconciler.reconcile(ctx, "dispatch", &domain.WebhookEvent{
		Provider:              t.Provider,
		ProviderTransactionID: res.ProviderTransactionID,
		Reference:             t.ID.String(),
		Status:                res.Status,
		Amount:                t.Amount,
	})
}

func (s *PaymentService) CancelWithdrawal(ctx context.Context, userID int64, id uuid.UUID) (Outcome, error) {
	return s.reconciler.Cancel(ctx, id, userID)
}

// Purchase pays for an item from the balance. The user's first payment pays commissions.
func (s *PaymentService) Purchase(ctx context.Context, userID int64, amount decimal.Decimal, item string) (*domain.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	amount = amount.Round(2)

	var (
		t     *domain.Transaction
		bal   decimal.Decimal
		first bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		t, bal, err = s.ledger.PostWithTx(ctx, tx, Posting{
			UserID: userID,
			Kind:   domain.KindPurchase,
			Reason: domain.ReasonPurchase,
			Amount: amount.Neg(),
			Meta:   map[string]interface{}{"item": item},
		})
		if err != nil {
			return err
		}
		first, err = firstPayment(ctx, tx, t)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.ledger.balanceChanged(ctx, userID, amount.Neg(), bal)
	s.audit.Log(ctx, userID, domain.AuditActionPurchase, domain.AuditCategoryPayment, map[string]interface{}{
		"transaction_id": t.ID.String(),
		"amount":         amount.String(),
		"item":           item,
	})

	if first && s.commissions != nil {
		if _, err := s.commissions.Distribute(ctx, userID, amount, t.ID); err != nil {
			logger.FromContext(ctx).Error("commission fan-out failed", "transaction_id", t.ID, "error", err)
			s.audit.LogCommissionFailure(ctx, t, err)
			s.alerts.Alert(ctx, fmt.Sprintf("commission fan-out failed for purchase %s: %v", t.ID, err))
		}
	}
	return t, nil
}

// Adjust is an operator credit or debit with a mandatory note.
func (s *PaymentService) Adjust(ctx context.Context, adminID, userID int64, amount decimal.Decimal, note string) (*domain.Transaction, decimal.Decimal, error) {
	if strings.TrimSpace(note) == "" {
		return nil, decimal.Zero, errors.New("adjustment note is required")
	}
	t, bal, err := s.ledger.Post(ctx, Posting{
		UserID: userID,
		Kind:   domain.KindAdjustment,
		Reason: domain.ReasonManualAdjustment,
		Amount: amount.Round(2),
		Meta:   map[string]interface{}{"note": note, "admin_id": adminID},
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	s.audit.LogAdminAction(ctx, adminID, domain.AuditActionAdjustment, userID, map[string]interface{}{
		"transaction_id": t.ID.String(),
		"amount":         amount.String(),
		"note":           note,
	})
	return t, bal, nil
}
