package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"payments_core/internal/domain"
	"payments_core/internal/lock"
	"payments_core/internal/logger"
	"payments_core/internal/notify"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is the result of a reconciliation attempt. None of them is an error.
type Outcome string

const (
	OutcomeApproved          Outcome = "approved"
	OutcomeRejected          Outcome = "rejected"
	OutcomeCanceled          Outcome = "canceled"
	OutcomeAlreadyReconciled Outcome = "already_reconciled"
	OutcomeAlreadyProcessing Outcome = "already_processing"
	OutcomeStillPending      Outcome = "still_pending"
)

type ReconcilerDeps struct {
	Store       store.Store
	Locker      Locker
	Commissions *CommissionService
	Publisher   notify.Publisher
	Audit       *AuditService
	Alerter     Alerter
	LockTTL     time.Duration
	Tolerance   decimal.Decimal
}

// Reconciler applies provider outcomes and operator decisions to pending transactions exactly once.
// "Processing" is never stored: it is the distributed lock held over a pending row.
type Reconciler struct {
	store       store.Store
	locker      Locker
	commissions *CommissionService
	pub         notify.Publisher
	audit       *AuditService
	alerts      Alerter
	lockTTL     time.Duration
	tolerance   decimal.Decimal
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	r := &Reconciler{
		store:       d.Store,
		locker:      d.Locker,
		commissions: d.Commissions,
		pub:         d.Publisher,
		audit:       d.Audit,
		alerts:      d.Alerter,
		lockTTL:     d.LockTTL,
		tolerance:   d.Tolerance,
	}
	if r.pub == nil {
		r.pub = notify.Nop{}
	}
	if r.alerts == nil {
		r.alerts = LogAlerter{}
	}
	if r.lockTTL <= 0 {
		r.lockTTL = lock.DefaultTTL
	}
	return r
}

// settlement is what one atomic status transition did.
type settlement struct {
	txn          *domain.Transaction
	outcome      Outcome
	balance      decimal.Decimal
	delta        decimal.Decimal
	firstPayment bool
}

// Reconcile applies a normalized provider event.
func (r *Reconciler) Reconcile(ctx context.Context, ev *domain.WebhookEvent) (Outcome, error) {
	return r.reconcile(ctx, "webhook", ev)
}

func (r *Reconciler) reconcile(ctx context.Context, source string, ev *domain.WebhookEvent) (Outcome, error) {
	log := logger.FromContext(ctx).With(
		"provider", ev.Provider,
		"provider_transaction_id", ev.ProviderTransactionID,
		"gateway_status", ev.Status,
	)
	if ev.ProviderTransactionID == "" {
		return "", ErrUnknownTransaction
	}

	key := lock.TransactionKey(ev.ProviderTransactionID)
	token, ok, err := r.locker.TryAcquire(ctx, key, r.lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !ok {
		log.Info("transaction already being processed")
		reconcileTotal.WithLabelValues(source, string(OutcomeAlreadyProcessing)).Inc()
		return OutcomeAlreadyProcessing, nil
	}
	held := true
	release := func() {
		if held {
			held = false
			r.release(ctx, log, key, token)
		}
	}
	defer release()

	t, err := r.find(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrUnknownTransaction) {
			log.Warn("webhook for unknown transaction", "reference", ev.Reference)
		}
		return "", err
	}
	log = log.With("transaction_id", t.ID, "user_id", t.UserID)

	if t.Status.Terminal() {
		r.terminalEvent(ctx, log, t, ev)
		reconcileTotal.WithLabelValues(source, string(OutcomeAlreadyReconciled)).Inc()
		return OutcomeAlreadyReconciled, nil
	}
	if ev.Status == domain.GatewayPending {
		reconcileTotal.WithLabelValues(source, string(OutcomeStillPending)).Inc()
		return OutcomeStillPending, nil
	}

	if err := r.checkAmount(t, ev); err != nil {
		log.Error("amount mismatch, holding for review", "expected", t.Amount.String(), "reported", ev.Amount.String(), "payload", string(ev.Raw))
		r.audit.LogAmountMismatch(ctx, t, ev.Amount, ev.Raw)
		r.alerts.Alert(ctx, err.Error())
		reconcileTotal.WithLabelValues(source, "amount_mismatch").Inc()
		return "", err
	}

	target := domain.StatusRejected
	var reported *decimal.Decimal
	if ev.Status == domain.GatewayCompleted {
		target = domain.StatusApproved
		reported = &ev.Amount
	}
	s, err := r.settle(ctx, t.ID, target, ev.ProviderTransactionID, reported, ev.Raw, nil)
	if err != nil {
		return "", err
	}
	release()

	log.Info("transaction reconciled", "outcome", s.outcome)
	reconcileTotal.WithLabelValues(source, string(s.outcome)).Inc()
	r.after(ctx, s)
	return s.outcome, nil
}

func (r *Reconciler) release(ctx context.Context, log *slog.Logger, key, token string) {
	// the caller's context may already be canceled; the lock must still go
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := r.locker.Release(ctx, key, token); err != nil {
		log.Warn("lock release failed, it will expire", "key", key, "error", err)
	}
}

// find looks up by provider transaction id, then by the reference we sent at cash-in.
func (r *Reconciler) find(ctx context.Context, ev *domain.WebhookEvent) (*domain.Transaction, error) {
	t, err := r.store.TransactionByExternalID(ctx, ev.Provider, ev.ProviderTransactionID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	id, perr := uuid.Parse(ev.Reference)
	if perr != nil {
		return nil, ErrUnknownTransaction
	}
	t, err = r.store.TransactionByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownTransaction
	}
	if err != nil {
		return nil, err
	}
	if t.Provider != ev.Provider || (t.ExternalID != "" && t.ExternalID != ev.ProviderTransactionID) {
		return nil, ErrUnknownTransaction
	}
	return t, nil
}

// Completed events must report the expected amount. Failure events are checked only when they carry one.
func (r *Reconciler) checkAmount(t *domain.Transaction, ev *domain.WebhookEvent) error {
	if ev.Status != domain.GatewayCompleted && ev.Amount.IsZero() {
		return nil
	}
	if ev.Amount.Sub(t.Amount).Abs().GreaterThan(r.tolerance) {
		return &AmountMismatchError{TransactionID: t.ID, Expected: t.Amount, Reported: ev.Amount}
	}
	return nil
}

func (r *Reconciler) terminalEvent(ctx context.Context, log *slog.Logger, t *domain.Transaction, ev *domain.WebhookEvent) {
	if t.Status == domain.StatusApproved && ev.Status == domain.GatewayRefunded {
		log.Error("provider refunded an approved transaction")
		r.audit.Log(ctx, t.UserID, domain.AuditActionRefundAfterApprove, domain.AuditCategoryPayment, map[string]interface{}{
			"transaction_id": t.ID.String(),
			"provider":       ev.Provider,
			"amount":         t.Effective().String(),
		})
		r.alerts.Alert(ctx, fmt.Sprintf("%s refunded approved %s %s (%s) for user %d", ev.Provider, t.Kind, t.ID, t.Effective().StringFixed(2), t.UserID))
		return
	}
	log.Debug("duplicate delivery for settled transaction", "status", t.Status)
}

// settle runs the one atomic status transition. guard, when set, may veto it under the row lock
// before the terminal check. An approved deposit credits reported when the provider gave one,
// and the stored amount otherwise.
func (r *Reconciler) settle(ctx context.Context, id uuid.UUID, target domain.Status, externalID string, reported *decimal.Decimal, payload json.RawMessage, guard func(*domain.Transaction) error) (*settlement, error) {
	var s settlement
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		s = settlement{}
		t, err := tx.LockTransaction(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUnknownTransaction
			}
			return err
		}
		if guard != nil {
			if err := guard(t); err != nil {
				return err
			}
		}
		if t.Status.Terminal() {
			s.txn, s.outcome = t, OutcomeAlreadyReconciled
			return nil
		}
		u, err := tx.LockUser(ctx, t.UserID)
		if err != nil {
			return err
		}
		s.balance = u.Balance

		var settled *decimal.Decimal
		entry := &domain.LedgerEntry{TransactionID: t.ID, UserID: t.UserID, Credit: decimal.Zero, Debit: decimal.Zero}
		switch {
		case t.Kind == domain.KindDeposit && target == domain.StatusApproved:
			if s.firstPayment, err = firstPayment(ctx, tx, t); err != nil {
				return err
			}
			credit := t.Amount
			if reported != nil && reported.IsPositive() {
				credit = *reported
			}
			settled = &credit
			entry.Reason, entry.Credit = domain.ReasonDeposit, credit
		case t.Kind == domain.KindDeposit:
			entry = nil
		case t.Kind == domain.KindWithdrawal && target == domain.StatusApproved:
			// debited at request time
			entry.Reason = domain.ReasonWithdrawalConfirmed
		case t.Kind == domain.KindWithdrawal:
			entry.Reason, entry.Credit = domain.ReasonWithdrawalRefund, t.Amount
		default:
			return fmt.Errorf("%w: %s", ErrNotReconcilable, t.Kind)
		}

		if entry != nil {
			if entry.Credit.IsPositive() {
				if s.balance, err = tx.AdjustBalance(ctx, t.UserID, entry.Credit); err != nil {
					return err
				}
				s.delta = entry.Credit
			}
			entry.BalanceAfter = s.balance
			if err := tx.AppendEntry(ctx, entry); err != nil {
				return err
			}
		}

		if err := tx.SettleTransaction(ctx, t.ID, target, externalID, settled, payload); err != nil {
			return err
		}
		t.Status = target
		t.SettledAmount = settled
		if t.ExternalID == "" {
			t.ExternalID = externalID
		}
		s.txn = t
		s.outcome = outcomeFor(target)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// firstPayment reports whether t is the user's first approved deposit or purchase.
func firstPayment(ctx context.Context, tx store.Tx, t *domain.Transaction) (bool, error) {
	for _, kind := range []domain.Kind{domain.KindDeposit, domain.KindPurchase} {
		seen, err := tx.HasApproved(ctx, t.UserID, kind, t.ID)
		if err != nil || seen {
			return false, err
		}
	}
	return true, nil
}

func outcomeFor(status domain.Status) Outcome {
	switch status {
	case domain.StatusApproved:
		return OutcomeApproved
	case domain.StatusCanceled:
		return OutcomeCanceled
	}
	return OutcomeRejected
}

// after runs the post-commit effects: notifications, then commissions.
func (r *Reconciler) after(ctx context.Context, s *settlement) {
	if s.outcome == OutcomeAlreadyReconciled {
		return
	}
	t := s.txn

	evType := notify.EventPaymentFailed
	if s.outcome == OutcomeApproved {
		evType = notify.EventPaymentCompleted
	}
	notify.Send(ctx, r.pub, notify.Event{
		Type:          evType,
		UserID:        t.UserID,
		TransactionID: t.ID.String(),
		Kind:          string(t.Kind),
		Status:        string(t.Status),
		Amount:        t.Effective(),
	})
	if !s.delta.IsZero() {
		bal := s.balance
		notify.Send(ctx, r.pub, notify.Event{Type: notify.EventBalanceChanged, UserID: t.UserID, Amount: s.delta, Balance: &bal})
	}

	if s.firstPayment && r.commissions != nil {
		if _, err := r.commissions.Distribute(ctx, t.UserID, t.Effective(), t.ID); err != nil {
			logger.FromContext(ctx).Error("commission fan-out failed", "transaction_id", t.ID, "error", err)
			r.audit.LogCommissionFailure(ctx, t, err)
			r.alerts.Alert(ctx, fmt.Sprintf("commission fan-out failed for %s: %v (replay with ledgerctl commissions replay %s)", t.ID, err, t.ID))
		}
	}
}

// SettleManually is the operator path: the same lock and atomic step as a webhook.
func (r *Reconciler) SettleManually(ctx context.Context, id uuid.UUID, approve bool, adminID int64) (Outcome, error) {
	target := domain.StatusRejected
	action := domain.AuditActionManualReject
	if approve {
		target = domain.StatusApproved
		action = domain.AuditActionManualApprove
	}
	outcome, t, err := r.transition(ctx, "manual", id, target, nil)
	if err != nil || outcome == OutcomeAlreadyProcessing || outcome == OutcomeAlreadyReconciled {
		return outcome, err
	}
	r.audit.LogAdminAction(ctx, adminID, action, t.UserID, map[string]interface{}{
		"transaction_id": t.ID.String(),
		"kind":           string(t.Kind),
		"amount":         t.Amount.String(),
	})
	return outcome, nil
}

// Cancel withdraws a pending withdrawal that was never sent to the provider and refunds it.
func (r *Reconciler) Cancel(ctx context.Context, id uuid.UUID, userID int64) (Outcome, error) {
	outcome, t, err := r.transition(ctx, "cancel", id, domain.StatusCanceled, func(t *domain.Transaction) error {
		switch {
		case t.UserID != userID:
			return ErrForbidden
		case t.Kind != domain.KindWithdrawal:
			return fmt.Errorf("%w: only withdrawals can be canceled", ErrNotReconcilable)
		case t.DispatchedAt != nil:
			return ErrAlreadyDispatched
		}
		return nil
	})
	if err != nil || outcome != OutcomeCanceled {
		return outcome, err
	}
	r.audit.LogWithdraw(ctx, domain.AuditActionWithdrawCancel, t, nil)
	return outcome, nil
}

// transition locks a transaction by its own key and settles it.
func (r *Reconciler) transition(ctx context.Context, source string, id uuid.UUID, target domain.Status, guard func(*domain.Transaction) error) (Outcome, *domain.Transaction, error) {
	t, err := r.store.TransactionByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, ErrUnknownTransaction
	}
	if err != nil {
		return "", nil, err
	}
	log := logger.FromContext(ctx).With("transaction_id", t.ID, "user_id", t.UserID, "source", source)

	key := lock.TransactionKey(t.LockKey())
	token, ok, err := r.locker.TryAcquire(ctx, key, r.lockTTL)
	if err != nil {
		return "", nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !ok {
		reconcileTotal.WithLabelValues(source, string(OutcomeAlreadyProcessing)).Inc()
		return OutcomeAlreadyProcessing, t, nil
	}

	s, err := r.settle(ctx, id, target, "", nil, nil, guard)
	r.release(ctx, log, key, token)
	if err != nil {
		return "", t, err
	}

	log.Info("transaction settled", "outcome", s.outcome)
	reconcileTotal.WithLabelValues(source, string(s.outcome)).Inc()
	r.after(ctx, s)
	return s.outcome, s.txn, nil
}

// Expire cancels a deposit that never received a provider transaction id.
func (r *Reconciler) Expire(ctx context.Context, id uuid.UUID) (Outcome, error) {
	outcome, _, err := r.transition(ctx, "expiry", id, domain.StatusCanceled, func(t *domain.Transaction) error {
		if t.Kind != domain.KindDeposit || t.ExternalID != "" {
			return fmt.Errorf("%w: only deposits without a provider id expire", ErrNotReconcilable)
		}
		return nil
	})
	return outcome, err
}
