package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"payments_core/internal/domain"
	"payments_core/internal/gateway"
	"payments_core/internal/lock"
	"payments_core/internal/notify"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositCompletedCreditsOnce(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()

	tr := h.deposit(t, 1, "100")
	assert.Equal(t, domain.StatusPending, tr.Status)
	assert.Equal(t, "in-1", tr.ExternalID)
	assert.Equal(t, "pix-code", tr.PaymentCode)

	outcome, err := h.reconciler.Reconcile(ctx, completed(tr, "100"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)

	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	assert.Equal(t, domain.StatusApproved, h.txn(t, tr.ID).Status)
	deposits := h.entries(1, domain.ReasonDeposit)
	require.Len(t, deposits, 1)
	assert.True(t, deposits[0].Credit.Equal(dec("100")))
	assert.True(t, deposits[0].BalanceAfter.Equal(dec("100")))

	assert.Len(t, h.pub.ofType(notify.EventPaymentCompleted), 1)
	assert.Len(t, h.pub.ofType(notify.EventBalanceChanged), 1)
	h.requireLedgerBalanced(t)
}

func TestDepositCreditsProviderReportedAmount(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()
	tr := h.deposit(t, 1, "100")

	outcome, err := h.reconciler.Reconcile(ctx, completed(tr, "99.99"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)

	assert.Equal(t, "99.99", h.balance(t, 1).String())
	deposits := h.entries(1, domain.ReasonDeposit)
	require.Len(t, deposits, 1)
	assert.Equal(t, "99.99", deposits[0].Credit.String())

	got := h.txn(t, tr.ID)
	assert.Equal(t, "100", got.Amount.String())
	require.NotNil(t, got.SettledAmount)
	assert.Equal(t, "99.99", got.Effective().String())

	changed := h.pub.ofType(notify.EventBalanceChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "99.99", changed[0].Amount.String())
	h.requireLedgerBalanced(t)
}

func TestManualApprovalCreditsStoredAmount(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	tr := h.deposit(t, 1, "100")

	outcome, err := h.reconciler.SettleManually(context.Background(), tr.ID, true, 99)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
	assert.Equal(t, "100", h.balance(t, 1).String())
	assert.Equal(t, "100", h.txn(t, tr.ID).Effective().String())
}

func TestDuplicateDeliveriesAreNoOps(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()
	tr := h.deposit(t, 1, "100")

	for i := 0; i < 5; i++ {
		outcome, err := h.reconciler.Reconcile(ctx, completed(tr, "100"))
		require.NoError(t, err)
		if i == 0 {
			assert.Equal(t, OutcomeApproved, outcome)
		} else {
			assert.Equal(t, OutcomeAlreadyReconciled, outcome)
		}
	}

	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	assert.Len(t, h.entries(1, domain.ReasonDeposit), 1)
	h.requireLedgerBalanced(t)
}

func TestConcurrentDeliveriesCreditOnce(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	tr := h.deposit(t, 1, "100")

	const n = 16
	outcomes := make(chan Outcome, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcome, err := h.reconciler.Reconcile(context.Background(), completed(tr, "100"))
			assert.NoError(t, err)
			outcomes <- outcome
		}()
	}
	close(start)
	wg.Wait()
	close(outcomes)

	approved := 0
	for o := range outcomes {
		switch o {
		case OutcomeApproved:
			approved++
		case OutcomeAlreadyProcessing, OutcomeAlreadyReconciled:
		default:
			t.Errorf("unexpected outcome %q", o)
		}
	}
	assert.Equal(t, 1, approved)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	assert.Len(t, h.entries(1, domain.ReasonDeposit), 1)
}

func TestLockHeldElsewhereReportsProcessing(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()
	tr := h.deposit(t, 1, "100")

	token, ok, err := h.locker.TryAcquire(ctx, lock.TransactionKey(tr.ExternalID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	outcome, err := h.reconciler.Reconcile(ctx, completed(tr, "100"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessing, outcome)
	assert.Equal(t, domain.StatusPending, h.txn(t, tr.ID).Status)

	require.NoError(t, h.locker.Release(ctx, lock.TransactionKey(tr.ExternalID), token))
	outcome, err = h.reconciler.Reconcile(ctx, completed(tr, "100"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
}

func TestAmountMismatchHoldsForReview(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()
	tr := h.deposit(t, 1, "100")

	_, err := h.reconciler.Reconcile(ctx, completed(tr, "90"))
	var mismatch *AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.True(t, mismatch.Expected.Equal(dec("100")))
	assert.True(t, mismatch.Reported.Equal(dec("90")))

	assert.True(t, h.balance(t, 1).IsZero())
	assert.Equal(t, domain.StatusPending, h.txn(t, tr.ID).Status)
	assert.Equal(t, 1, h.alerts.count())
	assert.Contains(t, h.audit.actions(), domain.AuditActionAmountMismatch)

	// a zero amount on a completion is never trusted
	_, err = h.reconciler.Reconcile(ctx, completed(tr, "0"))
	assert.ErrorAs(t, err, &mismatch)

	// rounding noise inside the tolerance is accepted; the expected amount is credited
	outcome, err := h.reconciler.Reconcile(ctx, completed(tr, "100.005"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))
}

func TestUnknownTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.reconciler.Reconcile(context.Background(), &domain.WebhookEvent{
		Provider:              fakeSlug,
		ProviderTransactionID: "ghost",
		Reference:             "not-a-uuid",
		Status:                domain.GatewayCompleted,
		Amount:                dec("1"),
	})
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestReferenceFallbackAttachesProviderID(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()

	h.adapter.cashInErr = &gateway.TransportError{Provider: fakeSlug, Operation: "cash_in", Err: errors.New("timeout")}
	tr, err := h.payments.RequestDeposit(ctx, DepositRequest{UserID: 1, Provider: fakeSlug, Amount: dec("50")})
	require.Error(t, err)
	require.NotNil(t, tr)
	assert.Empty(t, h.txn(t, tr.ID).ExternalID)

	ev := &domain.WebhookEvent{
		Provider:              fakeSlug,
		ProviderTransactionID: "late-1",
		Reference:             tr.ID.String(),
		Status:                domain.GatewayCompleted,
		Amount:                dec("50"),
	}
	outcome, err := h.reconciler.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
	assert.Equal(t, "late-1", h.txn(t, tr.ID).ExternalID)

	// another provider cannot claim it by reference
	ev.Provider = "other"
	ev.ProviderTransactionID = "x"
	_, err = h.reconciler.Reconcile(ctx, ev)
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestPendingEventChangesNothing(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	tr := h.deposit(t, 1, "100")

	ev := completed(tr, "100")
	ev.Status = domain.GatewayPending
	outcome, err := h.reconciler.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStillPending, outcome)
	assert.Equal(t, domain.StatusPending, h.txn(t, tr.ID).Status)
}

func TestFailedDepositIsRejectedWithoutBalanceChange(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	tr := h.deposit(t, 1, "100")

	ev := completed(tr, "0")
	ev.Status = domain.GatewayFailed
	outcome, err := h.reconciler.Reconcile(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.True(t, h.balance(t, 1).IsZero())
	assert.Empty(t, h.mem.Entries())
	assert.Len(t, h.pub.ofType(notify.EventPaymentFailed), 1)
}

func TestRefundAfterApprovalAlerts(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()
	tr := h.deposit(t, 1, "100")

	_, err := h.reconciler.Reconcile(ctx, completed(tr, "100"))
	require.NoError(t, err)

	ev := completed(tr, "100")
	ev.Status = domain.GatewayRefunded
	outcome, err := h.reconciler.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReconciled, outcome)
	assert.Equal(t, domain.StatusApproved, h.txn(t, tr.ID).Status)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	assert.Equal(t, 1, h.alerts.count())
	assert.Contains(t, h.audit.actions(), domain.AuditActionRefundAfterApprove)
}

func TestWithdrawalFailedIsRefunded(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	h.fund(t, 1, "200")
	ctx := context.Background()

	tr, err := h.payments.RequestWithdrawal(ctx, WithdrawalRequest{UserID: 1, Provider: fakeSlug, Amount: dec("50"), PayeeKey: "529.982.247-25"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, tr.Status)
	assert.Equal(t, "529.982.247-25", tr.PayeeKey)
	assert.True(t, h.balance(t, 1).Equal(dec("150")))

	outcome, err := h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStillPending, outcome)
	sent := h.txn(t, tr.ID)
	require.NotEmpty(t, sent.ExternalID)

	outcome, err = h.reconciler.Reconcile(ctx, &domain.WebhookEvent{
		Provider:              fakeSlug,
		ProviderTransactionID: sent.ExternalID,
		Status:                domain.GatewayFailed,
		Amount:                dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.True(t, h.balance(t, 1).Equal(dec("200")))
	assert.Equal(t, domain.StatusRejected, h.txn(t, tr.ID).Status)
	require.Len(t, h.entries(1, domain.ReasonWithdrawalRefund), 1)
	h.requireLedgerBalanced(t)
}

func TestWithdrawalCompletedKeepsDebit(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	h.fund(t, 1, "200")
	ctx := context.Background()

	tr, err := h.payments.RequestWithdrawal(ctx, WithdrawalRequest{UserID: 1, Provider: fakeSlug, Amount: dec("50"), PayeeKey: "user@example.com"})
	require.NoError(t, err)
	_, err = h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.NoError(t, err)

	sent := h.txn(t, tr.ID)
	outcome, err := h.reconciler.Reconcile(ctx, &domain.WebhookEvent{
		Provider:              fakeSlug,
		ProviderTransactionID: sent.ExternalID,
		Status:                domain.GatewayCompleted,
		Amount:                dec("50"),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
	assert.True(t, h.balance(t, 1).Equal(dec("150")))
	assert.Len(t, h.entries(1, domain.ReasonWithdrawalConfirmed), 1)
	h.requireLedgerBalanced(t)
}

func TestSettleManually(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	ctx := context.Background()
	tr := h.deposit(t, 1, "100")

	outcome, err := h.reconciler.SettleManually(ctx, tr.ID, true, 99)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	assert.Contains(t, h.audit.actions(), domain.AuditActionManualApprove)

	outcome, err = h.reconciler.SettleManually(ctx, tr.ID, false, 99)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReconciled, outcome)

	// a late webhook for the same transaction is a no-op
	outcome, err = h.reconciler.Reconcile(ctx, completed(tr, "100"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReconciled, outcome)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))

	_, err = h.reconciler.SettleManually(ctx, uuid.New(), true, 99)
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestCancelWithdrawal(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	h.mem.AddUser(domain.User{ID: 2})
	h.fund(t, 1, "100")
	ctx := context.Background()

	tr, err := h.payments.RequestWithdrawal(ctx, WithdrawalRequest{UserID: 1, Provider: fakeSlug, Amount: dec("40"), PayeeKey: "+5511987654321"})
	require.NoError(t, err)
	assert.True(t, h.balance(t, 1).Equal(dec("60")))

	_, err = h.payments.CancelWithdrawal(ctx, 2, tr.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, domain.StatusPending, h.txn(t, tr.ID).Status)

	outcome, err := h.payments.CancelWithdrawal(ctx, 1, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, outcome)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	assert.Contains(t, h.audit.actions(), domain.AuditActionWithdrawCancel)

	outcome, err = h.payments.CancelWithdrawal(ctx, 1, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReconciled, outcome)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	h.requireLedgerBalanced(t)
}

func TestCancelAfterDispatchIsRefused(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	h.fund(t, 1, "100")
	ctx := context.Background()

	tr, err := h.payments.RequestWithdrawal(ctx, WithdrawalRequest{UserID: 1, Provider: fakeSlug, Amount: dec("40"), PayeeKey: "user@example.com"})
	require.NoError(t, err)
	_, err = h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.NoError(t, err)

	_, err = h.payments.CancelWithdrawal(ctx, 1, tr.ID)
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
	assert.Equal(t, domain.StatusPending, h.txn(t, tr.ID).Status)
	assert.True(t, h.balance(t, 1).Equal(dec("60")))
}

func TestDispatchInvalidPayeeKeyRefunds(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	h.fund(t, 1, "100")
	ctx := context.Background()

	// a key that passed at request time but is rejected when sent
	tr, err := h.payments.RequestWithdrawal(ctx, WithdrawalRequest{UserID: 1, Provider: fakeSlug, Amount: dec("40"), PayeeKey: "user@example.com"})
	require.NoError(t, err)
	h.adapter.cashOutErr = &gateway.InvalidPayeeKeyError{Key: "user@example.com", Reason: "unknown key"}

	outcome, err := h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCanceled, outcome)
	assert.Equal(t, domain.StatusCanceled, h.txn(t, tr.ID).Status)
	assert.True(t, h.balance(t, 1).Equal(dec("100")))
	assert.Len(t, h.entries(1, domain.ReasonWithdrawalRefund), 1)
	h.requireLedgerBalanced(t)
}

func TestDispatchTransportErrorStaysPending(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	h.fund(t, 1, "100")
	ctx := context.Background()

	tr, err := h.payments.RequestWithdrawal(ctx, WithdrawalRequest{UserID: 1, Provider: fakeSlug, Amount: dec("40"), PayeeKey: "user@example.com"})
	require.NoError(t, err)
	h.adapter.cashOutErr = &gateway.TransportError{Provider: fakeSlug, Operation: "cash_out", Status: 502}

	outcome, err := h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.Error(t, err)
	assert.Equal(t, OutcomeStillPending, outcome)
	assert.Equal(t, 1, h.alerts.count())
	assert.Equal(t, domain.StatusPending, h.txn(t, tr.ID).Status)
	assert.True(t, h.balance(t, 1).Equal(dec("60")))

	// the outcome of the first call is unknown, so it is never sent twice
	h.adapter.cashOutErr = nil
	outcome, err = h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessing, outcome)
	assert.Equal(t, 1, h.adapter.cashOuts)
}

func TestDispatchSynchronousCompletion(t *testing.T) {
	h := newHarness(t)
	h.mem.AddUser(domain.User{ID: 1})
	h.fund(t, 1, "100")
	h.adapter.cashOutStatus = domain.GatewayCompleted
	ctx := context.Background()

	tr, err := h.payments.RequestWithdrawal(ctx, WithdrawalRequest{UserID: 1, Provider: fakeSlug, Amount: dec("40"), PayeeKey: "user@example.com"})
	require.NoError(t, err)
	outcome, err := h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, outcome)
	assert.Equal(t, domain.StatusApproved, h.txn(t, tr.ID).Status)
	assert.True(t, h.balance(t, 1).Equal(dec("60")))

	outcome, err = h.payments.DispatchWithdrawal(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyReconciled, outcome)
	assert.Equal(t, 1, h.adapter.cashOuts)
	h.requireLedgerBalanced(t)
}
