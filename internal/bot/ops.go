package bot

import (
	"context"
	"time"

	"payments_core/internal/domain"
	"payments_core/internal/service"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Operations is what an operator can do from chat.
type Operations interface {
	Pending(ctx context.Context, limit int) ([]*domain.Transaction, error)
	Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	Settle(ctx context.Context, id uuid.UUID, approve bool, adminID int64) (service.Outcome, error)
	Dispatch(ctx context.Context, id uuid.UUID) (service.Outcome, error)
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Verify(ctx context.Context, userID int64) (*service.Verification, error)
	VerifyAll(ctx context.Context) ([]*service.Verification, error)
}

type serviceOps struct {
	store      store.Store
	reconciler *service.Reconciler
	payments   *service.PaymentService
	ledger     *service.LedgerService
}

// NewOperations binds Operations to the payment services.
func NewOperations(st store.Store, reconciler *service.Reconciler, payments *service.PaymentService, ledger *service.LedgerService) Operations {
	return &serviceOps{store: st, reconciler: reconciler, payments: payments, ledger: ledger}
}

func (o *serviceOps) Pending(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	return o.store.PendingTransactions(ctx, time.Now(), limit)
}

func (o *serviceOps) Transaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return o.store.TransactionByID(ctx, id)
}

func (o *serviceOps) Settle(ctx context.Context, id uuid.UUID, approve bool, adminID int64) (service.Outcome, error) {
	return o.reconciler.SettleManually(ctx, id, approve, adminID)
}

func (o *serviceOps) Dispatch(ctx context.Context, id uuid.UUID) (service.Outcome, error) {
	return o.payments.DispatchWithdrawal(ctx, id)
}

func (o *serviceOps) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return o.ledger.Balance(ctx, userID)
}

func (o *serviceOps) Verify(ctx context.Context, userID int64) (*service.Verification, error) {
	return o.ledger.Verify(ctx, userID)
}

func (o *serviceOps) VerifyAll(ctx context.Context) ([]*service.Verification, error) {
	return o.ledger.VerifyAll(ctx)
}
