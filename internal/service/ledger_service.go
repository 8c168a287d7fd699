package service

import (
	"context"
	"errors"
	"fmt"

	"payments_core/internal/domain"
	"payments_core/internal/notify"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Posting is a balance mutation that is not settled by a provider. A positive Amount is a
// credit, a negative one a debit.
type Posting struct {
	UserID              int64
	Kind                domain.Kind
	Reason              domain.Reason
	Amount              decimal.Decimal
	Step                int
	FromUserID          *int64
	SourceTransactionID *uuid.UUID
	Meta                map[string]interface{}
}

// LedgerService owns the single path that changes a balance outside reconciliation.
type LedgerService struct {
	store    store.Store
	pub      notify.Publisher
	currency string
}

func NewLedgerService(st store.Store, pub notify.Publisher, currency string) *LedgerService {
	if pub == nil {
		pub = notify.Nop{}
	}
	return &LedgerService{store: st, pub: pub, currency: currency}
}

// Post writes an approved transaction, the balance change and its ledger entry atomically.
func (s *LedgerService) Post(ctx context.Context, p Posting) (*domain.Transaction, decimal.Decimal, error) {
	var (
		t   *domain.Transaction
		bal decimal.Decimal
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		t, bal, err = s.PostWithTx(ctx, tx, p)
		return err
	})
	if err != nil {
		return nil, decimal.Zero, err
	}
	s.balanceChanged(ctx, t.UserID, p.Amount, bal)
	return t, bal, nil
}

// PostWithTx is Post inside a unit of work owned by the caller.
func (s *LedgerService) PostWithTx(ctx context.Context, tx store.Tx, p Posting) (*domain.Transaction, decimal.Decimal, error) {
	if p.Amount.IsZero() {
		return nil, decimal.Zero, ErrInvalidAmount
	}
	if _, err := tx.LockUser(ctx, p.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, decimal.Zero, ErrUserNotFound
		}
		return nil, decimal.Zero, err
	}

	t := &domain.Transaction{
		ID:       uuid.New(),
		UserID:   p.UserID,
		Kind:     p.Kind,
		Amount:   p.Amount.Abs(),
		Currency: s.currency,
		Status:   domain.StatusApproved,
		Meta:     p.Meta,
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, decimal.Zero, fmt.Errorf("insert %s transaction: %w", p.Kind, err)
	}

	bal, err := tx.AdjustBalance(ctx, p.UserID, p.Amount)
	if err != nil {
		return nil, decimal.Zero, err
	}

	e := &domain.LedgerEntry{
		TransactionID:       t.ID,
		UserID:              p.UserID,
		Reason:              p.Reason,
		Credit:              decimal.Zero,
		Debit:               decimal.Zero,
		BalanceAfter:        bal,
		Step:                p.Step,
		FromUserID:          p.FromUserID,
		SourceTransactionID: p.SourceTransactionID,
	}
	if p.Amount.IsPositive() {
		e.Credit = p.Amount
	} else {
		e.Debit = p.Amount.Abs()
	}
	if err := tx.AppendEntry(ctx, e); err != nil {
		return nil, decimal.Zero, err
	}

	ledgerPostingsTotal.WithLabelValues(string(p.Reason)).Inc()
	return t, bal, nil
}

func (s *LedgerService) balanceChanged(ctx context.Context, userID int64, delta, balance decimal.Decimal) {
	notify.Send(ctx, s.pub, notify.Event{
		Type:    notify.EventBalanceChanged,
		UserID:  userID,
		Amount:  delta,
		Balance: &balance,
	})
}

func (s *LedgerService) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	u, err := s.store.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, err
	}
	return u.Balance, nil
}

func (s *LedgerService) History(ctx context.Context, userID int64, limit int) ([]*domain.LedgerEntry, error) {
	return s.store.UserEntries(ctx, userID, limit)
}

func (s *LedgerService) Transactions(ctx context.Context, userID int64, limit int) ([]*domain.Transaction, error) {
	return s.store.UserTransactions(ctx, userID, limit)
}

// Verification compares a stored balance with the sum of its ledger.
type Verification struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
}

func (v Verification) Expected() decimal.Decimal { return v.Credits.Sub(v.Debits) }

func (v Verification) Drift() decimal.Decimal { return v.Balance.Sub(v.Expected()) }

func (v Verification) OK() bool { return v.Drift().IsZero() }

// Verify checks balance == credits - debits for one user.
func (s *LedgerService) Verify(ctx context.Context, userID int64) (*Verification, error) {
	u, err := s.store.User(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	credit, debit, err := s.store.LedgerTotals(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Verification{UserID: userID, Balance: u.Balance, Credits: credit, Debits: debit}, nil
}

// VerifyAll returns the users whose balance drifted from their ledger.
func (s *LedgerService) VerifyAll(ctx context.Context) ([]*Verification, error) {
	ids, err := s.store.UserIDs(ctx)
	if err != nil {
		return nil, err
	}
	var bad []*Verification
	for _, id := range ids {
		v, err := s.Verify(ctx, id)
		if err != nil {
			return bad, fmt.Errorf("verify user %d: %w", id, err)
		}
		if !v.OK() {
			bad = append(bad, v)
		}
	}
	return bad, nil
}
