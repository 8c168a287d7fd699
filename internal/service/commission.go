package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"payments_core/internal/config"
	"payments_core/internal/domain"
	"payments_core/internal/logger"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	hundred        = decimal.NewFromInt(100)
	errAlreadyPaid = errors.New("level already paid")
)

// Payout is one credited referral level.
type Payout struct {
	Level  int             `json:"level"`
	UserID int64           `json:"user_id"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// CommissionService pays the referral chain through LedgerService postings.
type CommissionService struct {
	store  store.Store
	ledger *LedgerService
	policy config.CommissionPolicy
}

func NewCommissionService(st store.Store, ledger *LedgerService, policy config.CommissionPolicy) *CommissionService {
	return &CommissionService{store: st, ledger: ledger, policy: policy}
}

// Distribute walks up to policy depth levels above sourceUserID and credits base*rate/100 to each
// commissionable upline. Affiliate-only accounts consume their level without being paid. Each level is
// its own unit of work keyed by (source, level), so replaying a source transaction pays nothing twice.
func (s *CommissionService) Distribute(ctx context.Context, sourceUserID int64, base decimal.Decimal, source uuid.UUID) ([]Payout, error) {
	if !base.IsPositive() {
		return nil, nil
	}
	log := logger.FromContext(ctx).With("source_user_id", sourceUserID, "source_transaction_id", source)

	visited := map[int64]bool{sourceUserID: true}
	current := sourceUserID
	var paid []Payout

	for level := 1; level <= s.policy.Depth(); level++ {
		up, err := s.store.Referrer(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return paid, fmt.Errorf("referrer of %d: %w", current, err)
		}
		if visited[up.ID] {
			log.Warn("referral cycle detected", "user_id", up.ID, "level", level)
			break
		}
		visited[up.ID] = true
		current = up.ID

		if up.AffiliateOnly {
			log.Debug("skipping affiliate-only upline", "user_id", up.ID, "level", level)
			continue
		}
		rate := s.policy.Rate(level)
		amount := base.Mul(rate).Div(hundred).Round(2)
		if !amount.IsPositive() {
			continue
		}

		from := sourceUserID
		step := level
		var bal decimal.Decimal
		err = s.store.InTx(ctx, func(tx store.Tx) error {
			exists, err := tx.EntryExists(ctx, source, step)
			if err != nil {
				return err
			}
			if exists {
				return errAlreadyPaid
			}
			_, bal, err = s.ledger.PostWithTx(ctx, tx, Posting{
				UserID:              up.ID,
				Kind:                domain.KindCommission,
				Reason:              domain.ReasonCommissionIndication,
				Amount:              amount,
				Step:                step,
				FromUserID:          &from,
				SourceTransactionID: &source,
				Meta:                map[string]interface{}{"level": step, "rate": rate.String()},
			})
			return err
		})
		if errors.Is(err, errAlreadyPaid) || errors.Is(err, store.ErrDuplicateEntry) {
			log.Debug("commission level already paid", "level", level)
			continue
		}
		if err != nil {
			return paid, fmt.Errorf("commission level %d: %w", level, err)
		}

		commissionPaidTotal.WithLabelValues(strconv.Itoa(level)).Inc()
		s.ledger.balanceChanged(ctx, up.ID, amount, bal)
		paid = append(paid, Payout{Level: level, UserID: up.ID, Rate: rate, Amount: amount})
	}

	if len(paid) > 0 {
		log.Info("commissions distributed", "levels", len(paid), "base", base.String())
	}
	return paid, nil
}

// Replay re-runs the fan-out for an approved source transaction. Levels already paid are skipped.
func (s *CommissionService) Replay(ctx context.Context, sourceID uuid.UUID) ([]Payout, error) {
	t, err := s.store.TransactionByID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}
	if t.Status != domain.StatusApproved || (t.Kind != domain.KindDeposit && t.Kind != domain.KindPurchase) {
		return nil, fmt.Errorf("%w: %s %s", ErrNotCommissionable, t.Kind, t.Status)
	}
	return s.Distribute(ctx, t.UserID, t.Effective(), t.ID)
}
