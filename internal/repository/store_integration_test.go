package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"payments_core/internal/db"
	"payments_core/internal/domain"
	"payments_core/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, pool)
	require.NoError(t, err)

	return NewStore(pool), pool
}

func createUser(t *testing.T, pool *pgxpool.Pool, referredBy *int64) *domain.User {
	t.Helper()
	u := &domain.User{Username: fmt.Sprintf("it_%d", time.Now().UnixNano()), ReferredBy: referredBy}
	require.NoError(t, NewUserRepository(pool).Create(context.Background(), u))
	return u
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStoreDepositSettlement(t *testing.T) {
	s, pool := setupStore(t)
	ctx := context.Background()
	u := createUser(t, pool, nil)

	txn := &domain.Transaction{
		UserID:   u.ID,
		Kind:     domain.KindDeposit,
		Provider: "pixbridge",
		Amount:   d("100.00"),
		Currency: "BRL",
		Status:   domain.StatusPending,
	}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertTransaction(ctx, txn) }))

	extID := "ext-" + uuid.NewString()
	require.NoError(t, s.AttachExternalID(ctx, txn.ID, extID, "00020126pix"))

	got, err := s.TransactionByExternalID(ctx, "pixbridge", extID)
	require.NoError(t, err)
	assert.Equal(t, txn.ID, got.ID)
	assert.Equal(t, "00020126pix", got.PaymentCode)
	assert.True(t, got.Amount.Equal(d("100")))

	err = s.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockTransaction(ctx, txn.ID)
		if err != nil {
			return err
		}
		bal, err := tx.AdjustBalance(ctx, u.ID, locked.Amount)
		if err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &domain.LedgerEntry{
			TransactionID: locked.ID, UserID: u.ID, Reason: domain.ReasonDeposit,
			Credit: locked.Amount, BalanceAfter: bal,
		}); err != nil {
			return err
		}
		settled := d("99.99")
		return tx.SettleTransaction(ctx, locked.ID, domain.StatusApproved, "", &settled, []byte(`{"ok":true}`))
	})
	require.NoError(t, err)

	// terminal rows cannot be settled twice
	err = s.InTx(ctx, func(tx store.Tx) error {
		return tx.SettleTransaction(ctx, txn.ID, domain.StatusRejected, "", nil, nil)
	})
	assert.ErrorIs(t, err, store.ErrNotPending)

	credit, debit, err := s.LedgerTotals(ctx, u.ID)
	require.NoError(t, err)
	user, err := s.User(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(credit.Sub(debit)))
	assert.True(t, user.Balance.Equal(d("100")))

	settledRow, err := s.TransactionByID(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, settledRow.SettledAmount)
	assert.True(t, settledRow.Effective().Equal(d("99.99")))
}

func TestStoreInsufficientFundsRollsBack(t *testing.T) {
	s, pool := setupStore(t)
	ctx := context.Background()
	u := createUser(t, pool, nil)

	err := s.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.AdjustBalance(ctx, u.ID, d("-1"))
		return err
	})
	assert.ErrorIs(t, err, store.ErrInsufficientFunds)

	user, err := s.User(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, user.Balance.IsZero())
}

func TestStoreFanoutEntryUnique(t *testing.T) {
	s, pool := setupStore(t)
	ctx := context.Background()
	up := createUser(t, pool, nil)
	down := createUser(t, pool, &up.ID)

	ref, err := s.Referrer(ctx, down.ID)
	require.NoError(t, err)
	assert.Equal(t, up.ID, ref.ID)

	_, err = s.Referrer(ctx, up.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	source := &domain.Transaction{UserID: down.ID, Kind: domain.KindDeposit, Amount: d("10"), Currency: "BRL", Status: domain.StatusApproved}
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error { return tx.InsertTransaction(ctx, source) }))

	post := func() error {
		return s.InTx(ctx, func(tx store.Tx) error {
			c := &domain.Transaction{UserID: up.ID, Kind: domain.KindCommission, Amount: d("1"), Currency: "BRL", Status: domain.StatusApproved}
			if err := tx.InsertTransaction(ctx, c); err != nil {
				return err
			}
			bal, err := tx.AdjustBalance(ctx, up.ID, d("1"))
			if err != nil {
				return err
			}
			return tx.AppendEntry(ctx, &domain.LedgerEntry{
				TransactionID: c.ID, UserID: up.ID, Reason: domain.ReasonCommissionIndication,
				Credit: d("1"), BalanceAfter: bal, Step: 1, FromUserID: &down.ID, SourceTransactionID: &source.ID,
			})
		})
	}
	require.NoError(t, post())
	assert.ErrorIs(t, post(), store.ErrDuplicateEntry)

	user, err := s.User(ctx, up.ID)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(d("1")))
}

func TestStoreConcurrentAdjust(t *testing.T) {
	s, pool := setupStore(t)
	ctx := context.Background()
	u := createUser(t, pool, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(ctx, func(tx store.Tx) error {
				if _, err := tx.LockUser(ctx, u.ID); err != nil {
					return err
				}
				_, err := tx.AdjustBalance(ctx, u.ID, d("0.5"))
				return err
			})
		}()
	}
	wg.Wait()

	user, err := s.User(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, user.Balance.Equal(d("10")))
}

func TestReferralLinking(t *testing.T) {
	_, pool := setupStore(t)
	ctx := context.Background()
	refs := NewReferralRepository(pool)

	top := createUser(t, pool, nil)
	mid := createUser(t, pool, nil)
	leaf := createUser(t, pool, nil)

	require.NoError(t, refs.SetReferrer(ctx, mid.ID, top.ID))
	require.NoError(t, refs.SetReferrer(ctx, leaf.ID, mid.ID))

	assert.ErrorIs(t, refs.SetReferrer(ctx, top.ID, leaf.ID), ErrReferralCycle)
	assert.ErrorIs(t, refs.SetReferrer(ctx, top.ID, top.ID), ErrReferralCycle)
	assert.Error(t, refs.SetReferrer(ctx, leaf.ID, top.ID), "referrer is set once")

	down, err := refs.Downline(ctx, top.ID)
	require.NoError(t, err)
	require.Len(t, down, 1)
	assert.Equal(t, mid.ID, down[0].UserID)
	assert.True(t, down[0].Earned.IsZero())

	stats, err := refs.Stats(ctx, mid.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Direct)
	assert.True(t, stats.TotalEarned.IsZero())
}

func TestPlatformStats(t *testing.T) {
	_, pool := setupStore(t)
	ctx := context.Background()
	createUser(t, pool, nil)

	stats, err := NewStatsRepository(pool).Platform(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalUsers, int64(1))
	assert.False(t, stats.TotalBalance.IsNegative())
	assert.NotNil(t, stats.Pending)
	assert.NotNil(t, stats.ApprovedTotal)
}
