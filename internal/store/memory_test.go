package store

import (
	"context"
	"errors"
	"testing"

	"payments_core/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRollback(t *testing.T) {
	m := NewMemory()
	m.AddUser(domain.User{ID: 1, Balance: decimal.NewFromInt(10)})
	ctx := context.Background()

	boom := errors.New("boom")
	err := m.InTx(ctx, func(tx Tx) error {
		if _, err := tx.AdjustBalance(ctx, 1, decimal.NewFromInt(5)); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, &domain.LedgerEntry{UserID: 1, Credit: decimal.NewFromInt(5)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	u, err := m.User(ctx, 1)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(decimal.NewFromInt(10)))
	assert.Empty(t, m.Entries())
}

func TestMemoryBalanceNeverNegative(t *testing.T) {
	m := NewMemory()
	m.AddUser(domain.User{ID: 1, Balance: decimal.NewFromInt(3)})
	ctx := context.Background()

	err := m.InTx(ctx, func(tx Tx) error {
		_, err := tx.AdjustBalance(ctx, 1, decimal.NewFromInt(-4))
		return err
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestMemorySettleOnlyPending(t *testing.T) {
	m := NewMemory()
	m.AddUser(domain.User{ID: 1})
	ctx := context.Background()

	tr := &domain.Transaction{UserID: 1, Kind: domain.KindDeposit, Status: domain.StatusPending, Amount: decimal.NewFromInt(1)}
	require.NoError(t, m.InTx(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, tr) }))

	settle := func() error {
		return m.InTx(ctx, func(tx Tx) error {
			return tx.SettleTransaction(ctx, tr.ID, domain.StatusApproved, "ext-1", nil, nil)
		})
	}
	require.NoError(t, settle())
	assert.ErrorIs(t, settle(), ErrNotPending)

	got, err := m.TransactionByExternalID(ctx, "", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, got.Status)
}
