package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datashop/internal/common/database"
	"datashop/internal/common/money"
	"datashop/internal/purchase"
	"datashop/internal/wallet"
)

func seedWallet(t *testing.T, m *Memory, key string, balance int64) {
	t.Helper()
	now := time.Now().UTC()
	err := m.WithTx(context.Background(), func(tx wallet.TxStore) error {
		return tx.CreateWallet(context.Background(), &wallet.Wallet{
			Key:       key,
			Balance:   money.New(balance, money.GHS),
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	require.NoError(t, err)
}

func TestWithTxDiscardsStagedWritesOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedWallet(t, m, "alice@example.com", 1000)

	err := m.WithTx(ctx, func(tx wallet.TxStore) error {
		w, err := tx.GetWalletForUpdate(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NoError(t, tx.UpdateBalance(ctx, w.Key, 0, w.Version))
		require.NoError(t, tx.AppendTransaction(ctx, &wallet.Transaction{
			ID:        "t1",
			WalletKey: w.Key,
			Kind:      wallet.KindPurchase,
			Amount:    money.New(-1000, money.GHS),
			CreatedAt: time.Now().UTC(),
		}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	w, err := m.GetWallet(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), w.Balance.AmountMinor)

	_, err = m.GetTransaction(ctx, "t1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestWithTxObservesOwnStagedWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx wallet.TxStore) error {
		now := time.Now().UTC()
		if err := tx.CreateWallet(ctx, &wallet.Wallet{Key: "k", Balance: money.Zero(money.GHS), CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		w, err := tx.GetWalletForUpdate(ctx, "k")
		if err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, "k", 500, w.Version)
	})
	require.NoError(t, err)

	w, err := m.GetWallet(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(500), w.Balance.AmountMinor)
	assert.Equal(t, int64(1), w.Version)
}

func TestUpdateBalanceVersionConflict(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedWallet(t, m, "k", 100)

	err := m.WithTx(ctx, func(tx wallet.TxStore) error {
		return tx.UpdateBalance(ctx, "k", 0, 99)
	})
	assert.ErrorIs(t, err, database.ErrConflict)
}

func TestClaimReferenceExactlyOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx wallet.TxStore) error {
		fresh, _, err := tx.ClaimReference(ctx, "REF123", "outcome-1")
		require.NoError(t, err)
		assert.True(t, fresh)
		return nil
	})
	require.NoError(t, err)

	err = m.WithTx(ctx, func(tx wallet.TxStore) error {
		fresh, prior, err := tx.ClaimReference(ctx, "REF123", "outcome-2")
		require.NoError(t, err)
		assert.False(t, fresh)
		assert.Equal(t, "outcome-1", prior)
		return nil
	})
	require.NoError(t, err)
}

func TestClaimReferenceNotCommittedOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.WithTx(ctx, func(tx wallet.TxStore) error {
		_, _, err := tx.ClaimReference(ctx, "REF123", "outcome-1")
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = m.WithTx(ctx, func(tx wallet.TxStore) error {
		fresh, _, err := tx.ClaimReference(ctx, "REF123", "outcome-2")
		require.NoError(t, err)
		assert.True(t, fresh, "a claim from a failed unit must not stick")
		return nil
	})
	require.NoError(t, err)
}

func TestCompletePurchaseIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, m.InsertPurchase(ctx, &purchase.Purchase{
		ID:               "p1",
		WalletKey:        "alice@example.com",
		Network:          "MTN",
		Bundle:           "5GB",
		Recipient:        "0241234567",
		Price:            money.New(2650, money.GHS),
		Method:           purchase.MethodGateway,
		Status:           purchase.StatusPending,
		GatewayReference: "REF123",
		CreatedAt:        now,
		UpdatedAt:        now,
	}))

	p, fresh, err := m.CompletePurchase(ctx, "REF123")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, purchase.StatusCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)

	p, fresh, err = m.CompletePurchase(ctx, "REF123")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, purchase.StatusCompleted, p.Status)

	_, _, err = m.CompletePurchase(ctx, "UNKNOWN")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestListPurchasesNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, m.InsertPurchase(ctx, &purchase.Purchase{
			ID:        id,
			WalletKey: "alice@example.com",
			Network:   "MTN",
			Bundle:    "1GB",
			Recipient: "0241234567",
			Price:     money.New(530, money.GHS),
			Method:    purchase.MethodWallet,
			Status:    purchase.StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := m.ListPurchases(ctx, "alice@example.com", 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p3", got[0].ID)
	assert.Equal(t, "p2", got[1].ID)

	rest, err := m.ListPurchases(ctx, "alice@example.com", 2, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "p1", rest[0].ID)

	oldest, err := m.ListPurchaseHistory(ctx, "alice@example.com", 2, 0)
	require.NoError(t, err)
	require.Len(t, oldest, 2)
	assert.Equal(t, "p1", oldest[0].ID)
	assert.Equal(t, "p2", oldest[1].ID)
}
