package purchase_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datashop/internal/catalog"
	"datashop/internal/common/database"
	"datashop/internal/common/money"
	"datashop/internal/paystack"
	"datashop/internal/purchase"
	"datashop/internal/store"
	"datashop/internal/wallet"
)

// fakeGateway hands out sequential references and settles whatever it is
// told to settle.
type fakeGateway struct {
	nextRef   int
	charges   map[string]money.Money
	status    string
	initErr   error
	verifyErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{charges: make(map[string]money.Money), status: "success"}
}

func (g *fakeGateway) InitializeCharge(_ context.Context, amount money.Money, email string) (*paystack.ChargeInit, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.nextRef++
	ref := fmt.Sprintf("PS-%d", g.nextRef)
	g.charges[ref] = amount
	return &paystack.ChargeInit{
		Reference:        ref,
		AuthorizationURL: "https://checkout.example.com/" + ref,
		AccessCode:       "ac_" + ref,
	}, nil
}

func (g *fakeGateway) VerifyCharge(_ context.Context, reference string) (*paystack.ChargeVerification, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	amount, ok := g.charges[reference]
	if !ok {
		return &paystack.ChargeVerification{Reference: reference, Status: "abandoned"}, nil
	}
	return &paystack.ChargeVerification{Reference: reference, Status: g.status, Amount: amount}, nil
}

type fixture struct {
	engine  *wallet.Engine
	store   *store.Memory
	gateway *fakeGateway
	service *purchase.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemory()
	engine := wallet.NewEngine(mem, nil, logger)
	gateway := newFakeGateway()
	service := purchase.NewService(engine, mem, catalog.Default(), gateway, nil, logger)
	return &fixture{engine: engine, store: mem, gateway: gateway, service: service}
}

func (f *fixture) fund(t *testing.T, key string, minor int64) {
	t.Helper()
	_, err := f.engine.Credit(context.Background(), key, money.New(minor, money.GHS), "")
	require.NoError(t, err)
}

func TestWalletPurchaseDebitsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice@example.com", 5000)

	result, err := f.service.Purchase(ctx, purchase.PurchaseRequest{
		WalletKey: "alice@example.com",
		Network:   "MTN",
		Bundle:    "5GB",
		Recipient: "0241234567",
		Method:    purchase.MethodWallet,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Purchase)
	assert.Nil(t, result.Payment)

	p := result.Purchase
	assert.Equal(t, purchase.StatusCompleted, p.Status)
	assert.Equal(t, int64(2650), p.Price.AmountMinor)
	assert.NotEmpty(t, p.TransactionID)
	require.NotNil(t, p.CompletedAt)

	balance, err := f.engine.Balance(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2350), balance.AmountMinor)

	txn, err := f.store.GetTransaction(ctx, p.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, wallet.KindPurchase, txn.Kind)
	assert.Equal(t, int64(-2650), txn.Amount.AmountMinor)

	stored, err := f.service.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusCompleted, stored.Status)
}

func TestWalletPurchaseInsufficientFundsLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice@example.com", 500)

	_, err := f.service.Purchase(ctx, purchase.PurchaseRequest{
		WalletKey: "alice@example.com",
		Network:   "MTN",
		Bundle:    "5GB",
		Recipient: "0241234567",
		Method:    purchase.MethodWallet,
	})
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	balance, err := f.engine.Balance(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.AmountMinor)

	purchases, err := f.service.ListPurchases(ctx, "alice@example.com", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, purchases, "a rejected purchase must leave no record")
}

func TestPurchaseUnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.fund(t, "alice@example.com", 5000)

	_, err := f.service.Purchase(context.Background(), purchase.PurchaseRequest{
		WalletKey: "alice@example.com",
		Network:   "MTN",
		Bundle:    "99GB",
		Recipient: "0241234567",
		Method:    purchase.MethodWallet,
	})
	assert.ErrorIs(t, err, catalog.ErrUnknownProduct)
}

func TestPurchaseRejectsUnknownMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Purchase(context.Background(), purchase.PurchaseRequest{
		WalletKey: "alice@example.com",
		Network:   "MTN",
		Bundle:    "5GB",
		Recipient: "0241234567",
		Method:    purchase.Method("cash"),
	})
	assert.Error(t, err)
}

func TestGatewayPurchaseStaysPendingUntilConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Purchase(ctx, purchase.PurchaseRequest{
		WalletKey: "bob@example.com",
		Network:   "TELECEL",
		Bundle:    "10GB",
		Recipient: "0551234567",
		Method:    purchase.MethodGateway,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, purchase.StatusPending, result.Purchase.Status)
	assert.Empty(t, result.Purchase.TransactionID, "gateway purchases never touch the wallet")

	ref := result.Payment.Reference

	confirmed, err := f.service.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, confirmed.Purchase)
	assert.Equal(t, purchase.StatusCompleted, confirmed.Purchase.Status)
	require.NotNil(t, confirmed.Purchase.CompletedAt)

	// Redelivered confirmation stays completed without a second transition.
	again, err := f.service.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusCompleted, again.Purchase.Status)
}

func TestConfirmPaymentFailsOnUnsettledCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Purchase(ctx, purchase.PurchaseRequest{
		WalletKey: "bob@example.com",
		Network:   "TELECEL",
		Bundle:    "10GB",
		Recipient: "0551234567",
		Method:    purchase.MethodGateway,
	})
	require.NoError(t, err)

	f.gateway.status = "failed"
	_, err = f.service.ConfirmPayment(ctx, result.Payment.Reference)
	assert.ErrorIs(t, err, paystack.ErrVerificationFailed)

	stored, err := f.service.GetPurchase(ctx, result.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusPending, stored.Status)
}

func TestCompleteByReferenceAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.Purchase(ctx, purchase.PurchaseRequest{
		WalletKey: "bob@example.com",
		Network:   "TELECEL",
		Bundle:    "10GB",
		Recipient: "0551234567",
		Method:    purchase.MethodGateway,
	})
	require.NoError(t, err)

	_, err = f.service.CompleteByReference(ctx, result.Payment.Reference, money.New(1, money.GHS))
	assert.Error(t, err)

	stored, err := f.service.GetPurchase(ctx, result.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusPending, stored.Status, "a short-paid purchase must stay pending")
}

func TestCompleteByReferenceUnmatched(t *testing.T) {
	f := newFixture(t)

	matched, err := f.service.CompleteByReference(context.Background(), "UNRELATED-REF", money.New(5000, money.GHS))
	require.NoError(t, err)
	assert.False(t, matched, "a plain top-up reference matches no pending payment")
}

func TestRegisterMembershipFromWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice@example.com", 1000)

	result, err := f.service.RegisterMembership(ctx, purchase.RegistrationRequest{
		WalletKey:   "alice@example.com",
		FullName:    "Alice Mensah",
		Phone:       "0241234567",
		Location:    "Accra",
		DateOfBirth: "1995-04-12",
		Method:      purchase.MethodWallet,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Registration)

	reg := result.Registration
	assert.Equal(t, purchase.StatusCompleted, reg.Status)
	assert.Equal(t, catalog.MembershipPrice, reg.Price)
	assert.NotEmpty(t, reg.TransactionID)

	balance, err := f.engine.Balance(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(200), balance.AmountMinor)

	txn, err := f.store.GetTransaction(ctx, reg.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, wallet.KindRegistration, txn.Kind)
}

func TestRegisterMembershipInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, "alice@example.com", 500)

	_, err := f.service.RegisterMembership(ctx, purchase.RegistrationRequest{
		WalletKey:   "alice@example.com",
		FullName:    "Alice Mensah",
		Phone:       "0241234567",
		Location:    "Accra",
		DateOfBirth: "1995-04-12",
		Method:      purchase.MethodWallet,
	})
	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)

	_, err = f.store.GetRegistrationByReference(ctx, "")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestGatewayRegistrationCompletesByReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.service.RegisterMembership(ctx, purchase.RegistrationRequest{
		WalletKey:   "bob@example.com",
		FullName:    "Bob Tetteh",
		Phone:       "0551234567",
		Location:    "Kumasi",
		DateOfBirth: "1990-09-01",
		Method:      purchase.MethodGateway,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, purchase.StatusPending, result.Registration.Status)

	matched, err := f.service.CompleteByReference(ctx, result.Payment.Reference, catalog.MembershipPrice)
	require.NoError(t, err)
	assert.True(t, matched)

	stored, err := f.store.GetRegistrationByReference(ctx, result.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, purchase.StatusCompleted, stored.Status)
}
