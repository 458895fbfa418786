package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/internal/orders"
	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/internal/transactions"
	"github.com/nileshop/nileshop-backend/internal/wallet"
	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeTxnRepo struct {
	rows map[uuid.UUID]*models.Transaction
}

func (f *fakeTxnRepo) WithTx(tx *gorm.DB) transactions.Repository { return f }

func (f *fakeTxnRepo) Create(_ context.Context, txn *models.Transaction) error {
	txn.ID = uuid.New()
	f.rows[txn.ID] = txn
	return nil
}

func (f *fakeTxnRepo) Update(_ context.Context, txn *models.Transaction) error {
	f.rows[txn.ID] = txn
	return nil
}

func (f *fakeTxnRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	return f.rows[id], nil
}

func (f *fakeTxnRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeTxnRepo) FindByProviderKey(_ context.Context, _ uuid.UUID, _ enums.PaymentProvider, _ string) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeTxnRepo) FindByProviderTransactionID(_ context.Context, _ enums.PaymentProvider, _ string) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeTxnRepo) FindByProviderChargeID(_ context.Context, _ enums.PaymentProvider, _ string) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeTxnRepo) FindCompletedByOrder(_ context.Context, _ uuid.UUID) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeTxnRepo) ListByOrder(_ context.Context, _ uuid.UUID) ([]models.Transaction, error) {
	return nil, nil
}

type fakeOrderRepo struct {
	byID map[uuid.UUID]*models.Order
}

func (f *fakeOrderRepo) WithTx(tx *gorm.DB) orders.Repository { return f }

func (f *fakeOrderRepo) Create(_ context.Context, order *models.Order) error {
	order.ID = uuid.New()
	f.byID[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) CreateItems(_ context.Context, _ []models.OrderItem) error { return nil }

func (f *fakeOrderRepo) ListItems(_ context.Context, _ uuid.UUID) ([]models.OrderItem, error) {
	return nil, nil
}

func (f *fakeOrderRepo) Update(_ context.Context, order *models.Order) error {
	f.byID[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	return f.byID[id], nil
}

func (f *fakeOrderRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeOrderRepo) MarkPaid(_ context.Context, id uuid.UUID, _ time.Time) error {
	f.byID[id].Status = enums.OrderStatusPaid
	return nil
}

func (f *fakeOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status enums.OrderStatus) error {
	f.byID[id].Status = status
	return nil
}

type fakeWallet struct {
	credits []wallet.MovementParams
}

func (f *fakeWallet) CreditTx(_ context.Context, _ *gorm.DB, params wallet.MovementParams) (*models.WalletLedgerEntry, error) {
	f.credits = append(f.credits, params)
	return &models.WalletLedgerEntry{ID: uuid.New()}, nil
}

type fakeAdapter struct {
	provider    enums.PaymentProvider
	chargeID    string
	refundCalls []providers.RefundRequest

	// refundHook runs while the provider refund call is in flight.
	refundHook func()
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return f.provider }

func (f *fakeAdapter) CreateIntent(_ context.Context, _ providers.IntentRequest) (*providers.IntentHandle, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented")
}

func (f *fakeAdapter) RetrieveIntent(_ context.Context, intentID string) (*providers.IntentHandle, error) {
	return &providers.IntentHandle{IntentID: intentID}, nil
}

func (f *fakeAdapter) LookupChargeID(_ context.Context, _ string) (string, error) {
	return f.chargeID, nil
}

func (f *fakeAdapter) Refund(_ context.Context, req providers.RefundRequest) (*providers.RefundHandle, error) {
	if f.refundHook != nil {
		f.refundHook()
	}
	f.refundCalls = append(f.refundCalls, req)
	return &providers.RefundHandle{RefundID: "re_1", Status: "succeeded"}, nil
}

type refundFixture struct {
	service *Service
	txns    *fakeTxnRepo
	orders  *fakeOrderRepo
	wallet  *fakeWallet
	adapter *fakeAdapter
}

func newFixture(t *testing.T) *refundFixture {
	t.Helper()
	fixture := &refundFixture{
		txns:    &fakeTxnRepo{rows: map[uuid.UUID]*models.Transaction{}},
		orders:  &fakeOrderRepo{byID: map[uuid.UUID]*models.Order{}},
		wallet:  &fakeWallet{},
		adapter: &fakeAdapter{provider: enums.PaymentProviderStripe},
	}
	service, err := NewService(ServiceParams{
		TransactionRepo:   fixture.txns,
		OrderRepo:         fixture.orders,
		WalletService:     fixture.wallet,
		Adapters:          []providers.Adapter{fixture.adapter},
		TransactionRunner: &fakeTxRunner{},
	})
	require.NoError(t, err)
	fixture.service = service
	return fixture
}

func (f *refundFixture) seedCompleted(amountCents int64, chargeID string) *models.Transaction {
	userID := uuid.New()
	order := &models.Order{ID: uuid.New(), Number: "ORD-000001", UserID: &userID, AmountCents: amountCents, Currency: "usd", Status: enums.OrderStatusPaid}
	f.orders.byID[order.ID] = order

	txn := &models.Transaction{
		ID:                    uuid.New(),
		OrderID:               order.ID,
		Provider:              enums.PaymentProviderStripe,
		ProviderTransactionID: "pi_1",
		AmountCents:           amountCents,
		Currency:              "usd",
		Status:                enums.TransactionStatusCompleted,
	}
	if chargeID != "" {
		txn.ProviderChargeID = &chargeID
	}
	f.txns.rows[txn.ID] = txn
	return txn
}

func TestRefund_FullViaProvider(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(2500, "ch_1")

	result, err := fixture.service.Refund(context.Background(), RefundParams{
		TransactionID: txn.ID,
		Reason:        "requested_by_customer",
	})
	require.NoError(t, err)

	require.Len(t, fixture.adapter.refundCalls, 1)
	call := fixture.adapter.refundCalls[0]
	assert.Equal(t, "ch_1", call.ChargeID)
	assert.Equal(t, int64(2500), call.AmountCents)

	assert.True(t, result.FullyRefunded)
	assert.Equal(t, "re_1", result.ProviderRefundID)
	assert.Equal(t, enums.TransactionStatusRefunded, txn.Status)
	require.NotNil(t, txn.ProviderRefundID)
	assert.Equal(t, enums.OrderStatusRefunded, fixture.orders.byID[txn.OrderID].Status)
}

func TestRefund_PartialKeepsTransactionCompleted(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(2500, "ch_1")

	result, err := fixture.service.Refund(context.Background(), RefundParams{
		TransactionID: txn.ID,
		AmountCents:   1000,
	})
	require.NoError(t, err)

	assert.False(t, result.FullyRefunded)
	assert.Equal(t, int64(1000), result.RefundedAmountCents)
	assert.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, enums.OrderStatusPaid, fixture.orders.byID[txn.OrderID].Status)
}

func TestRefund_BackfillsChargeIDFromProvider(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(2500, "")
	fixture.adapter.chargeID = "ch_resolved"

	_, err := fixture.service.Refund(context.Background(), RefundParams{TransactionID: txn.ID})
	require.NoError(t, err)

	require.Len(t, fixture.adapter.refundCalls, 1)
	assert.Equal(t, "ch_resolved", fixture.adapter.refundCalls[0].ChargeID)
	require.NotNil(t, txn.ProviderChargeID)
	assert.Equal(t, "ch_resolved", *txn.ProviderChargeID)
}

func TestRefund_RejectsAmountAboveRefundable(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(2500, "ch_1")
	txn.RefundedAmountCents = 2000

	_, err := fixture.service.Refund(context.Background(), RefundParams{
		TransactionID: txn.ID,
		AmountCents:   1000,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Empty(t, fixture.adapter.refundCalls)
}

func TestRefund_RejectsWalletRefundedTransaction(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(2500, "ch_1")
	txn.RefundedToWallet = true
	txn.RefundedAmountCents = 0

	_, err := fixture.service.Refund(context.Background(), RefundParams{TransactionID: txn.ID})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
}

func TestRefund_WalletRefundDuringProviderCallIsNotDoubleApplied(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(1000, "ch_1")
	fixture.adapter.refundHook = func() {
		_, hookErr := fixture.service.RefundToWallet(context.Background(), RefundParams{TransactionID: txn.ID})
		require.NoError(t, hookErr)
	}

	_, err := fixture.service.Refund(context.Background(), RefundParams{TransactionID: txn.ID})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())

	require.Len(t, fixture.wallet.credits, 1)
	assert.Equal(t, int64(1000), txn.RefundedAmountCents, "refund never exceeds the captured amount")
	assert.True(t, txn.RefundedToWallet)
	assert.Nil(t, txn.ProviderRefundID)
	assert.Equal(t, enums.TransactionStatusRefunded, txn.Status)
}

func TestRefund_UnknownTransaction(t *testing.T) {
	fixture := newFixture(t)

	_, err := fixture.service.Refund(context.Background(), RefundParams{TransactionID: uuid.New()})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRefundToWallet_CreditsOrderOwner(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(2500, "ch_1")
	order := fixture.orders.byID[txn.OrderID]

	result, err := fixture.service.RefundToWallet(context.Background(), RefundParams{TransactionID: txn.ID})
	require.NoError(t, err)

	require.Len(t, fixture.wallet.credits, 1)
	credit := fixture.wallet.credits[0]
	assert.Equal(t, *order.UserID, credit.UserID)
	assert.Equal(t, int64(2500), credit.AmountCents)
	require.NotNil(t, credit.TransactionID)
	assert.Equal(t, txn.ID, *credit.TransactionID)

	assert.True(t, result.ToWallet)
	assert.True(t, result.FullyRefunded)
	assert.True(t, txn.RefundedToWallet)
	assert.Equal(t, enums.TransactionStatusRefunded, txn.Status)
	assert.Equal(t, enums.OrderStatusRefunded, order.Status)
	assert.Empty(t, fixture.adapter.refundCalls, "wallet refunds never touch the provider")
}

func TestRefundToWallet_RejectsProviderRefundedTransaction(t *testing.T) {
	fixture := newFixture(t)
	txn := fixture.seedCompleted(2500, "ch_1")
	refundID := "re_prior"
	txn.ProviderRefundID = &refundID

	_, err := fixture.service.RefundToWallet(context.Background(), RefundParams{TransactionID: txn.ID})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code())
	assert.Empty(t, fixture.wallet.credits)
}
