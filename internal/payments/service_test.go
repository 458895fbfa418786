package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/internal/orders"
	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/internal/transactions"
	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeAttemptRepo struct {
	byKey map[string]*models.PaymentAttempt

	createErr   error
	failedIDs   []uuid.UUID
	failReasons []string
}

func newFakeAttemptRepo() *fakeAttemptRepo {
	return &fakeAttemptRepo{byKey: map[string]*models.PaymentAttempt{}}
}

func attemptKey(orderID uuid.UUID, key string) string {
	return orderID.String() + "/" + key
}

func (f *fakeAttemptRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeAttemptRepo) Create(_ context.Context, attempt *models.PaymentAttempt) error {
	if f.createErr != nil {
		return f.createErr
	}
	attempt.ID = uuid.New()
	f.byKey[attemptKey(attempt.OrderID, attempt.IdempotencyKey)] = attempt
	return nil
}

func (f *fakeAttemptRepo) Update(_ context.Context, attempt *models.PaymentAttempt) error {
	f.byKey[attemptKey(attempt.OrderID, attempt.IdempotencyKey)] = attempt
	return nil
}

func (f *fakeAttemptRepo) FindByOrderAndKey(_ context.Context, orderID uuid.UUID, key string) (*models.PaymentAttempt, error) {
	return f.byKey[attemptKey(orderID, key)], nil
}

func (f *fakeAttemptRepo) FindByProviderIntentID(_ context.Context, provider enums.PaymentProvider, intentID string) (*models.PaymentAttempt, error) {
	for _, attempt := range f.byKey {
		if attempt.Provider == provider && attempt.ProviderIntentID != nil && *attempt.ProviderIntentID == intentID {
			return attempt, nil
		}
	}
	return nil, nil
}

func (f *fakeAttemptRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	f.failedIDs = append(f.failedIDs, id)
	f.failReasons = append(f.failReasons, reason)
	for _, attempt := range f.byKey {
		if attempt.ID == id {
			attempt.Status = enums.AttemptStatusFailed
		}
	}
	return nil
}

func (f *fakeAttemptRepo) MarkProcessed(_ context.Context, id uuid.UUID) error {
	for _, attempt := range f.byKey {
		if attempt.ID == id {
			attempt.Status = enums.AttemptStatusProcessed
		}
	}
	return nil
}

type fakeOrderRepo struct {
	byID map[uuid.UUID]*models.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{byID: map[uuid.UUID]*models.Order{}}
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

func (f *fakeOrderRepo) FindByIDForUpdate(_ context.Context, id uuid.UUID) (*models.Order, error) {
	return f.byID[id], nil
}

func (f *fakeOrderRepo) MarkPaid(_ context.Context, id uuid.UUID, paidAt time.Time) error {
	if order, ok := f.byID[id]; ok {
		order.Status = enums.OrderStatusPaid
		order.PaidAt = &paidAt
	}
	return nil
}

func (f *fakeOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status enums.OrderStatus) error {
	if order, ok := f.byID[id]; ok {
		order.Status = status
	}
	return nil
}

type fakeTxnRepo struct {
	transactions.Repository
	completed *models.Transaction
}

func (f fakeTxnRepo) FindCompletedByOrder(_ context.Context, _ uuid.UUID) (*models.Transaction, error) {
	return f.completed, nil
}

type fakeAdapter struct {
	provider enums.PaymentProvider

	createCalls   int
	retrieveCalls int
	lastRequest   providers.IntentRequest

	handle      *providers.IntentHandle
	createErr   error
	retrieveErr error
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return f.provider }

func (f *fakeAdapter) CreateIntent(_ context.Context, req providers.IntentRequest) (*providers.IntentHandle, error) {
	f.createCalls++
	f.lastRequest = req
	return f.handle, f.createErr
}

func (f *fakeAdapter) RetrieveIntent(_ context.Context, intentID string) (*providers.IntentHandle, error) {
	f.retrieveCalls++
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return &providers.IntentHandle{IntentID: intentID, ClientSecret: "secret-" + intentID, Status: providers.IntentStatusRequiresAction}, nil
}

func (f *fakeAdapter) LookupChargeID(_ context.Context, intentID string) (string, error) {
	return "", nil
}

func (f *fakeAdapter) Refund(_ context.Context, req providers.RefundRequest) (*providers.RefundHandle, error) {
	return &providers.RefundHandle{RefundID: "re_1", Status: "succeeded"}, nil
}

func newTestService(t *testing.T, attemptRepo Repository, orderRepo orders.Repository, adapter providers.Adapter) *Service {
	t.Helper()
	return newTestServiceWithTxns(t, attemptRepo, orderRepo, fakeTxnRepo{}, adapter)
}

func newTestServiceWithTxns(t *testing.T, attemptRepo Repository, orderRepo orders.Repository, txnRepo transactions.Repository, adapter providers.Adapter) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		AttemptRepo:       attemptRepo,
		OrderRepo:         orderRepo,
		TransactionRepo:   txnRepo,
		Adapters:          []providers.Adapter{adapter},
		TransactionRunner: fakeTxRunner{},
		Currency:          "usd",
	})
	require.NoError(t, err)
	return svc
}

func seedOrder(repo *fakeOrderRepo, amountCents int64, status enums.OrderStatus) *models.Order {
	userID := uuid.New()
	order := &models.Order{
		ID:          uuid.New(),
		Number:      "ORD-000001",
		UserID:      &userID,
		AmountCents: amountCents,
		Currency:    "usd",
		Status:      status,
	}
	repo.byID[order.ID] = order
	return order
}

func TestCreateIntentPersistsAttempt(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderStripe,
		handle:   &providers.IntentHandle{IntentID: "pi_1", ClientSecret: "cs_1", Status: providers.IntentStatusRequiresAction},
	}
	svc := newTestService(t, attemptRepo, orderRepo, adapter)
	order := seedOrder(orderRepo, 2500, enums.OrderStatusPending)
	key := uuid.NewString()

	result, err := svc.CreateOrResumeIntent(context.Background(), IntentParams{
		OrderID:        order.ID,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: key,
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_1", result.IntentID)
	assert.Equal(t, "cs_1", result.ClientSecret)
	assert.False(t, result.AlreadyPaid)
	assert.False(t, result.Resumed)

	assert.Equal(t, key, adapter.lastRequest.IdempotencyKey)
	assert.Equal(t, int64(2500), adapter.lastRequest.AmountCents)

	attempt := attemptRepo.byKey[attemptKey(order.ID, key)]
	require.NotNil(t, attempt)
	require.NotNil(t, attempt.ProviderIntentID)
	assert.Equal(t, "pi_1", *attempt.ProviderIntentID)
	require.NotNil(t, attempt.ClientSecret)
	assert.Equal(t, "cs_1", *attempt.ClientSecret)
	assert.NotEmpty(t, attempt.RequestPayload)

	stored := orderRepo.byID[order.ID]
	assert.Equal(t, enums.OrderStatusProcessing, stored.Status)
	require.NotNil(t, stored.LastIdempotencyKey)
	assert.Equal(t, key, *stored.LastIdempotencyKey)
}

func TestRetryWithSameKeyResumesIntent(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderStripe,
		handle:   &providers.IntentHandle{IntentID: "pi_1", ClientSecret: "cs_1", Status: providers.IntentStatusRequiresAction},
	}
	svc := newTestService(t, attemptRepo, orderRepo, adapter)
	order := seedOrder(orderRepo, 2500, enums.OrderStatusPending)

	params := IntentParams{OrderID: order.ID, Provider: enums.PaymentProviderStripe, IdempotencyKey: uuid.NewString()}
	_, err := svc.CreateOrResumeIntent(context.Background(), params)
	require.NoError(t, err)

	result, err := svc.CreateOrResumeIntent(context.Background(), params)
	require.NoError(t, err)

	assert.True(t, result.Resumed)
	assert.Equal(t, "pi_1", result.IntentID)
	assert.Equal(t, "cs_1", result.ClientSecret, "retries must see the secret from the first call")
	assert.Equal(t, 1, adapter.createCalls, "provider intent must be created exactly once")
	assert.Zero(t, adapter.retrieveCalls, "resume answers from the stored attempt")
}

func TestResumeReturnsStoredCheckoutURL(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderPaymob,
		handle: &providers.IntentHandle{
			IntentID:     "990011",
			ClientSecret: "pk_first",
			CheckoutURL:  "https://accept.paymob.com/api/acceptance/iframes/99?payment_token=pk_first",
			Status:       providers.IntentStatusRequiresAction,
		},
	}
	svc := newTestService(t, attemptRepo, orderRepo, adapter)
	order := seedOrder(orderRepo, 2500, enums.OrderStatusPending)

	params := IntentParams{OrderID: order.ID, Provider: enums.PaymentProviderPaymob, IdempotencyKey: uuid.NewString()}
	first, err := svc.CreateOrResumeIntent(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, "pk_first", first.ClientSecret)

	second, err := svc.CreateOrResumeIntent(context.Background(), params)
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, "pk_first", second.ClientSecret)
	assert.Equal(t, first.CheckoutURL, second.CheckoutURL)
	assert.Zero(t, adapter.retrieveCalls)
}

func TestPaidOrderShortCircuitsWithSettledIntent(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{provider: enums.PaymentProviderStripe}
	order := seedOrder(orderRepo, 2500, enums.OrderStatusPaid)
	svc := newTestServiceWithTxns(t, attemptRepo, orderRepo, fakeTxnRepo{
		completed: &models.Transaction{
			ID:                    uuid.New(),
			OrderID:               order.ID,
			Provider:              enums.PaymentProviderStripe,
			ProviderTransactionID: "pi_done",
			Status:                enums.TransactionStatusCompleted,
		},
	}, adapter)

	result, err := svc.CreateOrResumeIntent(context.Background(), IntentParams{
		OrderID:        order.ID,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	assert.True(t, result.AlreadyPaid)
	assert.Equal(t, "pi_done", result.IntentID)
	assert.Zero(t, adapter.createCalls)
}

func TestCancelledOrderCannotBeCharged(t *testing.T) {
	for _, status := range []enums.OrderStatus{
		enums.OrderStatusCancelled,
		enums.OrderStatusFailed,
		enums.OrderStatusRefunded,
	} {
		attemptRepo := newFakeAttemptRepo()
		orderRepo := newFakeOrderRepo()
		adapter := &fakeAdapter{provider: enums.PaymentProviderStripe}
		svc := newTestService(t, attemptRepo, orderRepo, adapter)
		order := seedOrder(orderRepo, 2500, status)

		_, err := svc.CreateOrResumeIntent(context.Background(), IntentParams{
			OrderID:        order.ID,
			Provider:       enums.PaymentProviderStripe,
			IdempotencyKey: uuid.NewString(),
		})
		require.Error(t, err, "status %s", status)
		typed := pkgerrors.As(err)
		require.NotNil(t, typed)
		assert.Equal(t, pkgerrors.CodeStateConflict, typed.Code(), "status %s", status)
		assert.Zero(t, adapter.createCalls, "status %s", status)
	}
}

func TestInsertRaceResumesWinner(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{provider: enums.PaymentProviderStripe}
	svc := newTestService(t, attemptRepo, orderRepo, adapter)
	order := seedOrder(orderRepo, 2500, enums.OrderStatusPending)
	key := uuid.NewString()

	winnerIntentID := "pi_winner"
	winnerSecret := "cs_winner"
	attemptRepo.byKey[attemptKey(order.ID, key)] = &models.PaymentAttempt{
		ID:               uuid.New(),
		OrderID:          order.ID,
		IdempotencyKey:   key,
		Provider:         enums.PaymentProviderStripe,
		ProviderIntentID: &winnerIntentID,
		ClientSecret:     &winnerSecret,
		Status:           enums.AttemptStatusPending,
	}

	result, err := svc.CreateOrResumeIntent(context.Background(), IntentParams{
		OrderID:        order.ID,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: key,
	})
	require.NoError(t, err)

	assert.True(t, result.Resumed)
	assert.Equal(t, winnerIntentID, result.IntentID)
	assert.Equal(t, winnerSecret, result.ClientSecret)
	assert.Zero(t, adapter.createCalls)
}

func TestProviderFailureMarksAttemptFailed(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{
		provider:  enums.PaymentProviderStripe,
		createErr: providers.Transient(errors.New("stripe down"), "create stripe payment intent"),
	}
	svc := newTestService(t, attemptRepo, orderRepo, adapter)
	order := seedOrder(orderRepo, 2500, enums.OrderStatusPending)
	key := uuid.NewString()

	_, err := svc.CreateOrResumeIntent(context.Background(), IntentParams{
		OrderID:        order.ID,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: key,
	})
	require.Error(t, err)

	require.Len(t, attemptRepo.failedIDs, 1)
	attempt := attemptRepo.byKey[attemptKey(order.ID, key)]
	require.NotNil(t, attempt)
	assert.Equal(t, enums.AttemptStatusFailed, attempt.Status)
}

func TestFailedAttemptRetriesProvider(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderStripe,
		handle:   &providers.IntentHandle{IntentID: "pi_2", ClientSecret: "cs_2", Status: providers.IntentStatusRequiresAction},
	}
	svc := newTestService(t, attemptRepo, orderRepo, adapter)
	order := seedOrder(orderRepo, 2500, enums.OrderStatusPending)
	key := uuid.NewString()

	attemptRepo.byKey[attemptKey(order.ID, key)] = &models.PaymentAttempt{
		ID:             uuid.New(),
		OrderID:        order.ID,
		IdempotencyKey: key,
		Provider:       enums.PaymentProviderStripe,
		Status:         enums.AttemptStatusFailed,
	}

	result, err := svc.CreateOrResumeIntent(context.Background(), IntentParams{
		OrderID:        order.ID,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: key,
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_2", result.IntentID)
	assert.Equal(t, 1, adapter.createCalls)
}

func TestFundWalletStampsMetadata(t *testing.T) {
	attemptRepo := newFakeAttemptRepo()
	orderRepo := newFakeOrderRepo()
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderStripe,
		handle:   &providers.IntentHandle{IntentID: "pi_fund", ClientSecret: "cs_fund", Status: providers.IntentStatusRequiresAction},
	}
	svc := newTestService(t, attemptRepo, orderRepo, adapter)
	userID := uuid.New()

	result, err := svc.FundWallet(context.Background(), FundWalletParams{
		UserID:         userID,
		AmountCents:    10000,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_fund", result.IntentID)
	assert.Equal(t, IntentTypeWalletFund, adapter.lastRequest.Metadata[MetadataKeyType])
	assert.Equal(t, userID.String(), adapter.lastRequest.Metadata[MetadataKeyUserID])

	require.Len(t, orderRepo.byID, 1)
	for _, order := range orderRepo.byID {
		require.NotNil(t, order.UserID)
		assert.Equal(t, userID, *order.UserID)
		assert.Equal(t, enums.OrderKindWalletTopup, order.Kind)
		assert.Equal(t, int64(10000), order.AmountCents)
	}
}

func TestFundWalletRejectsMalformedKey(t *testing.T) {
	orderRepo := newFakeOrderRepo()
	svc := newTestService(t, newFakeAttemptRepo(), orderRepo, &fakeAdapter{provider: enums.PaymentProviderStripe})

	_, err := svc.FundWallet(context.Background(), FundWalletParams{
		UserID:         uuid.New(),
		AmountCents:    5000,
		Provider:       enums.PaymentProviderStripe,
		IdempotencyKey: "fund-1",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	assert.Empty(t, orderRepo.byID, "no top-up order for a rejected key")
}

func TestValidation(t *testing.T) {
	svc := newTestService(t, newFakeAttemptRepo(), newFakeOrderRepo(), &fakeAdapter{provider: enums.PaymentProviderStripe})
	ctx := context.Background()

	_, err := svc.CreateOrResumeIntent(ctx, IntentParams{Provider: enums.PaymentProviderWallet, OrderID: uuid.New(), IdempotencyKey: uuid.NewString()})
	require.Error(t, err)

	_, err = svc.CreateOrResumeIntent(ctx, IntentParams{Provider: enums.PaymentProviderStripe, IdempotencyKey: uuid.NewString()})
	require.Error(t, err)

	_, err = svc.CreateOrResumeIntent(ctx, IntentParams{Provider: enums.PaymentProviderStripe, OrderID: uuid.New()})
	require.Error(t, err)

	_, err = svc.CreateOrResumeIntent(ctx, IntentParams{Provider: enums.PaymentProviderStripe, OrderID: uuid.New(), IdempotencyKey: "not-a-uuid"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())

	_, err = svc.CreateOrResumeIntent(ctx, IntentParams{Provider: enums.PaymentProviderStripe, OrderID: uuid.New(), IdempotencyKey: uuid.NewString()})
	require.Error(t, err)
	typed = pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
