package wallet

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeRepo struct {
	wallets map[uuid.UUID]*models.Wallet
	entries []*models.WalletLedgerEntry

	createErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{wallets: map[uuid.UUID]*models.Wallet{}}
}

func (f *fakeRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRepo) Create(_ context.Context, wallet *models.Wallet) error {
	if f.createErr != nil {
		return f.createErr
	}
	wallet.ID = uuid.New()
	f.wallets[wallet.UserID] = wallet
	return nil
}

func (f *fakeRepo) Update(_ context.Context, wallet *models.Wallet) error {
	f.wallets[wallet.UserID] = wallet
	return nil
}

func (f *fakeRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return f.wallets[userID], nil
}

func (f *fakeRepo) FindByUserIDForUpdate(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return f.wallets[userID], nil
}

func (f *fakeRepo) CreateLedgerEntry(_ context.Context, entry *models.WalletLedgerEntry) error {
	entry.ID = uuid.New()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeRepo) ListLedgerEntries(_ context.Context, walletID uuid.UUID, _ int) ([]models.WalletLedgerEntry, error) {
	var out []models.WalletLedgerEntry
	for _, entry := range f.entries {
		if entry.WalletID == walletID {
			out = append(out, *entry)
		}
	}
	return out, nil
}

func (f *fakeRepo) SumLedger(_ context.Context, walletID uuid.UUID) (int64, error) {
	var total int64
	for _, entry := range f.entries {
		if entry.WalletID == walletID {
			total += entry.Type.Sign() * entry.AmountCents
		}
	}
	return total, nil
}

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		WalletRepo:        repo,
		TransactionRunner: fakeTxRunner{},
		Currency:          "usd",
	})
	require.NoError(t, err)
	return svc
}

func TestCreditCreatesWalletOnFirstUse(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo)
	userID := uuid.New()

	entry, err := svc.Credit(context.Background(), MovementParams{
		UserID:      userID,
		AmountCents: 5000,
		Description: "wallet fund",
	})
	require.NoError(t, err)

	assert.Equal(t, enums.LedgerEntryTypeCredit, entry.Type)
	assert.Equal(t, int64(5000), entry.AmountCents)
	assert.Equal(t, int64(5000), entry.BalanceAfter)

	wallet := repo.wallets[userID]
	require.NotNil(t, wallet)
	assert.Equal(t, int64(5000), wallet.BalanceCents)
}

func TestDebitRejectsInsufficientBalance(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo)
	userID := uuid.New()

	_, err := svc.Credit(context.Background(), MovementParams{
		UserID:      userID,
		AmountCents: 1000,
		Description: "wallet fund",
	})
	require.NoError(t, err)

	_, err = svc.Debit(context.Background(), MovementParams{
		UserID:      userID,
		AmountCents: 2500,
		Description: "checkout",
	})
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientFunds, typed.Code())
	details, ok := typed.Details().(map[string]int64)
	require.True(t, ok)
	assert.Equal(t, int64(1000), details["balance_cents"])
	assert.Equal(t, int64(2500), details["required_cents"])

	assert.Equal(t, int64(1000), repo.wallets[userID].BalanceCents)
}

func TestDebitRejectsMissingWallet(t *testing.T) {
	svc := newTestService(t, newFakeRepo())

	_, err := svc.Debit(context.Background(), MovementParams{
		UserID:      uuid.New(),
		AmountCents: 100,
		Description: "checkout",
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientFunds, typed.Code())
}

func TestBalanceMatchesLedgerSum(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo)
	userID := uuid.New()
	ctx := context.Background()

	for _, amount := range []int64{3000, 2000} {
		_, err := svc.Credit(ctx, MovementParams{UserID: userID, AmountCents: amount, Description: "fund"})
		require.NoError(t, err)
	}
	_, err := svc.Debit(ctx, MovementParams{UserID: userID, AmountCents: 1500, Description: "checkout"})
	require.NoError(t, err)

	wallet, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), wallet.BalanceCents)

	sum, err := repo.SumLedger(ctx, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.BalanceCents, sum)
}

func TestMovementValidation(t *testing.T) {
	svc := newTestService(t, newFakeRepo())
	ctx := context.Background()

	_, err := svc.Credit(ctx, MovementParams{AmountCents: 100, Description: "fund"})
	require.Error(t, err)

	_, err = svc.Credit(ctx, MovementParams{UserID: uuid.New(), AmountCents: 0, Description: "fund"})
	require.Error(t, err)

	_, err = svc.Credit(ctx, MovementParams{UserID: uuid.New(), AmountCents: 100})
	require.Error(t, err)
}

func TestBalanceReturnsZeroWalletWhenMissing(t *testing.T) {
	svc := newTestService(t, newFakeRepo())

	wallet, err := svc.Balance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.BalanceCents)
	assert.Equal(t, "usd", wallet.Currency)

	entries, err := svc.Statement(context.Background(), uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
