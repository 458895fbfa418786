package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nileshop/nileshop-backend/pkg/db/models"
)

// Repository handles wallet and ledger persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, wallet *models.Wallet) error
	Update(ctx context.Context, wallet *models.Wallet) error
	FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	FindByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	CreateLedgerEntry(ctx context.Context, entry *models.WalletLedgerEntry) error
	ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletLedgerEntry, error)
	SumLedger(ctx context.Context, walletID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *repository) Update(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Save(wallet).Error
}

func (r *repository) FindByUserID(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("user_id = ?", userID))
}

// FindByUserIDForUpdate locks the wallet row so concurrent movements
// serialize on the balance.
func (r *repository) FindByUserIDForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID))
}

func (r *repository) CreateLedgerEntry(ctx context.Context, entry *models.WalletLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListLedgerEntries(ctx context.Context, walletID uuid.UUID, limit int) ([]models.WalletLedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.WalletLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// SumLedger recomputes the balance from the signed ledger. Used to
// audit the cached wallet balance.
func (r *repository) SumLedger(ctx context.Context, walletID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.WalletLedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN type = 'debit' THEN -amount_cents ELSE amount_cents END), 0)").
		Where("wallet_id = ?", walletID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repository) findOne(ctx context.Context, query *gorm.DB) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := query.First(&wallet).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}
