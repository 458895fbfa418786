package transactions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// Repository handles transaction persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	Update(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByProviderKey(ctx context.Context, orderID uuid.UUID, provider enums.PaymentProvider, providerTxnID string) (*models.Transaction, error)
	FindByProviderTransactionID(ctx context.Context, provider enums.PaymentProvider, providerTxnID string) (*models.Transaction, error)
	FindByProviderChargeID(ctx context.Context, provider enums.PaymentProvider, chargeID string) (*models.Transaction, error)
	FindCompletedByOrder(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) Update(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Save(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Clauses(lockForUpdate()).
		Where("id = ?", id))
}

// FindByProviderKey looks up the row behind the
// (order_id, provider, provider_transaction_id) unique key. Losers of
// a concurrent insert race re-read the winner through this.
func (r *repository) FindByProviderKey(ctx context.Context, orderID uuid.UUID, provider enums.PaymentProvider, providerTxnID string) (*models.Transaction, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("order_id = ? AND provider = ? AND provider_transaction_id = ?", orderID, provider, providerTxnID))
}

func (r *repository) FindByProviderTransactionID(ctx context.Context, provider enums.PaymentProvider, providerTxnID string) (*models.Transaction, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("provider = ? AND provider_transaction_id = ?", provider, providerTxnID))
}

func (r *repository) FindByProviderChargeID(ctx context.Context, provider enums.PaymentProvider, chargeID string) (*models.Transaction, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("provider = ? AND provider_charge_id = ?", provider, chargeID))
}

func (r *repository) FindCompletedByOrder(ctx context.Context, orderID uuid.UUID) (*models.Transaction, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusCompleted).
		Order("created_at ASC"))
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Transaction, error) {
	var txns []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&txns).Error; err != nil {
		return nil, err
	}
	return txns, nil
}

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

func (r *repository) findOne(ctx context.Context, query *gorm.DB) (*models.Transaction, error) {
	var txn models.Transaction
	if err := query.First(&txn).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}
