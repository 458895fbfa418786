package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// Repository handles payment attempt persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	Update(ctx context.Context, attempt *models.PaymentAttempt) error
	FindByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.PaymentAttempt, error)
	FindByProviderIntentID(ctx context.Context, provider enums.PaymentProvider, intentID string) (*models.PaymentAttempt, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkProcessed(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment attempt repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) Update(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

// FindByOrderAndKey resolves the attempt behind the
// (order_id, idempotency_key) unique key.
func (r *repository) FindByOrderAndKey(ctx context.Context, orderID uuid.UUID, idempotencyKey string) (*models.PaymentAttempt, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("order_id = ? AND idempotency_key = ?", orderID, idempotencyKey))
}

func (r *repository) FindByProviderIntentID(ctx context.Context, provider enums.PaymentProvider, intentID string) (*models.PaymentAttempt, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Where("provider = ? AND provider_intent_id = ?", provider, intentID))
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         enums.AttemptStatusFailed,
			"failure_reason": reason,
		}).Error
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.AttemptStatusProcessed,
			"processed_at": time.Now().UTC(),
		}).Error
}

func (r *repository) findOne(ctx context.Context, query *gorm.DB) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := query.First(&attempt).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}
