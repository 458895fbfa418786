package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// Repository handles provider event persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.ProviderEvent) error
	FindByProviderEventID(ctx context.Context, provider enums.PaymentProvider, providerEventID string) (*models.ProviderEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	RecordFailure(ctx context.Context, id uuid.UUID, reason string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a provider event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.ProviderEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindByProviderEventID(ctx context.Context, provider enums.PaymentProvider, providerEventID string) (*models.ProviderEvent, error) {
	var event models.ProviderEvent
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ProviderEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":        true,
			"processed_at":     processedAt,
			"processing_error": nil,
		}).Error
}

func (r *repository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.ProviderEvent{}).
		Where("id = ?", id).
		Update("processing_error", reason).Error
}
