package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// ProviderEvent stores every webhook delivery exactly once per
// (provider, provider_event_id). The processed flag flips inside the
// same transaction that applies the event's effects.
type ProviderEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null;uniqueIndex:ux_provider_events_provider_event"`
	ProviderEventID string                `gorm:"column:provider_event_id;not null;uniqueIndex:ux_provider_events_provider_event"`
	EventType       string                `gorm:"column:event_type;not null"`
	Payload         json.RawMessage       `gorm:"column:payload;type:jsonb"`
	Processed       bool                  `gorm:"column:processed;not null;default:false"`
	ProcessingError *string               `gorm:"column:processing_error"`
	ProcessedAt     *time.Time            `gorm:"column:processed_at"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
