package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// PaymentAttempt pins a client idempotency key to the provider intent
// it produced. The (order_id, idempotency_key) key guarantees retries
// resume the same intent instead of minting a new one. ClientSecret
// and CheckoutURL are stored so a resumed attempt answers from local
// state without another provider round trip.
type PaymentAttempt struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID             `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_payment_attempts_order_key"`
	IdempotencyKey   string                `gorm:"column:idempotency_key;not null;uniqueIndex:ux_payment_attempts_order_key"`
	Provider         enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null"`
	ProviderIntentID *string               `gorm:"column:provider_intent_id"`
	ClientSecret     *string               `gorm:"column:client_secret"`
	CheckoutURL      *string               `gorm:"column:checkout_url"`
	AmountCents      int64                 `gorm:"column:amount_cents;not null"`
	Currency         string                `gorm:"column:currency;not null;default:'usd'"`
	Status           enums.AttemptStatus   `gorm:"column:status;type:attempt_status;not null;default:'pending'"`
	RequestPayload   json.RawMessage       `gorm:"column:request_payload;type:jsonb"`
	FailureReason    *string               `gorm:"column:failure_reason"`
	ProcessedAt      *time.Time            `gorm:"column:processed_at"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
