package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// Order is the purchasable unit that payments settle against. Number is
// a monotonic human-readable reference assigned at creation. UserID is
// nil for guest orders; the contact fields carry what the guest typed.
type Order struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Number               string            `gorm:"column:number;not null;unique"`
	UserID               *uuid.UUID        `gorm:"column:user_id;type:uuid;index"`
	CustomerName         *string           `gorm:"column:customer_name"`
	CustomerEmail        *string           `gorm:"column:customer_email"`
	CustomerPhone        *string           `gorm:"column:customer_phone"`
	AmountCents          int64             `gorm:"column:amount_cents;not null"`
	Currency             string            `gorm:"column:currency;not null;default:'usd'"`
	Kind                 enums.OrderKind   `gorm:"column:kind;type:order_kind;not null;default:'purchase'"`
	Status               enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	LastIdempotencyKey   *string           `gorm:"column:last_idempotency_key"`
	LastIdempotencyKeyAt *time.Time        `gorm:"column:last_idempotency_key_at"`
	PaidAt               *time.Time        `gorm:"column:paid_at"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem is a denormalized line captured at checkout. Prices are
// frozen at purchase time; later catalog changes never touch them.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	Name           string    `gorm:"column:name;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	TotalCents     int64     `gorm:"column:total_cents;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}
