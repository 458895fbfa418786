package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet holds a user's stored-value balance in minor units. The
// balance column is a cached sum of the ledger and never goes negative.
type Wallet struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null;unique"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0"`
	Currency     string    `gorm:"column:currency;not null;default:'usd'"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
