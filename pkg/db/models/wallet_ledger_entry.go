package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// WalletLedgerEntry is an immutable movement against a wallet.
// Entries are append-only; corrections are new entries.
type WalletLedgerEntry struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	WalletID      uuid.UUID             `gorm:"column:wallet_id;type:uuid;not null;index"`
	Type          enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type;not null"`
	AmountCents   int64                 `gorm:"column:amount_cents;not null"`
	BalanceAfter  int64                 `gorm:"column:balance_after;not null"`
	OrderID       *uuid.UUID            `gorm:"column:order_id;type:uuid"`
	TransactionID *uuid.UUID            `gorm:"column:transaction_id;type:uuid"`
	Description   string                `gorm:"column:description;not null"`
	Metadata      json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
