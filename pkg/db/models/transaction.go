package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/pkg/enums"
)

// Transaction records one provider-side money movement for an order.
// The (order_id, provider, provider_transaction_id) key makes webhook
// replays converge on a single row.
type Transaction struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID               uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_transactions_order_provider_txn"`
	Provider              enums.PaymentProvider   `gorm:"column:provider;type:payment_provider;not null;uniqueIndex:ux_transactions_order_provider_txn"`
	ProviderTransactionID string                  `gorm:"column:provider_transaction_id;not null;uniqueIndex:ux_transactions_order_provider_txn"`
	ProviderChargeID      *string                 `gorm:"column:provider_charge_id"`
	AmountCents           int64                   `gorm:"column:amount_cents;not null"`
	Currency              string                  `gorm:"column:currency;not null;default:'usd'"`
	Status                enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	RefundedAmountCents   int64                   `gorm:"column:refunded_amount_cents;not null;default:0"`
	RefundedToWallet      bool                    `gorm:"column:refunded_to_wallet;not null;default:false"`
	ProviderRefundID      *string                 `gorm:"column:provider_refund_id"`
	Metadata              json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
