package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/internal/orders"
	"github.com/nileshop/nileshop-backend/internal/transactions"
	"github.com/nileshop/nileshop-backend/internal/wallet"
	"github.com/nileshop/nileshop-backend/pkg/db"
	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletDebitor interface {
	DebitTx(ctx context.Context, tx *gorm.DB, params wallet.MovementParams) (*models.WalletLedgerEntry, error)
}

type ServiceParams struct {
	OrderRepo         orders.Repository
	TransactionRepo   transactions.Repository
	WalletService     walletDebitor
	TransactionRunner txRunner
	Logger            *logger.Logger
	Currency          string
}

// Service settles carts from wallet balance. No provider round trip is
// involved; the order, its items, the debit, and the transaction row
// commit atomically.
type Service struct {
	orderRepo orders.Repository
	txnRepo   transactions.Repository
	walletSvc walletDebitor
	txRunner  txRunner
	logg      *logger.Logger
	currency  string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.OrderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repo required")
	}
	if params.TransactionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repo required")
	}
	if params.WalletService == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		orderRepo: params.OrderRepo,
		txnRepo:   params.TransactionRepo,
		walletSvc: params.WalletService,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
		currency:  currency,
	}, nil
}

// LineItem is a cart line already resolved by the caller. Prices arrive
// in minor units and are frozen on the order as-is.
type LineItem struct {
	Name           string
	Qty            int
	UnitPriceCents int64
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type CheckoutParams struct {
	UserID   uuid.UUID
	Items    []LineItem
	Customer Customer
}

type CheckoutResult struct {
	OrderID       uuid.UUID `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	TransactionID uuid.UUID `json:"transaction_id"`
	TotalCents    int64     `json:"total_cents"`
}

// CheckoutWithWallet creates a completed order from the resolved cart
// and pays it by debiting the caller's wallet. Insufficient balance
// aborts everything; the error carries the balance and required amount.
func (s *Service) CheckoutWithWallet(ctx context.Context, params CheckoutParams) (*CheckoutResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if len(params.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item required")
	}

	var total int64
	items := make([]models.OrderItem, 0, len(params.Items))
	for _, item := range params.Items {
		if item.Name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item name required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
		if item.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item price must not be negative")
		}
		lineTotal := int64(item.Qty) * item.UnitPriceCents
		total += lineTotal
		items = append(items, models.OrderItem{
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
			TotalCents:     lineTotal,
		})
	}
	if total <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	var result *CheckoutResult
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		txnRepo := s.txnRepo.WithTx(tx)

		now := time.Now().UTC()
		order := &models.Order{
			UserID:      &params.UserID,
			AmountCents: total,
			Currency:    s.currency,
			Kind:        enums.OrderKindPurchase,
			Status:      enums.OrderStatusCompleted,
			PaidAt:      &now,
		}
		applyCustomer(order, params.Customer)
		if err := orderRepo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}

		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := orderRepo.CreateItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order items")
		}

		txn := &models.Transaction{
			OrderID:               order.ID,
			Provider:              enums.PaymentProviderWallet,
			ProviderTransactionID: walletTransactionID(order.ID),
			AmountCents:           total,
			Currency:              order.Currency,
			Status:                enums.TransactionStatusCompleted,
		}
		if err := txnRepo.Create(ctx, txn); err != nil {
			if db.IsUniqueViolation(err, "ux_transactions_order_provider_txn") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already settled")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create wallet transaction")
		}

		if _, err := s.walletSvc.DebitTx(ctx, tx, wallet.MovementParams{
			UserID:        params.UserID,
			AmountCents:   total,
			OrderID:       &order.ID,
			TransactionID: &txn.ID,
			Description:   "order payment",
		}); err != nil {
			return err
		}

		result = &CheckoutResult{
			OrderID:       order.ID,
			OrderNumber:   order.Number,
			TransactionID: txn.ID,
			TotalCents:    total,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("order %s paid from wallet", result.OrderNumber))
	}
	return result, nil
}

func applyCustomer(order *models.Order, customer Customer) {
	if customer.Name != "" {
		order.CustomerName = &customer.Name
	}
	if customer.Email != "" {
		order.CustomerEmail = &customer.Email
	}
	if customer.Phone != "" {
		order.CustomerPhone = &customer.Phone
	}
}

func walletTransactionID(orderID uuid.UUID) string {
	return "wallet_" + orderID.String()
}
