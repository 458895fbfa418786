package refunds

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/internal/orders"
	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/internal/transactions"
	"github.com/nileshop/nileshop-backend/internal/wallet"
	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletCreditor interface {
	CreditTx(ctx context.Context, tx *gorm.DB, params wallet.MovementParams) (*models.WalletLedgerEntry, error)
}

type ServiceParams struct {
	TransactionRepo   transactions.Repository
	OrderRepo         orders.Repository
	WalletService     walletCreditor
	Adapters          []providers.Adapter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service issues admin refunds. Money goes back either through the
// provider or onto the customer's wallet; a transaction commits to one
// of the two and stays there.
type Service struct {
	txnRepo   transactions.Repository
	orderRepo orders.Repository
	walletSvc walletCreditor
	adapters  map[enums.PaymentProvider]providers.Adapter
	txRunner  txRunner
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repo required")
	}
	if params.OrderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repo required")
	}
	if params.WalletService == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "wallet service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}

	adapters := make(map[enums.PaymentProvider]providers.Adapter, len(params.Adapters))
	for _, adapter := range params.Adapters {
		adapters[adapter.Provider()] = adapter
	}

	return &Service{
		txnRepo:   params.TransactionRepo,
		orderRepo: params.OrderRepo,
		walletSvc: params.WalletService,
		adapters:  adapters,
		txRunner:  params.TransactionRunner,
		logg:      params.Logger,
	}, nil
}

type RefundParams struct {
	TransactionID uuid.UUID
	// AmountCents of zero refunds whatever is still refundable.
	AmountCents int64
	Reason      string
}

type RefundResult struct {
	TransactionID       uuid.UUID  `json:"transaction_id"`
	ProviderRefundID    string     `json:"provider_refund_id,omitempty"`
	RefundedAmountCents int64      `json:"refunded_amount_cents"`
	FullyRefunded       bool       `json:"fully_refunded"`
	ToWallet            bool       `json:"to_wallet"`
	WalletUserID        *uuid.UUID `json:"wallet_user_id,omitempty"`
}

// Refund returns money through the original provider. The provider call
// happens before the bookkeeping transaction; if recording fails the
// provider's own idempotent refund endpoint makes a retry safe.
func (s *Service) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	if params.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	txn, err := s.txnRepo.FindByID(ctx, params.TransactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find transaction")
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}

	amount, err := refundableAmount(txn, params.AmountCents)
	if err != nil {
		return nil, err
	}
	if txn.RefundedToWallet {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction was refunded to wallet")
	}

	adapter, ok := s.adapters[txn.Provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("no refund support for provider %s", txn.Provider))
	}

	chargeID, err := s.resolveChargeID(ctx, adapter, txn)
	if err != nil {
		return nil, err
	}

	handle, err := adapter.Refund(ctx, providers.RefundRequest{
		ChargeID:    chargeID,
		IntentID:    txn.ProviderTransactionID,
		AmountCents: amount,
		Reason:      params.Reason,
	})
	if err != nil {
		return nil, err
	}

	var result *RefundResult
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.txnRepo.WithTx(tx)
		locked, lockErr := txnRepo.FindByIDForUpdate(ctx, txn.ID)
		if lockErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, lockErr, "lock transaction")
		}
		if locked == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "transaction disappeared during refund")
		}

		// The pre-flight checks ran on an unlocked read. A wallet refund
		// that committed while the provider call was in flight would
		// otherwise double-apply; the provider-side refund already
		// happened, so it has to be reconciled by hand.
		if locked.RefundedToWallet || locked.AmountCents-locked.RefundedAmountCents < amount {
			conflict := pkgerrors.New(pkgerrors.CodeStateConflict,
				"transaction state changed while the provider refund was in flight")
			if s.logg != nil {
				s.logg.Error(ctx, fmt.Sprintf(
					"provider refund %s on transaction %s needs manual reconciliation", handle.RefundID, locked.ID), conflict)
			}
			return conflict
		}

		locked.RefundedAmountCents += amount
		locked.ProviderRefundID = &handle.RefundID
		if chargeID != "" && locked.ProviderChargeID == nil {
			locked.ProviderChargeID = &chargeID
		}
		fullyRefunded := locked.RefundedAmountCents >= locked.AmountCents
		if fullyRefunded {
			locked.Status = enums.TransactionStatusRefunded
		}
		if updateErr := txnRepo.Update(ctx, locked); updateErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, updateErr, "update refunded transaction")
		}

		if fullyRefunded {
			if orderErr := s.orderRepo.WithTx(tx).UpdateStatus(ctx, locked.OrderID, enums.OrderStatusRefunded); orderErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, orderErr, "mark order refunded")
			}
		}

		result = &RefundResult{
			TransactionID:       locked.ID,
			ProviderRefundID:    handle.RefundID,
			RefundedAmountCents: locked.RefundedAmountCents,
			FullyRefunded:       fullyRefunded,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("refunded %d cents on transaction %s via %s", amount, txn.ID, txn.Provider))
	}
	return result, nil
}

// RefundToWallet returns money as wallet credit instead of going back
// through the provider. The credit and the transaction update commit
// together.
func (s *Service) RefundToWallet(ctx context.Context, params RefundParams) (*RefundResult, error) {
	if params.TransactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	var result *RefundResult
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txnRepo := s.txnRepo.WithTx(tx)
		txn, err := txnRepo.FindByIDForUpdate(ctx, params.TransactionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock transaction")
		}
		if txn == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}

		amount, err := refundableAmount(txn, params.AmountCents)
		if err != nil {
			return err
		}
		if txn.ProviderRefundID != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction was refunded at the provider")
		}

		order, err := s.orderRepo.WithTx(tx).FindByID(ctx, txn.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find order")
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "order missing for transaction")
		}
		if order.UserID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "guest orders cannot be refunded to a wallet")
		}

		metadata, _ := json.Marshal(map[string]string{
			"refund_from_transaction_id": txn.ID.String(),
		})
		if _, err := s.walletSvc.CreditTx(ctx, tx, wallet.MovementParams{
			UserID:        *order.UserID,
			AmountCents:   amount,
			OrderID:       &order.ID,
			TransactionID: &txn.ID,
			Description:   "refund to wallet",
			Metadata:      metadata,
		}); err != nil {
			return err
		}

		txn.RefundedAmountCents += amount
		txn.RefundedToWallet = true
		fullyRefunded := txn.RefundedAmountCents >= txn.AmountCents
		if fullyRefunded {
			txn.Status = enums.TransactionStatusRefunded
		}
		if err := txnRepo.Update(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update refunded transaction")
		}

		if fullyRefunded {
			if err := s.orderRepo.WithTx(tx).UpdateStatus(ctx, txn.OrderID, enums.OrderStatusRefunded); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order refunded")
			}
		}

		result = &RefundResult{
			TransactionID:       txn.ID,
			RefundedAmountCents: txn.RefundedAmountCents,
			FullyRefunded:       fullyRefunded,
			ToWallet:            true,
			WalletUserID:        order.UserID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("refunded transaction %s to wallet", params.TransactionID))
	}
	return result, nil
}

// refundableAmount validates the requested amount against what the
// transaction still holds. Zero means everything left.
func refundableAmount(txn *models.Transaction, requested int64) (int64, error) {
	if txn.Status != enums.TransactionStatusCompleted && txn.Status != enums.TransactionStatusRefunded {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed transactions can be refunded")
	}
	remaining := txn.AmountCents - txn.RefundedAmountCents
	if remaining <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is already fully refunded")
	}
	if requested == 0 {
		return remaining, nil
	}
	if requested < 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if requested > remaining {
		return 0, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("refund amount %d exceeds refundable %d", requested, remaining)).
			WithDetails(map[string]int64{"requested_cents": requested, "refundable_cents": remaining})
	}
	return requested, nil
}

// resolveChargeID backfills the charge id from the provider when the
// success event never carried one.
func (s *Service) resolveChargeID(ctx context.Context, adapter providers.Adapter, txn *models.Transaction) (string, error) {
	if txn.ProviderChargeID != nil && *txn.ProviderChargeID != "" {
		return *txn.ProviderChargeID, nil
	}
	chargeID, err := adapter.LookupChargeID(ctx, txn.ProviderTransactionID)
	if err != nil {
		return "", err
	}
	return chargeID, nil
}
