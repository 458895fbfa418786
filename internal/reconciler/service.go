package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/internal/orders"
	"github.com/nileshop/nileshop-backend/internal/payments"
	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/internal/transactions"
	"github.com/nileshop/nileshop-backend/internal/wallet"
	"github.com/nileshop/nileshop-backend/pkg/db"
	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
	"github.com/nileshop/nileshop-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type walletCreditor interface {
	CreditTx(ctx context.Context, tx *gorm.DB, params wallet.MovementParams) (*models.WalletLedgerEntry, error)
}

type ServiceParams struct {
	EventRepo            Repository
	OrderRepo            orders.Repository
	TransactionRepo      transactions.Repository
	AttemptRepo          payments.Repository
	WalletService        walletCreditor
	Adapters             []providers.Adapter
	TransactionRunner    txRunner
	Metrics              *metrics.WebhookMetrics
	Logger               *logger.Logger
	AutoRefundDuplicates bool
}

// Service replays provider notifications into local state. Every event
// lands in provider_events exactly once; its effects and the processed
// flag commit in one transaction, so a crash either replays the whole
// event or none of it.
type Service struct {
	eventRepo   Repository
	orderRepo   orders.Repository
	txnRepo     transactions.Repository
	attemptRepo payments.Repository
	walletSvc   walletCreditor
	adapters    map[enums.PaymentProvider]providers.Adapter
	txRunner    txRunner
	metrics     *metrics.WebhookMetrics
	logg        *logger.Logger

	autoRefundDuplicates bool
}

func NewService(params ServiceParams) (*Service, error) {
	if params.EventRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event repo required")
	}
	if params.OrderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repo required")
	}
	if params.TransactionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repo required")
	}
	if params.AttemptRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "attempt repo required")
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
		eventRepo:            params.EventRepo,
		orderRepo:            params.OrderRepo,
		txnRepo:              params.TransactionRepo,
		attemptRepo:          params.AttemptRepo,
		walletSvc:            params.WalletService,
		adapters:             adapters,
		txRunner:             params.TransactionRunner,
		metrics:              params.Metrics,
		logg:                 params.Logger,
		autoRefundDuplicates: params.AutoRefundDuplicates,
	}, nil
}

// Process applies one provider event. Returning an error tells the
// controller to answer 5xx so the provider redelivers.
func (s *Service) Process(ctx context.Context, event Event) error {
	start := time.Now()
	if event.ProviderEventID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider event id required")
	}
	if event.Variant == nil {
		event.Variant = Unrecognized{}
	}
	if s.logg != nil {
		ctx = s.logg.WithProvider(ctx, event.Provider.String())
	}

	row, duplicate, err := s.dedupe(ctx, event)
	if err != nil {
		return err
	}
	if duplicate {
		s.metrics.IncDuplicate(event.Provider.String())
		return nil
	}

	var postCommit func(context.Context)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		var dispatchErr error
		switch variant := event.Variant.(type) {
		case PaymentSucceeded:
			postCommit, dispatchErr = s.applySuccess(ctx, tx, event, variant)
		case PaymentFailed:
			dispatchErr = s.applyFailure(ctx, tx, event, variant)
		case ChargeRefunded:
			dispatchErr = s.applyRefund(ctx, tx, event, variant)
		case Unrecognized:
			// Acknowledge without acting.
		}
		if dispatchErr != nil {
			return dispatchErr
		}
		return s.eventRepo.WithTx(tx).MarkProcessed(ctx, row.ID, time.Now().UTC())
	})
	if err != nil {
		if recordErr := s.eventRepo.RecordFailure(ctx, row.ID, err.Error()); recordErr != nil {
			err = multierr.Append(err, pkgerrors.Wrap(pkgerrors.CodeInternal, recordErr, "record event failure"))
		}
		s.metrics.IncFailed(event.Provider.String(), event.Type)
		return err
	}

	s.metrics.IncProcessed(event.Provider.String(), event.Type)
	s.metrics.ObserveDuration(event.Provider.String(), time.Since(start))

	if postCommit != nil {
		postCommit(ctx)
	}
	return nil
}

// Processed reports whether the event was durably applied. The webhook
// controllers consult it when the redis fast path claims a duplicate,
// so a crash between the redis mark and the database commit cannot
// suppress redelivery.
func (s *Service) Processed(ctx context.Context, provider enums.PaymentProvider, providerEventID string) (bool, error) {
	row, err := s.eventRepo.FindByProviderEventID(ctx, provider, providerEventID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find provider event")
	}
	return row != nil && row.Processed, nil
}

// dedupe stores the event row, or detects that a previous delivery
// already did. Returns the row to process and whether the event was
// fully handled before.
func (s *Service) dedupe(ctx context.Context, event Event) (*models.ProviderEvent, bool, error) {
	existing, err := s.eventRepo.FindByProviderEventID(ctx, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find provider event")
	}
	if existing != nil {
		if existing.Processed {
			return existing, true, nil
		}
		return existing, false, nil
	}

	row := &models.ProviderEvent{
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         event.Payload,
	}
	if err := s.eventRepo.Create(ctx, row); err != nil {
		if !db.IsUniqueViolation(err, "ux_provider_events_provider_event") {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store provider event")
		}
		winner, findErr := s.eventRepo.FindByProviderEventID(ctx, event.Provider, event.ProviderEventID)
		if findErr != nil || winner == nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-read provider event after conflict")
		}
		return winner, winner.Processed, nil
	}
	return row, false, nil
}

func (s *Service) applySuccess(ctx context.Context, tx *gorm.DB, event Event, variant PaymentSucceeded) (func(context.Context), error) {
	orderID, err := s.resolveOrderID(ctx, event.Provider, variant.IntentID, variant.Metadata)
	if err != nil {
		return nil, err
	}

	// Charge resolution happens before any row locks are held: inline
	// charge first, provider lookup as the fallback.
	chargeID := variant.ChargeID
	if chargeID == "" && variant.IntentID != "" {
		if adapter, ok := s.adapters[event.Provider]; ok {
			if resolved, lookupErr := adapter.LookupChargeID(ctx, variant.IntentID); lookupErr == nil {
				chargeID = resolved
			} else if s.logg != nil {
				s.logg.Warn(ctx, fmt.Sprintf("charge lookup failed for intent %s: %v", variant.IntentID, lookupErr))
			}
		}
	}

	orderRepo := s.orderRepo.WithTx(tx)
	txnRepo := s.txnRepo.WithTx(tx)

	order, err := orderRepo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found for payment event")
	}

	priorCompleted, err := txnRepo.FindCompletedByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find completed transaction")
	}

	txn, alreadySettled, err := s.upsertTransaction(ctx, txnRepo, upsertParams{
		orderID:       orderID,
		provider:      event.Provider,
		providerTxnID: variant.IntentID,
		chargeID:      chargeID,
		amountCents:   variant.AmountCents,
		currency:      variant.Currency,
		status:        enums.TransactionStatusCompleted,
		payload:       event.Payload,
	})
	if err != nil {
		return nil, err
	}

	if attempt, findErr := s.attemptRepo.WithTx(tx).FindByProviderIntentID(ctx, event.Provider, variant.IntentID); findErr == nil && attempt != nil {
		if err := s.attemptRepo.WithTx(tx).MarkProcessed(ctx, attempt.ID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark attempt processed")
		}
	}

	now := time.Now().UTC()
	// Paymob events carry no intent metadata, so the order kind is the
	// authoritative top-up marker.
	walletFund := order.Kind == enums.OrderKindWalletTopup ||
		variant.Metadata[payments.MetadataKeyType] == payments.IntentTypeWalletFund
	if walletFund {
		// A settled intent means an earlier event already credited the
		// wallet; a replay with a fresh event id must not credit twice
		// or move a terminal top-up order back to completed.
		if !alreadySettled {
			if err := s.creditWalletFund(ctx, tx, order, txn, variant); err != nil {
				return nil, err
			}
			if !order.Status.IsTerminal() {
				order.Status = enums.OrderStatusCompleted
				order.PaidAt = &now
				if err := orderRepo.Update(ctx, order); err != nil {
					return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete top-up order")
				}
			}
		}
	} else if !order.Status.IsTerminal() {
		if err := orderRepo.MarkPaid(ctx, orderID, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
		}
	}

	// A second completed charge for the same order is a double payment.
	if priorCompleted != nil && priorCompleted.ID != txn.ID {
		return s.handleDuplicateCharge(ctx, event.Provider, priorCompleted, txn), nil
	}
	return nil, nil
}

func (s *Service) creditWalletFund(ctx context.Context, tx *gorm.DB, order *models.Order, txn *models.Transaction, variant PaymentSucceeded) error {
	userID := uuid.Nil
	if order.UserID != nil {
		userID = *order.UserID
	}
	if raw, ok := variant.Metadata[payments.MetadataKeyUserID]; ok {
		parsed, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			return pkgerrors.New(pkgerrors.CodeProtocol, "wallet fund event carries invalid user id")
		}
		userID = parsed
	}
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeProtocol, "wallet fund order has no owner")
	}

	amount := variant.AmountCents
	if amount <= 0 {
		amount = order.AmountCents
	}

	_, err := s.walletSvc.CreditTx(ctx, tx, wallet.MovementParams{
		UserID:        userID,
		AmountCents:   amount,
		OrderID:       &order.ID,
		TransactionID: &txn.ID,
		Description:   "wallet top-up",
	})
	if err != nil {
		return err
	}
	return nil
}

func (s *Service) applyFailure(ctx context.Context, tx *gorm.DB, event Event, variant PaymentFailed) error {
	attemptRepo := s.attemptRepo.WithTx(tx)
	attempt, err := attemptRepo.FindByProviderIntentID(ctx, event.Provider, variant.IntentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment attempt")
	}
	if attempt != nil {
		reason := variant.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		if err := attemptRepo.MarkFailed(ctx, attempt.ID, reason); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark attempt failed")
		}
	}

	orderID, resolveErr := s.resolveOrderID(ctx, event.Provider, variant.IntentID, variant.Metadata)
	if resolveErr != nil {
		// Nothing local references this intent; acknowledging is safe.
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("failure event for unknown intent %s", variant.IntentID))
		}
		return nil
	}

	if _, _, err := s.upsertTransaction(ctx, s.txnRepo.WithTx(tx), upsertParams{
		orderID:       orderID,
		provider:      event.Provider,
		providerTxnID: variant.IntentID,
		status:        enums.TransactionStatusFailed,
		payload:       event.Payload,
	}); err != nil {
		return err
	}

	order, err := s.orderRepo.WithTx(tx).FindByIDForUpdate(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
	}
	if order != nil && order.Status != enums.OrderStatusPaid && !order.Status.IsTerminal() {
		if err := s.orderRepo.WithTx(tx).UpdateStatus(ctx, orderID, enums.OrderStatusFailed); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order failed")
		}
	}
	return nil
}

func (s *Service) applyRefund(ctx context.Context, tx *gorm.DB, event Event, variant ChargeRefunded) error {
	txnRepo := s.txnRepo.WithTx(tx)

	txn, err := s.resolveRefundedTransaction(ctx, txnRepo, event.Provider, variant)
	if err != nil {
		return err
	}
	if txn == nil {
		// The charge settled before this system existed, or belongs to
		// another environment. Acknowledge so the provider stops retrying.
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("refund event for unknown charge %q intent %q", variant.ChargeID, variant.IntentID))
		}
		return nil
	}

	locked, err := txnRepo.FindByIDForUpdate(ctx, txn.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock transaction")
	}
	if locked == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction disappeared during refund")
	}

	// Providers report cumulative refunded amounts; replays never shrink it.
	if variant.RefundedAmountCents > locked.RefundedAmountCents {
		locked.RefundedAmountCents = variant.RefundedAmountCents
	}
	if variant.ChargeID != "" && locked.ProviderChargeID == nil {
		locked.ProviderChargeID = &variant.ChargeID
	}

	fullyRefunded := locked.RefundedAmountCents >= locked.AmountCents
	if fullyRefunded {
		locked.Status = enums.TransactionStatusRefunded
	}
	if err := txnRepo.Update(ctx, locked); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update refunded transaction")
	}

	if fullyRefunded {
		if err := s.orderRepo.WithTx(tx).UpdateStatus(ctx, locked.OrderID, enums.OrderStatusRefunded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order refunded")
		}
	}
	return nil
}

// resolveRefundedTransaction works through the lookup strategies in
// order: inline charge id, the intent behind the event, then asking the
// provider which charge the intent settled.
func (s *Service) resolveRefundedTransaction(ctx context.Context, txnRepo transactions.Repository, provider enums.PaymentProvider, variant ChargeRefunded) (*models.Transaction, error) {
	if variant.ChargeID != "" {
		txn, err := txnRepo.FindByProviderChargeID(ctx, provider, variant.ChargeID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find transaction by charge")
		}
		if txn != nil {
			return txn, nil
		}
	}

	if variant.IntentID != "" {
		txn, err := txnRepo.FindByProviderTransactionID(ctx, provider, variant.IntentID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find transaction by intent")
		}
		if txn != nil {
			return txn, nil
		}
	}

	if variant.ChargeID == "" && variant.IntentID != "" {
		if adapter, ok := s.adapters[provider]; ok {
			chargeID, lookupErr := adapter.LookupChargeID(ctx, variant.IntentID)
			if lookupErr == nil && chargeID != "" {
				txn, err := txnRepo.FindByProviderChargeID(ctx, provider, chargeID)
				if err != nil {
					return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find transaction by resolved charge")
				}
				return txn, nil
			}
		}
	}
	return nil, nil
}

type upsertParams struct {
	orderID       uuid.UUID
	provider      enums.PaymentProvider
	providerTxnID string
	chargeID      string
	amountCents   int64
	currency      string
	status        enums.TransactionStatus
	payload       json.RawMessage
}

// upsertTransaction converges concurrent deliveries on the
// (order_id, provider, provider_transaction_id) unique key. The bool
// reports whether the row was already in a settled state before this
// event touched it.
func (s *Service) upsertTransaction(ctx context.Context, txnRepo transactions.Repository, params upsertParams) (*models.Transaction, bool, error) {
	txn, err := txnRepo.FindByProviderKey(ctx, params.orderID, params.provider, params.providerTxnID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find transaction")
	}
	alreadySettled := txn != nil &&
		(txn.Status == enums.TransactionStatusCompleted || txn.Status == enums.TransactionStatusRefunded)

	if txn == nil {
		txn = &models.Transaction{
			OrderID:               params.orderID,
			Provider:              params.provider,
			ProviderTransactionID: params.providerTxnID,
			AmountCents:           params.amountCents,
			Currency:              params.currency,
			Status:                params.status,
			Metadata:              params.payload,
		}
		if params.chargeID != "" {
			txn.ProviderChargeID = &params.chargeID
		}
		if txn.Currency == "" {
			txn.Currency = "usd"
		}
		if err := txnRepo.Create(ctx, txn); err != nil {
			if !db.IsUniqueViolation(err, "ux_transactions_order_provider_txn") {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create transaction")
			}
			winner, findErr := txnRepo.FindByProviderKey(ctx, params.orderID, params.provider, params.providerTxnID)
			if findErr != nil || winner == nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-read transaction after conflict")
			}
			txn = winner
			alreadySettled = txn.Status == enums.TransactionStatusCompleted ||
				txn.Status == enums.TransactionStatusRefunded
		} else {
			return txn, false, nil
		}
	}

	// Refunded is terminal for a transaction row.
	if txn.Status != enums.TransactionStatusRefunded {
		txn.Status = params.status
	}
	if params.chargeID != "" {
		txn.ProviderChargeID = &params.chargeID
	}
	if params.amountCents > 0 {
		txn.AmountCents = params.amountCents
	}
	if err := txnRepo.Update(ctx, txn); err != nil {
		return nil, alreadySettled, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update transaction")
	}
	return txn, alreadySettled, nil
}

// resolveOrderID prefers the order id stamped in intent metadata and
// falls back to the attempt that created the intent.
func (s *Service) resolveOrderID(ctx context.Context, provider enums.PaymentProvider, intentID string, metadata map[string]string) (uuid.UUID, error) {
	if raw, ok := metadata["order_id"]; ok && raw != "" {
		parsed, err := uuid.Parse(raw)
		if err == nil {
			return parsed, nil
		}
	}
	if intentID != "" {
		attempt, err := s.attemptRepo.FindByProviderIntentID(ctx, provider, intentID)
		if err != nil {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment attempt")
		}
		if attempt != nil {
			return attempt.OrderID, nil
		}
	}
	return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order found for provider event")
}

// handleDuplicateCharge runs after commit. The order was already paid
// by an earlier charge; the new one is either flagged for review or
// refunded at the provider when auto-refund is on.
func (s *Service) handleDuplicateCharge(ctx context.Context, provider enums.PaymentProvider, original, duplicate *models.Transaction) func(context.Context) {
	if s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf(
			"duplicate charge on order %s: transaction %s duplicates %s", duplicate.OrderID, duplicate.ID, original.ID))
	}
	if !s.autoRefundDuplicates {
		return nil
	}

	return func(ctx context.Context) {
		adapter, ok := s.adapters[provider]
		if !ok {
			return
		}
		chargeID := ""
		if duplicate.ProviderChargeID != nil {
			chargeID = *duplicate.ProviderChargeID
		}
		handle, err := adapter.Refund(ctx, providers.RefundRequest{
			ChargeID:    chargeID,
			IntentID:    duplicate.ProviderTransactionID,
			AmountCents: duplicate.AmountCents,
			Reason:      "duplicate",
		})
		if err != nil {
			if s.logg != nil {
				s.logg.Error(ctx, fmt.Sprintf("auto-refund of duplicate transaction %s failed", duplicate.ID), err)
			}
			return
		}

		err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			txnRepo := s.txnRepo.WithTx(tx)
			locked, lockErr := txnRepo.FindByIDForUpdate(ctx, duplicate.ID)
			if lockErr != nil || locked == nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, lockErr, "lock duplicate transaction")
			}
			locked.Status = enums.TransactionStatusRefunded
			locked.RefundedAmountCents = locked.AmountCents
			locked.ProviderRefundID = &handle.RefundID
			return txnRepo.Update(ctx, locked)
		})
		if err != nil && s.logg != nil {
			s.logg.Error(ctx, fmt.Sprintf("recording auto-refund of transaction %s failed", duplicate.ID), err)
		}
	}
}
