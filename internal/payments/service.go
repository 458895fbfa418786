package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nileshop/nileshop-backend/internal/orders"
	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/internal/transactions"
	"github.com/nileshop/nileshop-backend/pkg/db"
	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

// Metadata keys stamped on provider intents.
const (
	MetadataKeyType   = "type"
	MetadataKeyUserID = "user_id"

	IntentTypeWalletFund = "wallet_fund"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	AttemptRepo       Repository
	OrderRepo         orders.Repository
	TransactionRepo   transactions.Repository
	Adapters          []providers.Adapter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Currency          string
}

// Service owns intent creation. One (order, idempotency key) pair maps
// to at most one provider intent, however many times the client retries.
type Service struct {
	attemptRepo Repository
	orderRepo   orders.Repository
	txnRepo     transactions.Repository
	adapters    map[enums.PaymentProvider]providers.Adapter
	txRunner    txRunner
	logg        *logger.Logger
	currency    string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.AttemptRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "attempt repo required")
	}
	if params.OrderRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order repo required")
	}
	if params.TransactionRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repo required")
	}
	if len(params.Adapters) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "at least one provider adapter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}

	adapters := make(map[enums.PaymentProvider]providers.Adapter, len(params.Adapters))
	for _, adapter := range params.Adapters {
		adapters[adapter.Provider()] = adapter
	}

	currency := params.Currency
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		attemptRepo: params.AttemptRepo,
		orderRepo:   params.OrderRepo,
		txnRepo:     params.TransactionRepo,
		adapters:    adapters,
		txRunner:    params.TransactionRunner,
		logg:        params.Logger,
		currency:    currency,
	}, nil
}

// IntentParams identifies the order, provider, and client retry key.
type IntentParams struct {
	OrderID        uuid.UUID
	Provider       enums.PaymentProvider
	IdempotencyKey string
	Metadata       map[string]string
}

// IntentResult is what the client needs to continue (or stop) paying.
type IntentResult struct {
	AttemptID    uuid.UUID
	Provider     enums.PaymentProvider
	IntentID     string
	ClientSecret string
	CheckoutURL  string
	Status       string
	AlreadyPaid  bool
	Resumed      bool
}

// CreateOrResumeIntent creates a provider intent for the order, or
// resumes the one a previous request with the same idempotency key
// already created. Paid orders short-circuit without touching the
// provider.
func (s *Service) CreateOrResumeIntent(ctx context.Context, params IntentParams) (*IntentResult, error) {
	adapter, err := s.adapterFor(params.Provider)
	if err != nil {
		return nil, err
	}
	if params.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if err := validateIdempotencyKey(params.IdempotencyKey); err != nil {
		return nil, err
	}
	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, params.OrderID.String())
	}

	order, err := s.orderRepo.FindByID(ctx, params.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}

	switch order.Status {
	case enums.OrderStatusPending, enums.OrderStatusProcessing:
		// Chargeable.
	case enums.OrderStatusPaid, enums.OrderStatusCompleted:
		return s.alreadyPaidResult(ctx, order, params.Provider)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is %s and cannot be charged", order.Status))
	}

	attempt, err := s.attemptRepo.FindByOrderAndKey(ctx, params.OrderID, params.IdempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find payment attempt")
	}
	if attempt != nil {
		if attempt.Status != enums.AttemptStatusFailed && attempt.ProviderIntentID != nil {
			return s.resume(attempt), nil
		}
		// Failed attempts retry against the provider with the same key.
	} else {
		requestPayload, _ := json.Marshal(map[string]any{
			"amount_cents": order.AmountCents,
			"currency":     order.Currency,
			"metadata":     params.Metadata,
		})
		attempt = &models.PaymentAttempt{
			OrderID:        order.ID,
			IdempotencyKey: params.IdempotencyKey,
			Provider:       params.Provider,
			AmountCents:    order.AmountCents,
			Currency:       order.Currency,
			Status:         enums.AttemptStatusPending,
			RequestPayload: requestPayload,
		}
		if err := s.attemptRepo.Create(ctx, attempt); err != nil {
			if !db.IsUniqueViolation(err, "ux_payment_attempts_order_key") {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment attempt")
			}
			// A concurrent request with the same key won the insert;
			// resume its attempt instead of minting a second intent.
			winner, findErr := s.attemptRepo.FindByOrderAndKey(ctx, params.OrderID, params.IdempotencyKey)
			if findErr != nil || winner == nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "re-read payment attempt after conflict")
			}
			if winner.ProviderIntentID != nil {
				return s.resume(winner), nil
			}
			attempt = winner
		}
	}

	handle, err := adapter.CreateIntent(ctx, providers.IntentRequest{
		OrderID:        order.ID,
		AmountCents:    order.AmountCents,
		Currency:       order.Currency,
		IdempotencyKey: params.IdempotencyKey,
		Metadata:       params.Metadata,
	})
	if err != nil {
		if markErr := s.attemptRepo.MarkFailed(ctx, attempt.ID, err.Error()); markErr != nil {
			err = multierr.Append(err, pkgerrors.Wrap(pkgerrors.CodeInternal, markErr, "mark attempt failed"))
		}
		return nil, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		attemptRepo := s.attemptRepo.WithTx(tx)
		attempt.ProviderIntentID = &handle.IntentID
		if handle.ClientSecret != "" {
			attempt.ClientSecret = &handle.ClientSecret
		}
		if handle.CheckoutURL != "" {
			attempt.CheckoutURL = &handle.CheckoutURL
		}
		attempt.Status = enums.AttemptStatusPending
		attempt.FailureReason = nil
		if err := attemptRepo.Update(ctx, attempt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update payment attempt")
		}
		now := time.Now().UTC()
		order.LastIdempotencyKey = &params.IdempotencyKey
		order.LastIdempotencyKeyAt = &now
		if order.Status == enums.OrderStatusPending {
			order.Status = enums.OrderStatusProcessing
		}
		if err := s.orderRepo.WithTx(tx).Update(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("payment intent %s created for order %s", handle.IntentID, order.ID))
	}
	return &IntentResult{
		AttemptID:    attempt.ID,
		Provider:     params.Provider,
		IntentID:     handle.IntentID,
		ClientSecret: handle.ClientSecret,
		CheckoutURL:  handle.CheckoutURL,
		Status:       handle.Status,
	}, nil
}

// FundWalletParams describes a stored-value top-up.
type FundWalletParams struct {
	UserID         uuid.UUID
	AmountCents    int64
	Provider       enums.PaymentProvider
	IdempotencyKey string
	Metadata       map[string]string
}

// FundWallet provisions a top-up order and opens a provider intent
// tagged wallet_fund. The reconciler credits the wallet when the
// provider confirms the charge.
func (s *Service) FundWallet(ctx context.Context, params FundWalletParams) (*IntentResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if params.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if err := validateIdempotencyKey(params.IdempotencyKey); err != nil {
		return nil, err
	}
	if _, err := s.adapterFor(params.Provider); err != nil {
		return nil, err
	}

	order := &models.Order{
		UserID:      &params.UserID,
		AmountCents: params.AmountCents,
		Currency:    s.currency,
		Kind:        enums.OrderKindWalletTopup,
		Status:      enums.OrderStatusPending,
	}
	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create top-up order")
	}

	metadata := map[string]string{
		MetadataKeyType:   IntentTypeWalletFund,
		MetadataKeyUserID: params.UserID.String(),
	}
	for key, value := range params.Metadata {
		metadata[key] = value
	}

	return s.CreateOrResumeIntent(ctx, IntentParams{
		OrderID:        order.ID,
		Provider:       params.Provider,
		IdempotencyKey: params.IdempotencyKey,
		Metadata:       metadata,
	})
}

// resume answers a retried key from the stored attempt. No provider
// call: Accept cannot return a payment key on inquiry, so the stored
// secret is the only way every retry sees the same one.
func (s *Service) resume(attempt *models.PaymentAttempt) *IntentResult {
	result := &IntentResult{
		AttemptID: attempt.ID,
		Provider:  attempt.Provider,
		IntentID:  *attempt.ProviderIntentID,
		Status:    providers.IntentStatusRequiresAction,
		Resumed:   true,
	}
	if attempt.Status == enums.AttemptStatusProcessed {
		result.Status = providers.IntentStatusSucceeded
	}
	if attempt.ClientSecret != nil {
		result.ClientSecret = *attempt.ClientSecret
	}
	if attempt.CheckoutURL != nil {
		result.CheckoutURL = *attempt.CheckoutURL
	}
	return result
}

// alreadyPaidResult short-circuits settled orders, echoing the intent
// that completed them so the caller still learns which one it was.
func (s *Service) alreadyPaidResult(ctx context.Context, order *models.Order, provider enums.PaymentProvider) (*IntentResult, error) {
	result := &IntentResult{
		Provider:    provider,
		Status:      providers.IntentStatusSucceeded,
		AlreadyPaid: true,
	}
	settled, err := s.txnRepo.FindCompletedByOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find completed transaction")
	}
	if settled != nil {
		result.IntentID = settled.ProviderTransactionID
	}
	return result, nil
}

func validateIdempotencyKey(key string) error {
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if _, err := uuid.Parse(key); err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key must be a uuid")
	}
	return nil
}

func (s *Service) adapterFor(provider enums.PaymentProvider) (providers.Adapter, error) {
	if !provider.IsExternal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provider must be an external processor")
	}
	adapter, ok := s.adapters[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("provider %s not configured", provider))
	}
	return adapter, nil
}
