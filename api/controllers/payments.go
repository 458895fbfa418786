package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/api/responses"
	"github.com/nileshop/nileshop-backend/api/validators"
	"github.com/nileshop/nileshop-backend/internal/payments"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

// PaymentsService opens and resumes provider intents.
type PaymentsService interface {
	CreateOrResumeIntent(ctx context.Context, params payments.IntentParams) (*payments.IntentResult, error)
	FundWallet(ctx context.Context, params payments.FundWalletParams) (*payments.IntentResult, error)
}

type stripeIntentRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required,uuid4"`
}

type intentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Status          string `json:"status"`
	AlreadyPaid     bool   `json:"already_paid,omitempty"`
	Resumed         bool   `json:"resumed,omitempty"`
}

// StripeIntent opens (or resumes) a Stripe payment intent for an order.
// The Idempotency-Key header makes client retries safe.
func StripeIntent(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		idempotencyKey := r.Header.Get("Idempotency-Key")
		if idempotencyKey == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		var payload stripeIntentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrResumeIntent(r.Context(), payments.IntentParams{
			OrderID:        payload.OrderID,
			Provider:       enums.PaymentProviderStripe,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, intentResponse{
			PaymentIntentID: result.IntentID,
			ClientSecret:    result.ClientSecret,
			Status:          result.Status,
			AlreadyPaid:     result.AlreadyPaid,
			Resumed:         result.Resumed,
		})
	}
}

type paymobStartRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required,uuid4"`
}

type paymobStartResponse struct {
	TransactionID string `json:"transaction_id"`
	PaymentKey    string `json:"payment_key,omitempty"`
	IframeURL     string `json:"iframe_url,omitempty"`
	AlreadyPaid   bool   `json:"already_paid,omitempty"`
}

// PaymobStart registers the order with Accept and returns the hosted
// iframe URL. Without an Idempotency-Key header a stable per-order key
// is derived, so a double click resumes rather than re-registers.
// Idempotency keys are uuids, so the derived key is a uuidv5 of the
// order id.
func PaymobStart(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		var payload paymobStartRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		idempotencyKey := r.Header.Get("Idempotency-Key")
		if idempotencyKey == "" {
			idempotencyKey = uuid.NewSHA1(uuid.NameSpaceOID, []byte("paymob:"+payload.OrderID.String())).String()
		}

		result, err := svc.CreateOrResumeIntent(r.Context(), payments.IntentParams{
			OrderID:        payload.OrderID,
			Provider:       enums.PaymentProviderPaymob,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, paymobStartResponse{
			TransactionID: result.IntentID,
			PaymentKey:    result.ClientSecret,
			IframeURL:     result.CheckoutURL,
			AlreadyPaid:   result.AlreadyPaid,
		})
	}
}
