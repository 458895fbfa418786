package stripeadapter

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"

	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	pkgstripe "github.com/nileshop/nileshop-backend/pkg/stripe"
)

// API exposes the subset of Stripe operations the adapter needs,
// so services can be tested against a fake.
type API interface {
	NewIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	NewRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
}

type apiWrapper struct{}

// NewAPI wraps the initialized Stripe client with the adapter's API surface.
func NewAPI(client *pkgstripe.Client) API {
	if client == nil {
		return nil
	}
	return &apiWrapper{}
}

func (w *apiWrapper) NewIntent(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	return paymentintent.New(params)
}

func (w *apiWrapper) GetIntent(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if params != nil {
		params.Context = ctx
	}
	return paymentintent.Get(id, params)
}

func (w *apiWrapper) NewRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	if params != nil {
		params.Context = ctx
	}
	return refund.New(params)
}

// Adapter implements providers.Adapter on top of Stripe PaymentIntents.
type Adapter struct {
	api API
}

// NewAdapter returns a Stripe-backed payment adapter.
func NewAdapter(api API) (*Adapter, error) {
	if api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe api required")
	}
	return &Adapter{api: api}, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderStripe
}

// CreateIntent creates a PaymentIntent, passing the caller's idempotency
// key through so Stripe collapses concurrent retries on its side too.
func (a *Adapter) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentHandle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("order_id", req.OrderID.String())
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := a.api.NewIntent(ctx, params)
	if err != nil {
		return nil, providers.Transient(err, "create stripe payment intent")
	}
	return handleFromIntent(intent)
}

func (a *Adapter) RetrieveIntent(ctx context.Context, intentID string) (*providers.IntentHandle, error) {
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	intent, err := a.api.GetIntent(ctx, intentID, &stripe.PaymentIntentParams{})
	if err != nil {
		return nil, providers.Transient(err, "retrieve stripe payment intent")
	}
	return handleFromIntent(intent)
}

// LookupChargeID resolves the settled charge behind an intent. An empty
// result with nil error means the intent has no charge yet.
func (a *Adapter) LookupChargeID(ctx context.Context, intentID string) (string, error) {
	if intentID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}
	params := &stripe.PaymentIntentParams{}
	params.AddExpand("latest_charge")

	intent, err := a.api.GetIntent(ctx, intentID, params)
	if err != nil {
		return "", providers.Transient(err, "retrieve stripe payment intent")
	}
	if intent == nil {
		return "", providers.Protocol(nil, "stripe returned empty payment intent")
	}
	if intent.LatestCharge == nil {
		return "", nil
	}
	return intent.LatestCharge.ID, nil
}

// Refund issues a refund by charge when known, otherwise by intent.
func (a *Adapter) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundHandle, error) {
	params := &stripe.RefundParams{}
	switch {
	case req.ChargeID != "":
		params.Charge = stripe.String(req.ChargeID)
	case req.IntentID != "":
		params.PaymentIntent = stripe.String(req.IntentID)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge id or intent id required")
	}
	if req.AmountCents > 0 {
		params.Amount = stripe.Int64(req.AmountCents)
	}
	if req.Reason != "" {
		params.Reason = stripe.String(req.Reason)
	}

	stripeRefund, err := a.api.NewRefund(ctx, params)
	if err != nil {
		return nil, providers.Transient(err, "create stripe refund")
	}
	if stripeRefund == nil {
		return nil, providers.Protocol(nil, "stripe returned empty refund")
	}
	return &providers.RefundHandle{
		RefundID: stripeRefund.ID,
		Status:   string(stripeRefund.Status),
	}, nil
}

func handleFromIntent(intent *stripe.PaymentIntent) (*providers.IntentHandle, error) {
	if intent == nil {
		return nil, providers.Protocol(nil, "stripe returned empty payment intent")
	}
	return &providers.IntentHandle{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       normalizeStatus(intent.Status),
	}, nil
}

func normalizeStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return providers.IntentStatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return providers.IntentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return providers.IntentStatusCanceled
	default:
		return providers.IntentStatusRequiresAction
	}
}
