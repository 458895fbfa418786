package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/nileshop/nileshop-backend/api/responses"
	"github.com/nileshop/nileshop-backend/internal/reconciler"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

// ReconcilerService applies normalized provider events and reports
// which ones were durably applied.
type ReconcilerService interface {
	Process(ctx context.Context, event reconciler.Event) error
	Processed(ctx context.Context, provider enums.PaymentProvider, providerEventID string) (bool, error)
}

type webhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies, dedupes, and reconciles Stripe payment events.
func StripeWebhook(svc ReconcilerService, client stripeClient, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify signature"))
			return
		}

		if guard != nil {
			alreadySeen, guardErr := guard.CheckAndMark(ctx, event.ID)
			if guardErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, guardErr, "check idempotency"))
				return
			}
			if alreadySeen {
				// The redis mark alone is not proof of delivery: a crash
				// between the mark and the commit leaves it dangling.
				done, doneErr := svc.Processed(ctx, enums.PaymentProviderStripe, event.ID)
				if doneErr == nil && done {
					responses.WriteSuccess(w, nil)
					return
				}
			}
		}

		normalized, err := translateStripeEvent(&event)
		if err != nil {
			if guard != nil {
				_ = guard.Delete(ctx, event.ID)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if err := svc.Process(ctx, normalized); err != nil {
			if guard != nil {
				_ = guard.Delete(ctx, event.ID)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
		}
		responses.WriteSuccess(w, nil)
	}
}

func translateStripeEvent(event *stripe.Event) (reconciler.Event, error) {
	normalized := reconciler.Event{
		Provider:        enums.PaymentProviderStripe,
		ProviderEventID: event.ID,
		Type:            string(event.Type),
		Payload:         event.Data.Raw,
		Variant:         reconciler.Unrecognized{},
	}

	switch event.Type {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return normalized, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode payment intent")
		}
		amount := intent.AmountReceived
		if amount == 0 {
			amount = intent.Amount
		}
		chargeID := ""
		if intent.LatestCharge != nil {
			chargeID = intent.LatestCharge.ID
		}
		normalized.Variant = reconciler.PaymentSucceeded{
			IntentID:    intent.ID,
			ChargeID:    chargeID,
			AmountCents: amount,
			Currency:    string(intent.Currency),
			Metadata:    intent.Metadata,
		}

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return normalized, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode payment intent")
		}
		reason := "payment failed"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		normalized.Variant = reconciler.PaymentFailed{
			IntentID: intent.ID,
			Reason:   reason,
			Metadata: intent.Metadata,
		}

	case "charge.refunded":
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return normalized, pkgerrors.Wrap(pkgerrors.CodeProtocol, err, "decode charge")
		}
		intentID := ""
		if charge.PaymentIntent != nil {
			intentID = charge.PaymentIntent.ID
		}
		normalized.Variant = reconciler.ChargeRefunded{
			ChargeID:            charge.ID,
			IntentID:            intentID,
			RefundedAmountCents: charge.AmountRefunded,
			Metadata:            charge.Metadata,
		}
	}

	return normalized, nil
}
