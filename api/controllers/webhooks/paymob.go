package webhooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/api/responses"
	"github.com/nileshop/nileshop-backend/internal/reconciler"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

type paymobCallback struct {
	Type string          `json:"type"`
	Obj  json.RawMessage `json:"obj"`
}

type paymobTransaction struct {
	ID            json.Number `json:"id"`
	Success       bool        `json:"success"`
	Pending       bool        `json:"pending"`
	ErrorOccurred bool        `json:"error_occured"`
	IsRefunded    bool        `json:"is_refunded"`
	IsVoided      bool        `json:"is_voided"`
	AmountCents   json.Number `json:"amount_cents"`
	Currency      string      `json:"currency"`
	Order         struct {
		ID              json.Number `json:"id"`
		MerchantOrderID string      `json:"merchant_order_id"`
	} `json:"order"`
	Data struct {
		Message string `json:"message"`
	} `json:"data"`
}

// PaymobWebhook verifies the HMAC-signed transaction callback and
// reconciles it. Paymob signs the obj payload and sends the signature
// as the hmac query parameter.
func PaymobWebhook(svc ReconcilerService, verifier func(payload map[string]any, provided string) bool, guard webhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciler unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "hmac verifier unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		var callback paymobCallback
		if err := json.Unmarshal(body, &callback); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode callback"))
			return
		}
		if callback.Type != "TRANSACTION" || len(callback.Obj) == 0 {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported callback type"))
			return
		}

		// Numeric fields must survive as sent; the HMAC is computed over
		// their exact wire representation.
		decoder := json.NewDecoder(bytes.NewReader(callback.Obj))
		decoder.UseNumber()
		var raw map[string]any
		if err := decoder.Decode(&raw); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transaction"))
			return
		}

		provided := r.URL.Query().Get("hmac")
		if provided == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "hmac missing"))
			return
		}
		if !verifier(raw, provided) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "hmac mismatch"))
			return
		}

		var txn paymobTransaction
		if err := json.Unmarshal(callback.Obj, &txn); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transaction"))
			return
		}
		eventID := txn.ID.String()
		if eventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "transaction id missing"))
			return
		}

		if guard != nil {
			alreadySeen, guardErr := guard.CheckAndMark(ctx, eventID)
			if guardErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, guardErr, "check idempotency"))
				return
			}
			if alreadySeen {
				// The redis mark alone is not proof of delivery: a crash
				// between the mark and the commit leaves it dangling.
				done, doneErr := svc.Processed(ctx, enums.PaymentProviderPaymob, eventID)
				if doneErr == nil && done {
					responses.WriteSuccess(w, nil)
					return
				}
			}
		}

		if err := svc.Process(ctx, translatePaymobTransaction(txn, callback.Obj)); err != nil {
			if guard != nil {
				_ = guard.Delete(ctx, eventID)
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("paymob transaction %s processed", eventID))
		}
		responses.WriteSuccess(w, nil)
	}
}

func translatePaymobTransaction(txn paymobTransaction, payload json.RawMessage) reconciler.Event {
	normalized := reconciler.Event{
		Provider:        enums.PaymentProviderPaymob,
		ProviderEventID: txn.ID.String(),
		Type:            "transaction_processed",
		Payload:         payload,
		Variant:         reconciler.Unrecognized{},
	}

	intentID := txn.Order.ID.String()
	amount, _ := txn.AmountCents.Int64()
	metadata := map[string]string{}
	if orderID, ok := parseMerchantOrderID(txn.Order.MerchantOrderID); ok {
		metadata["order_id"] = orderID
	}

	switch {
	case txn.IsRefunded:
		normalized.Type = "transaction_refunded"
		normalized.Variant = reconciler.ChargeRefunded{
			IntentID:            intentID,
			RefundedAmountCents: amount,
			Metadata:            metadata,
		}
	case txn.Pending:
		// Not a final state; a later callback settles it.
	case txn.Success && !txn.IsVoided:
		normalized.Variant = reconciler.PaymentSucceeded{
			IntentID:    intentID,
			ChargeID:    txn.ID.String(),
			AmountCents: amount,
			Currency:    strings.ToLower(txn.Currency),
			Metadata:    metadata,
		}
	default:
		reason := txn.Data.Message
		if reason == "" {
			reason = "transaction declined"
		}
		normalized.Variant = reconciler.PaymentFailed{
			IntentID: intentID,
			Reason:   reason,
			Metadata: metadata,
		}
	}

	return normalized
}

// parseMerchantOrderID recovers the local order uuid from the
// "orderID:idempotencyKey" merchant reference registered with Paymob.
func parseMerchantOrderID(value string) (string, bool) {
	raw, _, _ := strings.Cut(value, ":")
	if _, err := uuid.Parse(raw); err != nil {
		return "", false
	}
	return raw, true
}
