package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/api/responses"
	"github.com/nileshop/nileshop-backend/api/validators"
	"github.com/nileshop/nileshop-backend/internal/refunds"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
	"github.com/nileshop/nileshop-backend/pkg/money"
)

// RefundService issues provider and wallet refunds.
type RefundService interface {
	Refund(ctx context.Context, params refunds.RefundParams) (*refunds.RefundResult, error)
	RefundToWallet(ctx context.Context, params refunds.RefundParams) (*refunds.RefundResult, error)
}

type refundRequest struct {
	// Amount is a decimal string such as "12.50"; empty refunds the
	// full refundable remainder.
	Amount string `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty" validate:"omitempty,max=256"`
}

type refundResponse struct {
	RefundID            string `json:"refund_id,omitempty"`
	RefundedAmountCents int64  `json:"refunded_amount_cents"`
	RefundAmount        string `json:"refund_amount"`
	FullyRefunded       bool   `json:"fully_refunded"`
}

type walletRefundResponse struct {
	RefundedAmountCents int64  `json:"refunded_amount_cents"`
	RefundAmount        string `json:"refund_amount"`
	WalletBalance       string `json:"wallet_balance"`
	WalletBalanceCents  int64  `json:"wallet_balance_cents"`
	FullyRefunded       bool   `json:"fully_refunded"`
}

// AdminRefundTransaction pushes money back through the original provider.
func AdminRefundTransaction(svc RefundService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		params, err := refundParamsFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Refund(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, refundResponse{
			RefundID:            result.ProviderRefundID,
			RefundedAmountCents: result.RefundedAmountCents,
			RefundAmount:        money.FromCents(result.RefundedAmountCents),
			FullyRefunded:       result.FullyRefunded,
		})
	}
}

// AdminRefundToWallet credits the refund onto the buyer's wallet
// instead of going back through the provider.
func AdminRefundToWallet(svc RefundService, walletSvc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		params, err := refundParamsFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RefundToWallet(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := walletRefundResponse{
			RefundedAmountCents: result.RefundedAmountCents,
			RefundAmount:        money.FromCents(result.RefundedAmountCents),
			FullyRefunded:       result.FullyRefunded,
		}
		if walletSvc != nil && result.WalletUserID != nil {
			if wallet, balErr := walletSvc.Balance(r.Context(), *result.WalletUserID); balErr == nil && wallet != nil {
				resp.WalletBalanceCents = wallet.BalanceCents
				resp.WalletBalance = money.FromCents(wallet.BalanceCents)
			}
		}
		responses.WriteSuccess(w, resp)
	}
}

func refundParamsFromRequest(r *http.Request) (refunds.RefundParams, error) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionId"))
	if err != nil {
		return refunds.RefundParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id")
	}

	var payload refundRequest
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		return refunds.RefundParams{}, err
	}

	var amountCents int64
	if payload.Amount != "" {
		amountCents, err = money.ToCents(payload.Amount)
		if err != nil {
			return refunds.RefundParams{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount")
		}
	}

	return refunds.RefundParams{
		TransactionID: transactionID,
		AmountCents:   amountCents,
		Reason:        payload.Reason,
	}, nil
}
