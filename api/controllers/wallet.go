package controllers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/api/middleware"
	"github.com/nileshop/nileshop-backend/api/responses"
	"github.com/nileshop/nileshop-backend/api/validators"
	"github.com/nileshop/nileshop-backend/internal/payments"
	"github.com/nileshop/nileshop-backend/pkg/db/models"
	"github.com/nileshop/nileshop-backend/pkg/enums"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
	"github.com/nileshop/nileshop-backend/pkg/money"
)

// WalletService exposes the read side of a user's wallet.
type WalletService interface {
	Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Statement(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletLedgerEntry, error)
}

type fundWalletRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Provider    string `json:"provider,omitempty" validate:"omitempty,oneof=stripe paymob"`
}

// WalletFund opens a provider intent that tops up the caller's wallet
// once the charge settles.
func WalletFund(svc PaymentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		idempotencyKey := r.Header.Get("Idempotency-Key")
		if idempotencyKey == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		var payload fundWalletRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		provider := enums.PaymentProviderStripe
		if payload.Provider != "" {
			parsed, parseErr := enums.ParsePaymentProvider(payload.Provider)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid provider"))
				return
			}
			provider = parsed
		}

		result, err := svc.FundWallet(r.Context(), payments.FundWalletParams{
			UserID:         userID,
			AmountCents:    payload.AmountCents,
			Provider:       provider,
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

type walletBalanceResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	BalanceCents int64     `json:"balance_cents"`
	Balance      string    `json:"balance"`
}

// WalletBalance returns the caller's cached balance.
func WalletBalance(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		wallet, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, walletBalanceResponse{
			UserID:       userID,
			BalanceCents: wallet.BalanceCents,
			Balance:      money.FromCents(wallet.BalanceCents),
		})
	}
}

type ledgerEntryResponse struct {
	ID           uuid.UUID  `json:"id"`
	Type         string     `json:"type"`
	AmountCents  int64      `json:"amount_cents"`
	BalanceAfter int64      `json:"balance_after"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	Description  string     `json:"description,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// WalletStatement returns the caller's most recent ledger entries.
func WalletStatement(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}

		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, parseErr := strconv.Atoi(raw)
			if parseErr != nil || parsed < 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a non-negative integer"))
				return
			}
			limit = parsed
		}

		entries, err := svc.Statement(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]ledgerEntryResponse, 0, len(entries))
		for _, entry := range entries {
			out = append(out, ledgerEntryResponse{
				ID:           entry.ID,
				Type:         entry.Type.String(),
				AmountCents:  entry.AmountCents,
				BalanceAfter: entry.BalanceAfter,
				OrderID:      entry.OrderID,
				Description:  entry.Description,
				CreatedAt:    entry.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
