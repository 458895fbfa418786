package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/api/middleware"
	"github.com/nileshop/nileshop-backend/api/responses"
	"github.com/nileshop/nileshop-backend/api/validators"
	checkoutsvc "github.com/nileshop/nileshop-backend/internal/checkout"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
	"github.com/nileshop/nileshop-backend/pkg/logger"
)

// CheckoutService settles carts from wallet balance.
type CheckoutService interface {
	CheckoutWithWallet(ctx context.Context, params checkoutsvc.CheckoutParams) (*checkoutsvc.CheckoutResult, error)
}

type checkoutItemRequest struct {
	Name           string `json:"name" validate:"required"`
	Qty            int    `json:"qty" validate:"required,gt=0"`
	UnitPriceCents int64  `json:"unit_price_cents" validate:"gte=0"`
}

type walletCheckoutRequest struct {
	Items         []checkoutItemRequest `json:"items" validate:"required,min=1,dive"`
	CustomerName  string                `json:"customer_name,omitempty"`
	CustomerEmail string                `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerPhone string                `json:"customer_phone,omitempty"`
}

type walletCheckoutResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	TotalCents  int64     `json:"total_cents"`
}

// WalletCheckout pays for a resolved cart entirely from the caller's
// wallet balance.
func WalletCheckout(svc CheckoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload walletCheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]checkoutsvc.LineItem, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, checkoutsvc.LineItem{
				Name:           item.Name,
				Qty:            item.Qty,
				UnitPriceCents: item.UnitPriceCents,
			})
		}

		result, err := svc.CheckoutWithWallet(r.Context(), checkoutsvc.CheckoutParams{
			UserID: userID,
			Items:  items,
			Customer: checkoutsvc.Customer{
				Name:  payload.CustomerName,
				Email: payload.CustomerEmail,
				Phone: payload.CustomerPhone,
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, walletCheckoutResponse{
			OrderID:     result.OrderID,
			OrderNumber: result.OrderNumber,
			TotalCents:  result.TotalCents,
		})
	}
}
