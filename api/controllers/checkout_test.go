package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/nileshop/nileshop-backend/api/middleware"
	checkoutsvc "github.com/nileshop/nileshop-backend/internal/checkout"
)

type stubCheckoutService struct {
	result *checkoutsvc.CheckoutResult
	err    error
	calls  []checkoutsvc.CheckoutParams
}

func (s *stubCheckoutService) CheckoutWithWallet(ctx context.Context, params checkoutsvc.CheckoutParams) (*checkoutsvc.CheckoutResult, error) {
	s.calls = append(s.calls, params)
	return s.result, s.err
}

func TestWalletCheckoutSuccess(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	orderID := uuid.New()
	service := &stubCheckoutService{
		result: &checkoutsvc.CheckoutResult{
			OrderID:     orderID,
			OrderNumber: "ORD-001042",
			TotalCents:  10500,
		},
	}
	handler := WalletCheckout(service, nil)

	body := `{
		"items": [
			{"name": "Blue Mug", "qty": 2, "unit_price_cents": 2500},
			{"name": "Poster", "qty": 1, "unit_price_cents": 5500}
		],
		"customer_name": "Dina H",
		"customer_email": "dina@example.com"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/wallet", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(service.calls) != 1 {
		t.Fatalf("expected one checkout call, got %d", len(service.calls))
	}
	got := service.calls[0]
	if got.UserID != userID || len(got.Items) != 2 {
		t.Fatalf("unexpected params: %+v", got)
	}
	if got.Items[0].Name != "Blue Mug" || got.Items[0].Qty != 2 || got.Items[0].UnitPriceCents != 2500 {
		t.Fatalf("unexpected first item: %+v", got.Items[0])
	}
	if got.Customer.Email != "dina@example.com" {
		t.Fatalf("unexpected customer: %+v", got.Customer)
	}

	var envelope struct {
		Data struct {
			OrderID     uuid.UUID `json:"order_id"`
			OrderNumber string    `json:"order_number"`
			TotalCents  int64     `json:"total_cents"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrderID != orderID || envelope.Data.OrderNumber != "ORD-001042" || envelope.Data.TotalCents != 10500 {
		t.Fatalf("unexpected response body: %+v", envelope.Data)
	}
}

func TestWalletCheckoutRequiresUser(t *testing.T) {
	t.Parallel()

	service := &stubCheckoutService{}
	handler := WalletCheckout(service, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/wallet",
		strings.NewReader(`{"items":[{"name":"Mug","qty":1,"unit_price_cents":100}]}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if len(service.calls) != 0 {
		t.Fatalf("service should not run without a user")
	}
}

func TestWalletCheckoutRejectsEmptyCart(t *testing.T) {
	t.Parallel()

	handler := WalletCheckout(&stubCheckoutService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/wallet",
		strings.NewReader(`{"items":[]}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.New()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d (%s)", rec.Code, rec.Body.String())
	}
}
