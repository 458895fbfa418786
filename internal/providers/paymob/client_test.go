package paymob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/pkg/config"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

func testConfig(baseURL string) config.PaymobConfig {
	return config.PaymobConfig{
		APIKey:        "api-key",
		IntegrationID: 44123,
		IframeID:      "880099",
		HMACSecret:    "secret",
		BaseURL:       baseURL,
		HTTPTimeout:   5 * time.Second,
	}
}

func TestCreateIntentWalksAuthOrderPaymentKeyChain(t *testing.T) {
	var gotOrder map[string]any
	var gotPaymentKey map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case authPath:
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "auth-token"})
		case ordersPath:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotOrder))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 555111})
		case paymentKeyPath:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPaymentKey))
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "payment-key"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)
	adapter, err := NewAdapter(client)
	require.NoError(t, err)

	orderID := uuid.New()
	handle, err := adapter.CreateIntent(context.Background(), providers.IntentRequest{
		OrderID:        orderID,
		AmountCents:    10000,
		Currency:       "egp",
		IdempotencyKey: "key-1",
		Metadata:       map[string]string{"email": "buyer@example.com", "first_name": "Nour"},
	})
	require.NoError(t, err)

	assert.Equal(t, "555111", handle.IntentID)
	assert.Equal(t, server.URL+"/acceptance/iframes/880099?payment_token=payment-key", handle.CheckoutURL)
	assert.Equal(t, providers.IntentStatusRequiresAction, handle.Status)

	assert.Equal(t, "auth-token", gotOrder["auth_token"])
	assert.Equal(t, orderID.String()+":key-1", gotOrder["merchant_order_id"])
	assert.Equal(t, "EGP", gotOrder["currency"])
	assert.Equal(t, float64(10000), gotOrder["amount_cents"])

	assert.Equal(t, float64(555111), gotPaymentKey["order_id"])
	assert.Equal(t, float64(44123), gotPaymentKey["integration_id"])
	billing, ok := gotPaymentKey["billing_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "buyer@example.com", billing["email"])
	assert.Equal(t, "Nour", billing["first_name"])
	assert.Equal(t, "NA", billing["street"])
	assert.Equal(t, "EG", billing["country"])
}

func TestServerErrorsAreTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, providers.IsTransient(err))
}

func TestRejectedRequestsAreProtocolErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.Authenticate(context.Background())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeProtocol, typed.Code())
}

func TestRefundSendsAmountOnlyWhenPartial(t *testing.T) {
	var gotRefund map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case authPath:
			_ = json.NewEncoder(w).Encode(map[string]any{"token": "auth-token"})
		case refundPath:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRefund))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 321, "success": true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)
	adapter, err := NewAdapter(client)
	require.NoError(t, err)

	handle, err := adapter.Refund(context.Background(), providers.RefundRequest{
		ChargeID:    "987654",
		AmountCents: 2500,
	})
	require.NoError(t, err)
	assert.Equal(t, "321", handle.RefundID)
	assert.Equal(t, "succeeded", handle.Status)

	assert.Equal(t, "987654", gotRefund["transaction_id"])
	assert.Equal(t, float64(2500), gotRefund["amount_cents"])
}

func TestStatusFromInquiry(t *testing.T) {
	assert.Equal(t, providers.IntentStatusRequiresAction, statusFromInquiry(nil))
	assert.Equal(t, providers.IntentStatusSucceeded, statusFromInquiry(&TransactionInquiry{ID: 1, Success: true}))
	assert.Equal(t, providers.IntentStatusProcessing, statusFromInquiry(&TransactionInquiry{ID: 1, Pending: true}))
	assert.Equal(t, providers.IntentStatusFailed, statusFromInquiry(&TransactionInquiry{ID: 1, ErrorOccurred: true}))
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(config.PaymobConfig{})
	require.Error(t, err)

	cfg := testConfig("https://accept.paymob.com/api")
	cfg.IntegrationID = 0
	_, err = NewClient(cfg)
	require.Error(t, err)
}
