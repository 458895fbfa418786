package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nileshop/nileshop-backend/internal/providers"
	"github.com/nileshop/nileshop-backend/pkg/config"
	pkgerrors "github.com/nileshop/nileshop-backend/pkg/errors"
)

const (
	authPath       = "/auth/tokens"
	ordersPath     = "/ecommerce/orders"
	inquiryPath    = "/ecommerce/orders/transaction_inquiry"
	paymentKeyPath = "/acceptance/payment_keys"
	refundPath     = "/acceptance/void_refund"
	iframePathFmt  = "/acceptance/iframes/%s?payment_token=%s"

	paymentKeyExpirySeconds = 3600
)

// Client talks to the Paymob Accept REST API. Every call chain starts
// with a short-lived auth token, matching how Accept scopes requests.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	integrationID int64
	iframeID      string
}

// NewClient builds a Paymob API client from configuration.
func NewClient(cfg config.PaymobConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paymob api key required")
	}
	if cfg.IntegrationID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paymob integration id required")
	}
	if strings.TrimSpace(cfg.IframeID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paymob iframe id required")
	}
	return &Client{
		httpClient:    &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		integrationID: cfg.IntegrationID,
		iframeID:      cfg.IframeID,
	}, nil
}

// BillingData is the customer block Accept requires on payment keys.
// Fields Accept insists on but we do not collect are sent as "NA".
type BillingData struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	PhoneNumber    string `json:"phone_number"`
	Street         string `json:"street"`
	City           string `json:"city"`
	Country        string `json:"country"`
	Apartment      string `json:"apartment"`
	Floor          string `json:"floor"`
	Building       string `json:"building"`
	ShippingMethod string `json:"shipping_method"`
	PostalCode     string `json:"postal_code"`
	State          string `json:"state"`
}

func (b BillingData) withDefaults() BillingData {
	fill := func(v string) string {
		if strings.TrimSpace(v) == "" {
			return "NA"
		}
		return v
	}
	b.Street = fill(b.Street)
	b.City = fill(b.City)
	b.Apartment = fill(b.Apartment)
	b.Floor = fill(b.Floor)
	b.Building = fill(b.Building)
	b.ShippingMethod = fill(b.ShippingMethod)
	b.PostalCode = fill(b.PostalCode)
	b.State = fill(b.State)
	if strings.TrimSpace(b.Country) == "" {
		b.Country = "EG"
	}
	return b
}

// Authenticate exchanges the API key for a short-lived auth token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, authPath, map[string]any{"api_key": c.apiKey}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", providers.Protocol(nil, "paymob auth response missing token")
	}
	return resp.Token, nil
}

// RegisterOrder creates an Accept-side order mirror. Accept rejects
// duplicate merchant_order_id values, which keeps retries from minting
// parallel orders.
func (c *Client) RegisterOrder(ctx context.Context, authToken, merchantOrderID, currency string, amountCents int64) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	err := c.post(ctx, ordersPath, map[string]any{
		"auth_token":        authToken,
		"delivery_needed":   "false",
		"amount_cents":      amountCents,
		"currency":          currency,
		"merchant_order_id": merchantOrderID,
		"items":             []any{},
	}, &resp)
	if err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, providers.Protocol(nil, "paymob order response missing id")
	}
	return resp.ID, nil
}

// CreatePaymentKey mints the token the checkout iframe is opened with.
func (c *Client) CreatePaymentKey(ctx context.Context, authToken string, paymobOrderID, amountCents int64, currency string, billing BillingData) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.post(ctx, paymentKeyPath, map[string]any{
		"auth_token":     authToken,
		"amount_cents":   amountCents,
		"expiration":     paymentKeyExpirySeconds,
		"order_id":       paymobOrderID,
		"billing_data":   billing.withDefaults(),
		"currency":       currency,
		"integration_id": c.integrationID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", providers.Protocol(nil, "paymob payment key response missing token")
	}
	return resp.Token, nil
}

// IframeURL returns the hosted checkout URL for a payment key.
func (c *Client) IframeURL(paymentKey string) string {
	return c.baseURL + fmt.Sprintf(iframePathFmt, c.iframeID, paymentKey)
}

// TransactionInquiry looks up the transaction settled against an
// Accept order.
type TransactionInquiry struct {
	ID            int64 `json:"id"`
	Success       bool  `json:"success"`
	Pending       bool  `json:"pending"`
	ErrorOccurred bool  `json:"error_occured"`
	IsRefunded    bool  `json:"is_refunded"`
	IsVoided      bool  `json:"is_voided"`
	AmountCents   int64 `json:"amount_cents"`
	Order         struct {
		ID int64 `json:"id"`
	} `json:"order"`
}

// InquireTransaction fetches the transaction state for an Accept order id.
func (c *Client) InquireTransaction(ctx context.Context, authToken string, paymobOrderID int64) (*TransactionInquiry, error) {
	var resp TransactionInquiry
	err := c.post(ctx, inquiryPath, map[string]any{
		"auth_token": authToken,
		"order_id":   paymobOrderID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefundResult is the subset of the void/refund response we act on.
type RefundResult struct {
	ID      int64 `json:"id"`
	Success bool  `json:"success"`
	Pending bool  `json:"pending"`
}

// Refund reverses a settled Accept transaction, partially when
// amountCents is positive.
func (c *Client) Refund(ctx context.Context, authToken, transactionID string, amountCents int64) (*RefundResult, error) {
	payload := map[string]any{
		"auth_token":     authToken,
		"transaction_id": transactionID,
	}
	if amountCents > 0 {
		payload["amount_cents"] = amountCents
	}

	var resp RefundResult
	if err := c.post(ctx, refundPath, payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == 0 {
		return nil, providers.Protocol(nil, "paymob refund response missing id")
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode paymob request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paymob request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Transient(err, "call paymob "+path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return providers.Transient(err, "read paymob response")
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return providers.Transient(fmt.Errorf("status %d: %s", resp.StatusCode, raw), "paymob "+path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return providers.Protocol(fmt.Errorf("status %d: %s", resp.StatusCode, raw), "paymob "+path+" rejected request")
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providers.Protocol(err, "decode paymob response")
	}
	return nil
}
